package handlers

import (
	"net/http"
	"strings"

	"mira-api/internal/models"

	"go.uber.org/zap"
)

const defaultAuditLimit = 200

// HandleAuditList returns the most recent audit entries. ADM only.
//
//	@Summary		Audit log
//	@Tags			audit
//	@Produce		json
//	@Param			limit	query		int		false	"Maximum entries (default 200)"
//	@Param			q		query		string	false	"Filter on user name or action"
//	@Success		200		{array}		models.AuditLog
//	@Failure		403		{string}	string	"Forbidden"
//	@Security		BearerAuth
//	@Router			/audit [get]
func (h *Handler) HandleAuditList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	limit, err := intParam(query.Get("limit"), defaultAuditLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	search := strings.ToLower(strings.TrimSpace(query.Get("q")))
	fetch := limit
	if search != "" {
		// Filter over the whole log, then cut
		fetch = 0
	}

	entries, err := h.audit.List(r.Context(), fetch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if search != "" {
		filtered := make([]models.AuditLog, 0, len(entries))
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.UserName), search) || strings.Contains(strings.ToLower(e.Action), search) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	}

	if entries == nil {
		entries = []models.AuditLog{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// HandleDriveSync imports new files from the configured Drive folder. ADM only.
//
//	@Summary		Sync Google Drive
//	@Tags			drive
//	@Produce		json
//	@Success		200	{object}	services.SyncReport
//	@Failure		403	{string}	string	"Forbidden"
//	@Failure		503	{string}	string	"Drive sync not configured"
//	@Security		BearerAuth
//	@Router			/drive/sync [post]
func (h *Handler) HandleDriveSync(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if h.drive == nil {
		http.Error(w, "Drive sync not configured", http.StatusServiceUnavailable)
		return
	}

	report, err := h.drive.Sync(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("manual drive sync", zap.String("user", actor.Id), zap.Int("imported", report.Imported))
	h.writeJSON(w, http.StatusOK, report)
}
