package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "mira-api/internal/errors"
	"mira-api/internal/models"
	"mira-api/internal/services"

	"go.uber.org/zap"
)

const (
	multipartMemory = 32 << 20
	defaultPageSize = 1000
)

// HandleUpload ingests one batch of uploaded files.
//
//	@Summary		Upload media
//	@Description	Ingest a batch of images and videos, extracting GPS metadata from each
//	@Tags			assets
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file			formData	file	true	"Media files (repeatable, at most 500)"
//	@Param			lastModified	formData	int		false	"File modification time in ms, one per file"
//	@Success		201				{object}	services.IngestResult
//	@Failure		400				{string}	string	"Bad Request"
//	@Failure		413				{string}	string	"Request Entity Too Large"
//	@Security		BearerAuth
//	@Router			/assets [post]
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Debug("failed to remove multipart temp files", zap.Error(err))
		}
	}()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	if len(headers) > services.MaxBatchFiles {
		http.Error(w, fmt.Sprintf("At most %d files per upload", services.MaxBatchFiles), http.StatusBadRequest)
		return
	}

	files := uploadFiles(headers, r.MultipartForm.Value["lastModified"])
	result, err := h.ingest.IngestBatch(r.Context(), actor, files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func uploadFiles(headers []*multipart.FileHeader, lastModified []string) []models.UploadFile {
	files := make([]models.UploadFile, len(headers))
	for i, fh := range headers {
		var modTime time.Time
		if i < len(lastModified) {
			if ms, err := strconv.ParseInt(strings.TrimSpace(lastModified[i]), 10, 64); err == nil && ms > 0 {
				modTime = time.UnixMilli(ms)
			}
		}
		files[i] = models.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			ModTime:     modTime,
			Open: func() (io.ReadCloser, error) {
				f, err := fh.Open()
				if err != nil {
					return nil, err
				}
				return f, nil
			},
		}
	}
	return files
}

// HandleAssetsList returns the filtered asset list.
//
//	@Summary		List assets
//	@Description	List assets, optionally filtered by type, GPS status and free text
//	@Tags			assets
//	@Produce		json
//	@Param			type	query		string	false	"image or video"
//	@Param			gps		query		string	false	"geolocated or none"
//	@Param			q		query		string	false	"Text matched against name, address and observation"
//	@Param			limit	query		int		false	"Page size (max 1000, default 1000)"	default(1000)
//	@Param			page	query		int		false	"Page number (0-indexed)"				default(0)
//	@Success		200		{array}		services.AssetView
//	@Failure		400		{string}	string	"Bad Request"
//	@Security		BearerAuth
//	@Router			/assets [get]
func (h *Handler) HandleAssetsList(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	assets, err := h.assets.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	views := make([]services.AssetView, len(assets))
	for i, a := range assets {
		views[i] = services.NewAssetView(a, actor)
	}
	h.writeJSON(w, http.StatusOK, views)
}

func parseFilter(r *http.Request) (models.AssetFilter, error) {
	query := r.URL.Query()
	filter := models.AssetFilter{
		Text:  strings.TrimSpace(query.Get("q")),
		Limit: defaultPageSize,
	}

	switch kind := models.MediaKind(query.Get("type")); kind {
	case "", "all":
	case models.KindImage, models.KindVideo:
		filter.Kind = kind
	default:
		return filter, fmt.Errorf("unknown type %q: %w", kind, apperrors.ErrInvalidInput)
	}

	switch gps := query.Get("gps"); gps {
	case "", "all":
	case "geolocated", "none":
		filter.GPS = gps
	default:
		return filter, fmt.Errorf("unknown gps filter %q: %w", gps, apperrors.ErrInvalidInput)
	}

	var err error
	if filter.Limit, err = intParam(query.Get("limit"), defaultPageSize); err != nil {
		return filter, err
	}
	if filter.Page, err = intParam(query.Get("page"), 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q: %w", raw, apperrors.ErrInvalidInput)
	}
	return n, nil
}

// HandleAssetStats returns collection counters.
//
//	@Summary		Asset statistics
//	@Tags			assets
//	@Produce		json
//	@Success		200	{object}	models.AssetStats
//	@Security		BearerAuth
//	@Router			/assets/stats [get]
func (h *Handler) HandleAssetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.assets.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// HandleAssetGet returns one asset, resolving its address when GPS is known
// but the address is still empty.
//
//	@Summary		Get an asset
//	@Tags			assets
//	@Produce		json
//	@Param			id	path		string	true	"Asset ID"
//	@Success		200	{object}	services.AssetView
//	@Failure		404	{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/assets/{id} [get]
func (h *Handler) HandleAssetGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.assets.Get(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleAssetUpdate saves the address and observation of an asset.
//
//	@Summary		Update an asset
//	@Description	Address changes are ignored once the address is locked to GPS
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Asset ID"
//	@Param			body	body		models.AssetEdit	true	"Fields to change"
//	@Success		200		{object}	services.AssetView
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		403		{string}	string	"Forbidden"
//	@Failure		404		{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/assets/{id} [patch]
func (h *Handler) HandleAssetUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var edit models.AssetEdit
	if err := decodeBody(w, r, &edit); err != nil {
		h.writeError(w, r, err)
		return
	}

	view, err := h.assets.Update(r.Context(), actor, id, edit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// HandleAssetDelete deletes a single asset.
//
//	@Summary		Delete an asset
//	@Tags			assets
//	@Produce		json
//	@Param			id	path		string	true	"Asset ID"
//	@Success		200	{object}	map[string][]string
//	@Failure		403	{string}	string	"Forbidden"
//	@Failure		404	{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/assets/{id} [delete]
func (h *Handler) HandleAssetDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.deleteAssets(w, r, actor, []string{id})
}

// HandleAssetsBatchDelete deletes every listed asset the caller may delete.
//
//	@Summary		Delete assets
//	@Description	Only assets the caller owns (or every asset, for ADM) are deleted
//	@Tags			assets
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.BatchDeleteRequest	true	"Asset IDs"
//	@Success		200		{object}	map[string][]string
//	@Failure		400		{string}	string	"Bad Request"
//	@Failure		403		{string}	string	"Forbidden"
//	@Security		BearerAuth
//	@Router			/assets/delete [post]
func (h *Handler) HandleAssetsBatchDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req models.BatchDeleteRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.deleteAssets(w, r, actor, req.Ids)
}

func (h *Handler) deleteAssets(w http.ResponseWriter, r *http.Request, actor models.Actor, ids []string) {
	removed, err := h.assets.Delete(r.Context(), actor, ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"deleted": removed})
}

// HandleAssetPreview serves the image thumbnail.
//
//	@Summary		Asset preview
//	@Tags			assets
//	@Produce		image/jpeg
//	@Param			id	path		string	true	"Asset ID"
//	@Success		200	{file}		binary
//	@Failure		404	{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/assets/{id}/preview [get]
func (h *Handler) HandleAssetPreview(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.assets.Preview(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "private, max-age=900") // 15 min
	h.writeBlob(w, entry, "inline")
}

// HandleAssetDownload serves the original file and records the download.
//
//	@Summary		Download an asset
//	@Tags			assets
//	@Produce		octet-stream
//	@Param			id	path		string	true	"Asset ID"
//	@Success		200	{file}		binary
//	@Failure		404	{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/assets/{id}/download [get]
func (h *Handler) HandleAssetDownload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	entry, err := h.assets.Download(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeBlob(w, entry, "attachment")
}

func (h *Handler) writeBlob(w http.ResponseWriter, entry *models.CacheEntry, disposition string) {
	contentType := entry.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Data)))
	if entry.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": entry.FileName}))
	}
	if _, err := w.Write(entry.Data); err != nil {
		h.logger.Debug("failed to write blob", zap.Error(err))
	}
}
