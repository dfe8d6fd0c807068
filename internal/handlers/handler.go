package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "mira-api/internal/errors"
	"mira-api/internal/middleware"
	"mira-api/internal/models"
	"mira-api/internal/services"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxJSONBody = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Deps are the services the HTTP layer calls into. Drive may be nil.
type Deps struct {
	Assets         *services.AssetService
	Ingest         *services.IngestService
	Suggest        *services.SuggestService
	Geocoder       services.Geocoder
	Audit          *services.AuditService
	Drive          *services.DriveImporter
	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Handler struct {
	assets         *services.AssetService
	ingest         *services.IngestService
	suggest        *services.SuggestService
	geocoder       services.Geocoder
	audit          *services.AuditService
	drive          *services.DriveImporter
	maxUploadBytes int64
	logger         *zap.Logger
}

func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		assets:         deps.Assets,
		ingest:         deps.Ingest,
		suggest:        deps.Suggest,
		geocoder:       deps.Geocoder,
		audit:          deps.Audit,
		drive:          deps.Drive,
		maxUploadBytes: deps.MaxUploadBytes,
		logger:         logger.Named("http"),
	}
}

// actor returns the authenticated caller, writing a 401 when there is none.
func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError maps service errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrInvalidInput):
		http.Error(w, "Invalid input", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrUnauthorized):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrForbidden):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.RequestIDFrom(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %v: %w", err, apperrors.ErrInvalidInput)
	}
	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("field %s failed %q: %w", fieldErrs[0].Field(), fieldErrs[0].Tag(), apperrors.ErrInvalidInput)
		}
		return fmt.Errorf("validate body: %v: %w", err, apperrors.ErrInvalidInput)
	}
	return nil
}

// pathID reads and sanity-checks the {id} path segment.
func pathID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" || len(id) > 128 || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("bad asset id: %w", apperrors.ErrInvalidInput)
	}
	return id, nil
}
