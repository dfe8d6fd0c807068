package router

import (
	"net/http"

	"mira-api/internal/handlers"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup configures and returns the HTTP router with all application routes.
// The mux is returned concretely so request logging can resolve route patterns.
func Setup(h *handlers.Handler) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check and metrics
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Asset endpoints
	mux.HandleFunc("POST /assets", h.HandleUpload)
	mux.HandleFunc("GET /assets", h.HandleAssetsList)
	mux.HandleFunc("GET /assets/stats", h.HandleAssetStats)
	mux.HandleFunc("POST /assets/delete", h.HandleAssetsBatchDelete)
	mux.HandleFunc("GET /assets/{id}", h.HandleAssetGet)
	mux.HandleFunc("PATCH /assets/{id}", h.HandleAssetUpdate)
	mux.HandleFunc("DELETE /assets/{id}", h.HandleAssetDelete)
	mux.HandleFunc("GET /assets/{id}/preview", h.HandleAssetPreview)
	mux.HandleFunc("GET /assets/{id}/download", h.HandleAssetDownload)

	// Address lookup
	mux.HandleFunc("GET /address/suggest", h.HandleAddressSuggest)
	mux.HandleFunc("GET /address/locate", h.HandleAddressLocate)

	// Administration
	mux.HandleFunc("GET /audit", h.HandleAuditList)
	mux.HandleFunc("POST /drive/sync", h.HandleDriveSync)

	return mux
}
