package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"animebite-proxy/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse describes the running proxy without exposing secrets.
type StatusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Catalog CatalogStatus `json:"catalog"`
	Stream  StreamStatus  `json:"stream"`
}

// CatalogStatus reports how catalog calls are cached and throttled.
type CatalogStatus struct {
	URL             string `json:"url"`
	CacheEnabled    bool   `json:"cache_enabled"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
	CacheMaxEntries int    `json:"cache_max_entries"`
	Throttled       bool   `json:"throttled"`
	RequestsPerSec  int    `json:"requests_per_second"`
}

// StreamStatus reports the settings that shape rewritten playlists.
type StreamStatus struct {
	PublicBaseURL        string `json:"public_base_url"`
	Referer              string `json:"referer"`
	RewriteURIAttributes bool   `json:"rewrite_uri_attributes"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	cat, st := h.cfg.Catalog, h.cfg.Stream
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: string(h.version),
		Catalog: CatalogStatus{
			URL:             cat.BaseURL,
			CacheEnabled:    cat.CacheTTLSeconds > 0,
			CacheTTLSeconds: cat.CacheTTLSeconds,
			CacheMaxEntries: cat.CacheMaxEntries,
			Throttled:       cat.RequestsPerSecond > 0,
			RequestsPerSec:  cat.RequestsPerSecond,
		},
		Stream: StreamStatus{
			PublicBaseURL:        st.PublicBaseURL,
			Referer:              st.Referer,
			RewriteURIAttributes: st.RewriteURIAttributes,
		},
	})
}
