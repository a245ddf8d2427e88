package handler

import (
	"github.com/labstack/echo/v4"

	"animebite-proxy/internal/hls"
)

// Handlers groups the route handlers for registration.
type Handlers struct {
	Stream  *StreamHandler
	Image   *ImageHandler
	Catalog *CatalogHandler
	Health  *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance. Middleware
// passed as catalogMW applies to the metadata routes only; proxied media is
// never re-encoded.
func RegisterRoutes(e *echo.Echo, h Handlers, catalogMW ...echo.MiddlewareFunc) {
	e.GET("/healthz", h.Health.Healthz)
	e.GET("/proxy/status", h.Health.Status)

	e.GET(hls.StreamPath, h.Stream.Handle)
	e.OPTIONS(hls.StreamPath, Preflight)
	e.GET(hls.ImagePath, h.Image.Handle)
	e.OPTIONS(hls.ImagePath, Preflight)

	api := e.Group("/api", catalogMW...)
	api.GET("/home", h.Catalog.Home)
	api.GET("/anime/:id", h.Catalog.Anime)
	api.GET("/anime/:id/episodes", h.Catalog.Episodes)
	api.GET("/anime/:id/next-episode-schedule", h.Catalog.NextEpisodeSchedule)
	api.GET("/episode/servers", h.Catalog.EpisodeServers)
	api.GET("/episode/sources", h.Catalog.EpisodeSources)
	api.GET("/search", h.Catalog.Search)
	api.GET("/search/suggestions", h.Catalog.Suggestions)
	api.GET("/schedule/:date", h.Catalog.Schedule)
	api.GET("/category/:name", h.Catalog.Category)
	api.GET("/genre/:name", h.Catalog.Genre)
	api.GET("/producer/:name", h.Catalog.Producer)
	api.GET("/azlist/:sort", h.Catalog.AZList)
}
