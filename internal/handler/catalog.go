package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"animebite-proxy/internal/model"
	"animebite-proxy/internal/service"
)

const noSourcesMessage = "No streaming sources available for this server/category combination"

// CatalogHandler serves the /api metadata routes.
type CatalogHandler struct {
	service *service.CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(svc *service.CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		service: svc,
		logger:  logger.With("component", "catalog_handler"),
	}
}

func (h *CatalogHandler) Home(c echo.Context) error {
	return h.respond(c, "Failed to fetch home data", func(ctx context.Context) (any, error) {
		return h.service.Home(ctx)
	})
}

func (h *CatalogHandler) Anime(c echo.Context) error {
	return h.respond(c, "Failed to fetch anime details", func(ctx context.Context) (any, error) {
		return h.service.Anime(ctx, c.Param("id"))
	})
}

func (h *CatalogHandler) Episodes(c echo.Context) error {
	return h.respond(c, "Failed to fetch episodes", func(ctx context.Context) (any, error) {
		return h.service.Episodes(ctx, c.Param("id"))
	})
}

func (h *CatalogHandler) NextEpisodeSchedule(c echo.Context) error {
	return h.respond(c, "Failed to fetch next episode schedule", func(ctx context.Context) (any, error) {
		return h.service.NextEpisodeSchedule(ctx, c.Param("id"))
	})
}

func (h *CatalogHandler) EpisodeServers(c echo.Context) error {
	return h.respond(c, "Failed to fetch episode servers", func(ctx context.Context) (any, error) {
		return h.service.EpisodeServers(ctx, c.QueryParam("animeEpisodeId"))
	})
}

func (h *CatalogHandler) EpisodeSources(c echo.Context) error {
	return h.respond(c, "Failed to fetch streaming sources", func(ctx context.Context) (any, error) {
		return h.service.EpisodeSources(ctx,
			c.QueryParam("animeEpisodeId"),
			c.QueryParam("server"),
			c.QueryParam("category"),
		)
	})
}

func (h *CatalogHandler) Search(c echo.Context) error {
	return h.respond(c, "Failed to search anime", func(ctx context.Context) (any, error) {
		return h.service.Search(ctx, c.QueryParams())
	})
}

func (h *CatalogHandler) Suggestions(c echo.Context) error {
	return h.respond(c, "Failed to fetch suggestions", func(ctx context.Context) (any, error) {
		return h.service.Suggestions(ctx, c.QueryParam("q"))
	})
}

func (h *CatalogHandler) Schedule(c echo.Context) error {
	return h.respond(c, "Failed to fetch schedule", func(ctx context.Context) (any, error) {
		return h.service.Schedule(ctx, c.Param("date"))
	})
}

func (h *CatalogHandler) Category(c echo.Context) error {
	return h.respond(c, "Failed to fetch category anime", func(ctx context.Context) (any, error) {
		return h.service.Category(ctx, c.Param("name"), c.QueryParam("page"))
	})
}

func (h *CatalogHandler) Genre(c echo.Context) error {
	return h.respond(c, "Failed to fetch genre anime", func(ctx context.Context) (any, error) {
		return h.service.Genre(ctx, c.Param("name"), c.QueryParam("page"))
	})
}

func (h *CatalogHandler) Producer(c echo.Context) error {
	return h.respond(c, "Failed to fetch producer anime", func(ctx context.Context) (any, error) {
		return h.service.Producer(ctx, c.Param("name"), c.QueryParam("page"))
	})
}

func (h *CatalogHandler) AZList(c echo.Context) error {
	return h.respond(c, "Failed to fetch A-Z list", func(ctx context.Context) (any, error) {
		return h.service.AZList(ctx, c.Param("sort"), c.QueryParam("page"))
	})
}

// respond runs fetch and writes its result as JSON, or the route's failure
// message when it fails.
func (h *CatalogHandler) respond(c echo.Context, failure string, fetch func(context.Context) (any, error)) error {
	data, err := fetch(c.Request().Context())
	if err != nil {
		return h.mapError(c, err, failure)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *CatalogHandler) mapError(c echo.Context, err error, failure string) error {
	var paramErr *service.ParamError
	if errors.As(err, &paramErr) {
		return c.JSON(http.StatusBadRequest, model.Fail(paramErr.Error()))
	}
	if errors.Is(err, service.ErrNoSources) {
		h.logger.Warn("no sources", "path", c.Request().URL.Path, "episode", c.QueryParam("animeEpisodeId"))
		return c.JSON(http.StatusNotFound, model.Fail(noSourcesMessage))
	}

	h.logger.Error("catalog error",
		"err", err,
		"path", c.Request().URL.Path,
	)
	return c.JSON(http.StatusInternalServerError, model.Fail(failure))
}
