package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/model"
	"animebite-proxy/internal/service"
)

// ImageHandler serves /api/proxy/image.
type ImageHandler struct {
	service *service.ImageService
	logger  *slog.Logger
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(svc *service.ImageService, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		service: svc,
		logger:  logger.With("component", "image_handler"),
	}
}

// Handle fetches the image named by the url query parameter and streams it
// back with a long-lived cache header.
func (h *ImageHandler) Handle(c echo.Context) error {
	res, err := h.service.Fetch(c.Request().Context(), c.QueryParam("url"))
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = res.Body.Close() }()

	header := c.Response().Header()
	setCORS(header)
	header.Set("Cache-Control", res.CacheControl)
	if res.ContentType != "" {
		header.Set(echo.HeaderContentType, res.ContentType)
	}
	c.Response().WriteHeader(http.StatusOK)

	if _, err := io.Copy(c.Response(), res.Body); err != nil {
		h.logger.Warn("image stream interrupted",
			"err", err,
			"url", client.LogURL(c.QueryParam("url")),
		)
	}
	return nil
}

func (h *ImageHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.JSON(http.StatusBadRequest, model.Fail(service.ErrMissingURL.Error()))
	case errors.Is(err, service.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, model.Fail(service.ErrInvalidURL.Error()))
	}

	var statusErr *service.UpstreamStatusError
	if errors.As(err, &statusErr) {
		return c.NoContent(statusErr.StatusCode)
	}

	h.logger.Error("image proxy error",
		"err", err,
		"url", client.LogURL(c.QueryParam("url")),
	)
	return c.JSON(http.StatusInternalServerError, model.Fail("Failed to proxy image"))
}
