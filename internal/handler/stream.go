package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/metrics"
	"animebite-proxy/internal/model"
	"animebite-proxy/internal/pump"
	"animebite-proxy/internal/service"
)

// StreamHandler serves /api/proxy/stream: rewritten playlists and piped segments.
type StreamHandler struct {
	service   *service.StreamService
	chunkSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewStreamHandler creates a StreamHandler. The metrics parameter is optional.
func NewStreamHandler(svc *service.StreamService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamHandler {
	return &StreamHandler{
		service:   svc,
		chunkSize: cfg.Stream.ChunkBytes,
		logger:    logger.With("component", "stream_handler"),
		metrics:   m,
	}
}

// Handle fetches the url query parameter through the CDN and relays it.
func (h *StreamHandler) Handle(c echo.Context) error {
	req := c.Request()
	setCORS(c.Response().Header())

	res, err := h.service.Fetch(req.Context(), model.StreamRequest{
		TargetURL: c.QueryParam("url"),
		Range:     req.Header.Get("Range"),
		IfRange:   req.Header.Get("If-Range"),
	})
	if err != nil {
		return h.mapError(c, err)
	}

	if res.Kind == service.KindManifest {
		copyHeader(c.Response().Header(), res.Header)
		return c.Blob(res.StatusCode, res.Header.Get(echo.HeaderContentType), []byte(res.Manifest))
	}

	defer func() { _ = res.Body.Close() }()
	copyHeader(c.Response().Header(), res.Header)
	c.Response().WriteHeader(res.StatusCode)

	// Headers are committed from here on; a failed copy can only end the
	// response early.
	n, err := pump.Copy(req.Context(), c.Response(), res.Body, h.chunkSize)
	if h.metrics != nil {
		h.metrics.StreamBytes.Add(float64(n))
	}
	if err != nil {
		h.logPumpError(c, err, n)
	}
	return nil
}

func (h *StreamHandler) logPumpError(c echo.Context, err error, written int64) {
	target := client.LogURL(c.QueryParam("url"))
	if pump.ClientGone(err) {
		h.countPumpError("client_gone")
		h.logger.Warn("segment stream ended by client", "err", err, "url", target, "bytes", written)
		return
	}
	h.countPumpError("upstream")
	h.logger.Error("segment stream failed", "err", err, "url", target, "bytes", written)
}

func (h *StreamHandler) countPumpError(reason string) {
	if h.metrics != nil {
		h.metrics.StreamPumpErrors.WithLabelValues(reason).Inc()
	}
}

func (h *StreamHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.JSON(http.StatusBadRequest, model.Fail(service.ErrMissingURL.Error()))
	case errors.Is(err, service.ErrInvalidURL):
		return c.JSON(http.StatusBadRequest, model.Fail(service.ErrInvalidURL.Error()))
	}

	h.logger.Error("stream proxy error",
		"err", err,
		"url", client.LogURL(c.QueryParam("url")),
	)
	return c.JSON(http.StatusInternalServerError, model.Fail("Failed to proxy video stream"))
}

func copyHeader(dst, src http.Header) {
	for key, vals := range src {
		dst.Del(key)
		for _, v := range vals {
			dst.Add(key, v)
		}
	}
}
