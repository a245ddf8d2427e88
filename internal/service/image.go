package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
)

// ImageResult is a fetched image. The caller closes Body.
type ImageResult struct {
	ContentType  string
	CacheControl string
	Body         io.ReadCloser
}

// ImageService fetches poster and thumbnail images from the image CDN.
type ImageService struct {
	client       *client.UpstreamClient
	header       http.Header
	cacheControl string
	logger       *slog.Logger
}

// NewImageService creates an ImageService.
func NewImageService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) *ImageService {
	h := make(http.Header)
	h.Set("User-Agent", cfg.Image.UserAgent)
	h.Set("Accept", cfg.Image.Accept)
	h.Set("Accept-Language", cfg.Image.AcceptLanguage)
	h.Set("Referer", cfg.Image.Referer)

	return &ImageService{
		client:       c,
		header:       h,
		cacheControl: "public, max-age=" + strconv.Itoa(cfg.Image.CacheMaxAgeSeconds),
		logger:       logger.With("component", "image_service"),
	}
}

// Fetch retrieves the image at rawURL. A non-2xx upstream status is returned
// as *UpstreamStatusError so the handler can forward it.
func (s *ImageService) Fetch(ctx context.Context, rawURL string) (*ImageResult, error) {
	target, err := ValidateTarget(rawURL)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Get(ctx, client.TargetImage, target, s.header)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		s.logger.Warn("image upstream failed", "url", client.LogURL(target), "status", resp.StatusCode)
		return nil, fmt.Errorf("fetch image: %w", &UpstreamStatusError{StatusCode: resp.StatusCode})
	}

	return &ImageResult{
		ContentType:  resp.Header.Get("Content-Type"),
		CacheControl: s.cacheControl,
		Body:         resp.Body,
	}, nil
}
