package handler

import (
	"io"
	"log/slog"
	"testing"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
	"animebite-proxy/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(catalogURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  5,
			IdleConnections: 10,
			RetryBackoffMS:  1,
		},
		Stream: config.StreamConfig{
			Referer:    "https://rapid-cloud.co/",
			Origin:     "https://rapid-cloud.co",
			UserAgent:  "test-agent",
			Accept:     "*/*",
			ChunkBytes: 512,
		},
		Image: config.ImageConfig{
			Referer:            "https://hianime.to/",
			UserAgent:          "test-agent",
			Accept:             "image/*",
			CacheMaxAgeSeconds: 86400,
		},
		Catalog: config.CatalogConfig{
			BaseURL:        catalogURL,
			TimeoutSeconds: 5,
		},
	}
}

// newTestHandlers builds the full handler graph against catalogURL.
func newTestHandlers(t *testing.T, catalogURL string, m *metrics.Metrics) Handlers {
	t.Helper()
	cfg := testConfig(catalogURL)
	logger := discardLogger()
	uc := client.NewUpstreamClient(cfg, logger, m)
	rw := hls.NewRewriter("", false)

	catalog, err := service.NewCatalogService(uc, rw, cfg, logger, m)
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}

	return Handlers{
		Stream:  NewStreamHandler(service.NewStreamService(uc, rw, cfg, logger, m), cfg, logger, m),
		Image:   NewImageHandler(service.NewImageService(uc, cfg, logger), logger),
		Catalog: NewCatalogHandler(catalog, logger),
		Health:  NewHealthHandler(cfg, "test"),
	}
}
