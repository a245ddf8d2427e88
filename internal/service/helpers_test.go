package service

import (
	"io"
	"log/slog"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
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
			Referer:        "https://rapid-cloud.co/",
			Origin:         "https://rapid-cloud.co",
			UserAgent:      "test-agent",
			Accept:         "*/*",
			AcceptLanguage: "en-US,en;q=0.9",
			ChunkBytes:     1024,
		},
		Image: config.ImageConfig{
			Referer:            "https://hianime.to/",
			UserAgent:          "test-agent",
			Accept:             "image/*",
			AcceptLanguage:     "en-US,en;q=0.9",
			CacheMaxAgeSeconds: 86400,
		},
		Catalog: config.CatalogConfig{
			BaseURL:         catalogURL,
			TimeoutSeconds:  5,
			CacheMaxEntries: 100,
		},
	}
}

func newTestStreamService(cfg *config.Config, m *metrics.Metrics) *StreamService {
	c := client.NewUpstreamClient(cfg, discardLogger(), m)
	return NewStreamService(c, hls.NewRewriter("", false), cfg, discardLogger(), m)
}
