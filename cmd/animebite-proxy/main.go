package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/handler"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
	"animebite-proxy/internal/middleware"
	"animebite-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("animebite-proxy"),
		kong.Description("HLS stream, image and metadata proxy for the anime streaming site."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			newRewriter,
			client.NewUpstreamClient,
			service.NewStreamService,
			service.NewImageService,
			service.NewCatalogService,
			handler.NewStreamHandler,
			handler.NewImageHandler,
			handler.NewCatalogHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newMetrics returns nil when metrics are disabled; every consumer treats
// a nil *metrics.Metrics as "don't record".
func newMetrics(cfg *config.Config) *metrics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

func newRewriter(cfg *config.Config) *hls.Rewriter {
	return hls.NewRewriter(cfg.Stream.PublicBaseURL, cfg.Stream.RewriteURIAttributes)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays 0: a segment stream lasts as long as the player
	// keeps reading. The upstream response-header timeout, ReadTimeout and
	// IdleTimeout bound everything else.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if m != nil {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}

	if rl := cfg.Server.RateLimit; rl.Enabled {
		e.Use(middleware.RateLimiter(rl.RequestsPerSecond, rl.Burst, "/healthz", "/proxy/status", cfg.Metrics.Path))
		logger.Info("rate limiter enabled", "rps", rl.RequestsPerSecond, "burst", rl.Burst)
	}

	return e
}

func registerRoutes(
	e *echo.Echo,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
	stream *handler.StreamHandler,
	image *handler.ImageHandler,
	catalog *handler.CatalogHandler,
	health *handler.HealthHandler,
) {
	handler.RegisterRoutes(e, handler.Handlers{
		Stream:  stream,
		Image:   image,
		Catalog: catalog,
		Health:  health,
	}, middleware.Gzip(logger))

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"catalog_url", cfg.Catalog.BaseURL,
				"public_base_url", cfg.Stream.PublicBaseURL,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
