// Package client provides the outbound HTTP client shared by the stream,
// image and catalog proxies.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"animebite-proxy/internal/config"
	"animebite-proxy/internal/metrics"
	"animebite-proxy/internal/model"
)

// Target labels an outbound call for logs and metrics.
type Target string

const (
	TargetStream  Target = "stream"
	TargetImage   Target = "image"
	TargetCatalog Target = "catalog"
)

// UpstreamClient issues GET requests to third-party origins.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxRetries int
	backoff    time.Duration
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// There is no overall client timeout: segment bodies may legitimately stream for
// longer than any fixed bound. The wait for response headers is bounded instead.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
		maxRetries: cfg.Upstream.MaxRetries,
		backoff:    time.Duration(cfg.Upstream.RetryBackoffMS) * time.Millisecond,
	}
}

// Get fetches rawURL with the given headers. Network errors and 5xx responses
// are retried up to the configured bound; a 5xx that survives every retry is
// returned as a response, not an error. The caller closes the response body.
// Canceling ctx (e.g. client disconnect) cancels the upstream request.
func (c *UpstreamClient) Get(ctx context.Context, target Target, rawURL string, header http.Header) (*model.UpstreamResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.UpstreamRetries.WithLabelValues(string(target)).Inc()
			}
			if err := c.wait(ctx, attempt); err != nil {
				return nil, fmt.Errorf("upstream request: %w", errors.Join(lastErr, err))
			}
		}

		resp, err := c.do(ctx, target, rawURL, header)
		if err != nil {
			lastErr = err
			if attempt < c.maxRetries && ctx.Err() == nil {
				c.logger.Debug("retrying upstream request", "target", target, "url", LogURL(rawURL), "attempt", attempt+1, "err", err)
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= http.StatusInternalServerError && attempt < c.maxRetries {
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			c.logger.Debug("retrying upstream request", "target", target, "url", LogURL(rawURL), "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		return resp, nil
	}
}

func (c *UpstreamClient) do(ctx context.Context, target Target, rawURL string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	c.logger.Debug("upstream request",
		"target", target,
		"url", LogURL(rawURL),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(string(target)).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(string(target), strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// wait sleeps for a linear backoff or until ctx is done.
func (c *UpstreamClient) wait(ctx context.Context, attempt int) error {
	if c.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// LogURL strips the query and fragment from rawURL. CDN URLs often carry
// signed tokens that must not reach the logs.
func LogURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
