package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
	"animebite-proxy/internal/model"
)

// maxManifestBytes bounds how much playlist text is buffered for rewriting.
const maxManifestBytes = 8 << 20

// StreamKind is the payload kind of a stream proxy response.
type StreamKind string

const (
	KindManifest StreamKind = "manifest"
	KindSegment  StreamKind = "segment"
)

// droppedSegmentHeaders are upstream headers never forwarded with a segment.
// The transport-level ones are set by the server itself; the rest would
// conflict with the proxy's own CORS policy or leak the origin's cookies.
var droppedSegmentHeaders = map[string]bool{
	"Content-Encoding":  true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Trailer":           true,
	"Upgrade":           true,
	"Set-Cookie":        true,
}

// StreamResult is what the stream proxy sends back. Exactly one of Manifest
// or Body is meaningful, depending on Kind. The caller closes Body.
type StreamResult struct {
	Kind       StreamKind
	StatusCode int
	Header     http.Header
	Manifest   string
	Playlist   hls.PlaylistInfo
	Body       io.ReadCloser
}

// StreamService fetches media from the CDN and prepares it for the player.
type StreamService struct {
	client   *client.UpstreamClient
	rewriter *hls.Rewriter
	header   http.Header
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewStreamService creates a StreamService. The metrics parameter is optional.
func NewStreamService(c *client.UpstreamClient, rw *hls.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *StreamService {
	h := make(http.Header)
	h.Set("Referer", cfg.Stream.Referer)
	h.Set("Origin", cfg.Stream.Origin)
	h.Set("User-Agent", cfg.Stream.UserAgent)
	h.Set("Accept", cfg.Stream.Accept)
	h.Set("Accept-Language", cfg.Stream.AcceptLanguage)

	return &StreamService{
		client:   c,
		rewriter: rw,
		header:   h,
		logger:   logger.With("component", "stream_service"),
		metrics:  m,
	}
}

// Fetch retrieves req.TargetURL and classifies it. Playlists are read in full
// and rewritten; segments are returned with their body still unread.
func (s *StreamService) Fetch(ctx context.Context, req model.StreamRequest) (*StreamResult, error) {
	target, err := ValidateTarget(req.TargetURL)
	if err != nil {
		return nil, err
	}

	// Playlists are rewritten whole, so a byte range is only forwarded when
	// the URL does not already name one.
	header := s.header.Clone()
	if req.Range != "" && !hls.IsManifest(target, "") {
		header.Set("Range", req.Range)
		if req.IfRange != "" {
			header.Set("If-Range", req.IfRange)
		}
	}

	resp, err := s.get(ctx, target, header)
	if err != nil {
		return nil, err
	}

	if hls.IsManifest(target, resp.Header.Get("Content-Type")) {
		if resp.StatusCode == http.StatusPartialContent {
			// Only the content type revealed a playlist; fetch it again in full.
			_ = resp.Body.Close()
			if resp, err = s.get(ctx, target, s.header); err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusPartialContent {
				_ = resp.Body.Close()
				return nil, fmt.Errorf("fetch stream: %w", ErrPartialManifest)
			}
		}
		defer func() { _ = resp.Body.Close() }()
		return s.rewrite(target, resp)
	}

	s.observe(KindSegment)
	return &StreamResult{
		Kind:       KindSegment,
		StatusCode: resp.StatusCode,
		Header:     segmentHeader(resp.Header, req.Range != ""),
		Body:       resp.Body,
	}, nil
}

// get fetches target and turns a non-2xx status into *UpstreamStatusError.
func (s *StreamService) get(ctx context.Context, target string, header http.Header) (*model.UpstreamResponse, error) {
	resp, err := s.client.Get(ctx, client.TargetStream, target, header)
	if err != nil {
		return nil, fmt.Errorf("fetch stream: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch stream: %w", &UpstreamStatusError{StatusCode: resp.StatusCode})
	}
	return resp, nil
}

func (s *StreamService) rewrite(target string, resp *model.UpstreamResponse) (*StreamResult, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read playlist: %w", err)
	}
	if len(raw) > maxManifestBytes {
		return nil, ErrManifestTooLarge
	}

	body := string(raw)
	out, n := s.rewriter.Rewrite(body, target)
	info := hls.Inspect(body)

	s.logger.Debug("playlist rewritten",
		"url", client.LogURL(target),
		"playlist", info.Kind,
		"variants", info.Variants,
		"segments", info.Segments,
		"uris", n,
	)
	s.observe(KindManifest)
	if s.metrics != nil {
		s.metrics.ManifestURIs.Add(float64(n))
	}

	h := make(http.Header)
	h.Set("Content-Type", hls.ContentType)
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	return &StreamResult{
		Kind:       KindManifest,
		StatusCode: http.StatusOK,
		Header:     h,
		Manifest:   out,
		Playlist:   info,
	}, nil
}

func (s *StreamService) observe(kind StreamKind) {
	if s.metrics != nil {
		s.metrics.StreamResponses.WithLabelValues(string(kind)).Inc()
	}
}

// segmentHeader copies forwardable upstream headers. Upstream CORS headers are
// dropped; the handler applies its own.
func segmentHeader(src http.Header, ranged bool) http.Header {
	dst := make(http.Header, len(src)+1)
	for key, vals := range src {
		ck := http.CanonicalHeaderKey(key)
		if droppedSegmentHeaders[ck] || strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		dst[ck] = append([]string(nil), vals...)
	}
	if ranged {
		dst.Set("Accept-Ranges", "bytes")
	}
	return dst
}
