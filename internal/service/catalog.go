package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/maypok86/otter/v2"
	"go.uber.org/ratelimit"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
)

// maxCatalogBytes bounds a single metadata API response.
const maxCatalogBytes = 16 << 20

const apiPrefix = "/api/v2/hianime"

// categoryAliases maps site category slugs to metadata API slugs.
var categoryAliases = map[string]string{
	"trending":         "most-popular",
	"recently-updated": "recently-updated",
	"top-airing":       "top-airing",
	"top-upcoming":     "top-upcoming",
}

// azSortAll are A-Z sort options served from the unfiltered list.
var azSortAll = map[string]bool{
	"recently-added":   true,
	"recently-updated": true,
	"score":            true,
	"a-z":              true,
}

// CatalogService relays the anime metadata API and relabels media URLs so
// they route through the image and stream proxies.
type CatalogService struct {
	client   *client.UpstreamClient
	baseURL  string
	timeout  time.Duration
	cache    *otter.Cache[string, []byte]
	limiter  ratelimit.Limiter
	rewriter *hls.Rewriter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewCatalogService creates a CatalogService. The response cache is enabled
// when catalog.cache_ttl_seconds > 0 and the outbound limiter when
// catalog.requests_per_second > 0. The metrics parameter is optional.
func NewCatalogService(c *client.UpstreamClient, rw *hls.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*CatalogService, error) {
	s := &CatalogService{
		client:   c,
		baseURL:  cfg.Catalog.BaseURL,
		timeout:  time.Duration(cfg.Catalog.TimeoutSeconds) * time.Second,
		rewriter: rw,
		logger:   logger.With("component", "catalog_service"),
		metrics:  m,
	}

	if ttl := time.Duration(cfg.Catalog.CacheTTLSeconds) * time.Second; ttl > 0 {
		cache, err := otter.New(&otter.Options[string, []byte]{
			MaximumSize:      cfg.Catalog.CacheMaxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, []byte](ttl),
		})
		if err != nil {
			return nil, fmt.Errorf("create catalog cache: %w", err)
		}
		s.cache = cache
	}
	if rps := cfg.Catalog.RequestsPerSecond; rps > 0 {
		s.limiter = ratelimit.New(rps)
	}
	return s, nil
}

// Home returns the landing page payload.
func (s *CatalogService) Home(ctx context.Context) (any, error) {
	return s.fetchPosters(ctx, apiPrefix+"/home")
}

// Anime returns details for one title.
func (s *CatalogService) Anime(ctx context.Context, id string) (any, error) {
	return s.fetchPosters(ctx, apiPrefix+"/anime/"+url.PathEscape(id))
}

// Episodes returns the episode list for a title.
func (s *CatalogService) Episodes(ctx context.Context, id string) (any, error) {
	return s.fetch(ctx, apiPrefix+"/anime/"+url.PathEscape(id)+"/episodes")
}

// NextEpisodeSchedule returns when the next episode of a title airs.
func (s *CatalogService) NextEpisodeSchedule(ctx context.Context, id string) (any, error) {
	return s.fetchPosters(ctx, apiPrefix+"/anime/"+url.PathEscape(id)+"/next-episode-schedule")
}

// EpisodeServers lists the servers hosting an episode.
func (s *CatalogService) EpisodeServers(ctx context.Context, episodeID string) (any, error) {
	if episodeID == "" {
		return nil, &ParamError{Name: "animeEpisodeId"}
	}
	q := url.Values{"animeEpisodeId": {episodeID}}
	return s.fetch(ctx, apiPrefix+"/episode/servers?"+q.Encode())
}

// EpisodeSources returns playable sources for an episode with every source
// and subtitle track rewritten to the stream proxy. ErrNoSources is returned
// when the server/category combination has none.
func (s *CatalogService) EpisodeSources(ctx context.Context, episodeID, server, category string) (any, error) {
	if episodeID == "" {
		return nil, &ParamError{Name: "animeEpisodeId"}
	}
	q := url.Values{"animeEpisodeId": {episodeID}}
	if server != "" {
		q.Set("server", server)
	}
	if category != "" {
		q.Set("category", category)
	}

	v, err := s.fetch(ctx, apiPrefix+"/episode/sources?"+q.Encode())
	if err != nil {
		return nil, err
	}
	n, err := s.rewriteSources(v)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("episode sources", "episode", episodeID, "sources", n)
	return v, nil
}

// Search relays a search with every non-empty query parameter.
func (s *CatalogService) Search(ctx context.Context, params url.Values) (any, error) {
	q := make(url.Values)
	for k, vals := range params {
		if len(vals) > 0 && vals[0] != "" {
			q.Set(k, vals[0])
		}
	}
	return s.fetchPosters(ctx, apiPrefix+"/search?"+q.Encode())
}

// Suggestions returns search-as-you-type suggestions.
func (s *CatalogService) Suggestions(ctx context.Context, query string) (any, error) {
	if query == "" {
		return nil, &ParamError{Name: "q", Message: "q parameter is required"}
	}
	q := url.Values{"q": {query}}
	return s.fetchPosters(ctx, apiPrefix+"/search/suggestion?"+q.Encode())
}

// Schedule returns the airing schedule for a date (YYYY-MM-DD).
func (s *CatalogService) Schedule(ctx context.Context, date string) (any, error) {
	q := url.Values{"date": {date}}
	return s.fetchPosters(ctx, apiPrefix+"/schedule?"+q.Encode())
}

// Category returns a page of a category listing.
func (s *CatalogService) Category(ctx context.Context, name, page string) (any, error) {
	if alias, ok := categoryAliases[name]; ok {
		name = alias
	}
	return s.fetchPosters(ctx, apiPrefix+"/category/"+url.PathEscape(name)+pageQuery(page))
}

// Genre returns a page of titles in a genre.
func (s *CatalogService) Genre(ctx context.Context, name, page string) (any, error) {
	return s.fetchPosters(ctx, apiPrefix+"/genre/"+url.PathEscape(name)+pageQuery(page))
}

// Producer returns a page of titles from a producer.
func (s *CatalogService) Producer(ctx context.Context, name, page string) (any, error) {
	return s.fetchPosters(ctx, apiPrefix+"/producer/"+url.PathEscape(name)+pageQuery(page))
}

// AZList returns a page of the alphabetical index. Sort options other than a
// letter filter are served from the full list.
func (s *CatalogService) AZList(ctx context.Context, sort, page string) (any, error) {
	if azSortAll[sort] {
		sort = "all"
	}
	return s.fetchPosters(ctx, apiPrefix+"/azlist/"+url.PathEscape(sort)+pageQuery(page))
}

func pageQuery(page string) string {
	if page == "" {
		page = "1"
	}
	return "?" + url.Values{"page": {page}}.Encode()
}

func (s *CatalogService) fetchPosters(ctx context.Context, endpoint string) (any, error) {
	v, err := s.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return RewritePosters(v), nil
}

// fetch returns a fresh decode of the endpoint's JSON, so callers may mutate it.
func (s *CatalogService) fetch(ctx context.Context, endpoint string) (any, error) {
	raw, err := s.fetchRaw(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", endpoint, err)
	}
	return v, nil
}

func (s *CatalogService) fetchRaw(ctx context.Context, endpoint string) ([]byte, error) {
	if s.cache != nil {
		if raw, ok := s.cache.GetIfPresent(endpoint); ok {
			s.observeCache("hit")
			return raw, nil
		}
		s.observeCache("miss")
	}
	if s.limiter != nil {
		s.limiter.Take()
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	header := http.Header{"Accept": {"application/json"}}
	resp, err := s.client.Get(ctx, client.TargetCatalog, s.baseURL+endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("fetch catalog %s: %w", endpoint, &UpstreamStatusError{StatusCode: resp.StatusCode})
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBytes))
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", endpoint, err)
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("read catalog %s: %w", endpoint, errors.New("response is not valid JSON"))
	}

	if s.cache != nil {
		s.cache.Set(endpoint, raw)
	}
	return raw, nil
}

func (s *CatalogService) observeCache(result string) {
	if s.metrics != nil {
		s.metrics.CatalogCacheLookup.WithLabelValues(result).Inc()
	}
}

// rewriteSources points data.sources[].url and data.tracks[].file at the
// stream proxy and returns the number of sources.
func (s *CatalogService) rewriteSources(v any) (int, error) {
	root, _ := v.(map[string]any)
	data, _ := root["data"].(map[string]any)
	sources, _ := data["sources"].([]any)
	if len(sources) == 0 {
		return 0, ErrNoSources
	}

	for _, item := range sources {
		if src, ok := item.(map[string]any); ok {
			if u, ok := src["url"].(string); ok {
				src["url"] = s.rewriter.ProxyURL(u)
			}
		}
	}
	tracks, _ := data["tracks"].([]any)
	for _, item := range tracks {
		if track, ok := item.(map[string]any); ok {
			if f, ok := track["file"].(string); ok {
				track["file"] = s.rewriter.ProxyURL(f)
			}
		}
	}
	return len(sources), nil
}
