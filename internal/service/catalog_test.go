package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	"animebite-proxy/internal/client"
	"animebite-proxy/internal/config"
	"animebite-proxy/internal/hls"
	"animebite-proxy/internal/metrics"
)

func newTestCatalogService(t *testing.T, cfg *config.Config) *CatalogService {
	t.Helper()
	c := client.NewUpstreamClient(cfg, discardLogger(), nil)
	svc, err := NewCatalogService(c, hls.NewRewriter("", false), cfg, discardLogger(), metrics.New())
	if err != nil {
		t.Fatalf("NewCatalogService() error = %v", err)
	}
	return svc
}

// requestLog records upstream request URIs.
type requestLog struct {
	mu   sync.Mutex
	uris []string
}

func (l *requestLog) add(uri string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.uris = append(l.uris, uri)
}

func (l *requestLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.uris...)
}

// catalogServer answers every request with body and records request URIs.
func catalogServer(t *testing.T, body string, log *requestLog) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if log != nil {
			log.add(r.URL.RequestURI())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCatalogService_Routes(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		call func(*CatalogService) (any, error)
		want string
	}{
		{"home", func(s *CatalogService) (any, error) { return s.Home(ctx) }, "/api/v2/hianime/home"},
		{"anime", func(s *CatalogService) (any, error) { return s.Anime(ctx, "one-piece-100") }, "/api/v2/hianime/anime/one-piece-100"},
		{"episodes", func(s *CatalogService) (any, error) { return s.Episodes(ctx, "one-piece-100") }, "/api/v2/hianime/anime/one-piece-100/episodes"},
		{"next episode", func(s *CatalogService) (any, error) { return s.NextEpisodeSchedule(ctx, "x") }, "/api/v2/hianime/anime/x/next-episode-schedule"},
		{"servers", func(s *CatalogService) (any, error) { return s.EpisodeServers(ctx, "x?ep=1") }, "/api/v2/hianime/episode/servers?animeEpisodeId=x%3Fep%3D1"},
		{"suggestions", func(s *CatalogService) (any, error) { return s.Suggestions(ctx, "naruto") }, "/api/v2/hianime/search/suggestion?q=naruto"},
		{"schedule", func(s *CatalogService) (any, error) { return s.Schedule(ctx, "2024-01-01") }, "/api/v2/hianime/schedule?date=2024-01-01"},
		{"category alias", func(s *CatalogService) (any, error) { return s.Category(ctx, "trending", "") }, "/api/v2/hianime/category/most-popular?page=1"},
		{"category", func(s *CatalogService) (any, error) { return s.Category(ctx, "movie", "3") }, "/api/v2/hianime/category/movie?page=3"},
		{"genre", func(s *CatalogService) (any, error) { return s.Genre(ctx, "action", "2") }, "/api/v2/hianime/genre/action?page=2"},
		{"producer", func(s *CatalogService) (any, error) { return s.Producer(ctx, "mappa", "") }, "/api/v2/hianime/producer/mappa?page=1"},
		{"azlist sort", func(s *CatalogService) (any, error) { return s.AZList(ctx, "score", "") }, "/api/v2/hianime/azlist/all?page=1"},
		{"azlist letter", func(s *CatalogService) (any, error) { return s.AZList(ctx, "b", "4") }, "/api/v2/hianime/azlist/b?page=4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var log requestLog
			srv := catalogServer(t, `{"status":200,"data":{}}`, &log)
			svc := newTestCatalogService(t, testConfig(srv.URL))

			if _, err := tt.call(svc); err != nil {
				t.Fatalf("call error = %v", err)
			}
			if seen := log.get(); len(seen) != 1 || seen[0] != tt.want {
				t.Errorf("upstream requests = %v, want [%s]", seen, tt.want)
			}
		})
	}
}

func TestCatalogService_Search(t *testing.T) {
	var log requestLog
	srv := catalogServer(t, `{"data":{"animes":[]}}`, &log)
	svc := newTestCatalogService(t, testConfig(srv.URL))

	params := url.Values{"q": {"bleach"}, "page": {"2"}, "genres": {""}}
	if _, err := svc.Search(context.Background(), params); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if want, seen := "/api/v2/hianime/search?page=2&q=bleach", log.get(); len(seen) != 1 || seen[0] != want {
		t.Errorf("upstream requests = %v, want [%s]", seen, want)
	}
}

func TestCatalogService_RequiredParams(t *testing.T) {
	svc := newTestCatalogService(t, testConfig("https://api.example"))
	ctx := context.Background()

	tests := []struct {
		name string
		call func() (any, error)
		want string
	}{
		{"suggestions", func() (any, error) { return svc.Suggestions(ctx, "") }, "q"},
		{"servers", func() (any, error) { return svc.EpisodeServers(ctx, "") }, "animeEpisodeId"},
		{"sources", func() (any, error) { return svc.EpisodeSources(ctx, "", "hd-1", "sub") }, "animeEpisodeId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.call()
			var pe *ParamError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want *ParamError", err)
			}
			if pe.Name != tt.want {
				t.Errorf("Name = %q, want %q", pe.Name, tt.want)
			}
		})
	}
}

func TestCatalogService_PostersRewritten(t *testing.T) {
	body := `{"data":{"spotlight":[{"id":"a","poster":"https://img.example/a.jpg"}],
		"anime":{"info":{"poster":"https://img.example/b.jpg","stats":{"rating":8.5}}},"poster":""}}`
	srv := catalogServer(t, body, nil)
	svc := newTestCatalogService(t, testConfig(srv.URL))

	v, err := svc.Home(context.Background())
	if err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	out, _ := json.Marshal(v)

	var got struct {
		Data struct {
			Spotlight []struct {
				Poster string `json:"poster"`
			} `json:"spotlight"`
			Anime struct {
				Info struct {
					Poster string `json:"poster"`
					Stats  struct {
						Rating json.Number `json:"rating"`
					} `json:"stats"`
				} `json:"info"`
			} `json:"anime"`
			Poster string `json:"poster"`
		} `json:"data"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if want := "/api/proxy/image?url=" + url.QueryEscape("https://img.example/a.jpg"); got.Data.Spotlight[0].Poster != want {
		t.Errorf("spotlight poster = %q, want %q", got.Data.Spotlight[0].Poster, want)
	}
	if want := "/api/proxy/image?url=" + url.QueryEscape("https://img.example/b.jpg"); got.Data.Anime.Info.Poster != want {
		t.Errorf("info poster = %q, want %q", got.Data.Anime.Info.Poster, want)
	}
	if got.Data.Anime.Info.Stats.Rating != "8.5" {
		t.Errorf("rating = %q, want %q", got.Data.Anime.Info.Stats.Rating, "8.5")
	}
	if got.Data.Poster != "" {
		t.Errorf("empty poster rewritten to %q", got.Data.Poster)
	}
}

func TestCatalogService_EpisodeSources(t *testing.T) {
	body := `{"data":{"sources":[{"url":"https://cdn.example/master.m3u8","type":"hls"}],
		"tracks":[{"file":"https://cdn.example/en.vtt","label":"English"}]}}`
	var log requestLog
	srv := catalogServer(t, body, &log)
	svc := newTestCatalogService(t, testConfig(srv.URL))

	v, err := svc.EpisodeSources(context.Background(), "show-1?ep=9", "hd-1", "sub")
	if err != nil {
		t.Fatalf("EpisodeSources() error = %v", err)
	}
	want := "/api/v2/hianime/episode/sources?animeEpisodeId=show-1%3Fep%3D9&category=sub&server=hd-1"
	if seen := log.get(); len(seen) != 1 || seen[0] != want {
		t.Errorf("upstream requests = %v, want [%s]", seen, want)
	}

	data := v.(map[string]any)["data"].(map[string]any)
	src := data["sources"].([]any)[0].(map[string]any)
	if want := hls.StreamPath + "?url=" + url.QueryEscape("https://cdn.example/master.m3u8"); src["url"] != want {
		t.Errorf("source url = %v, want %q", src["url"], want)
	}
	track := data["tracks"].([]any)[0].(map[string]any)
	if want := hls.StreamPath + "?url=" + url.QueryEscape("https://cdn.example/en.vtt"); track["file"] != want {
		t.Errorf("track file = %v, want %q", track["file"], want)
	}
}

func TestCatalogService_EpisodeSources_Empty(t *testing.T) {
	srv := catalogServer(t, `{"data":{"sources":[]}}`, nil)
	svc := newTestCatalogService(t, testConfig(srv.URL))

	_, err := svc.EpisodeSources(context.Background(), "show-1?ep=9", "hd-2", "dub")
	if !errors.Is(err, ErrNoSources) {
		t.Fatalf("EpisodeSources() error = %v, want ErrNoSources", err)
	}
}

func TestCatalogService_UpstreamErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		svc := newTestCatalogService(t, testConfig(srv.URL))

		_, err := svc.Home(context.Background())
		var statusErr *UpstreamStatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
			t.Fatalf("Home() error = %v, want status 502", err)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		srv := catalogServer(t, `<html>maintenance</html>`, nil)
		svc := newTestCatalogService(t, testConfig(srv.URL))

		if _, err := svc.Home(context.Background()); err == nil {
			t.Fatal("Home() expected error for non-JSON body")
		}
	})
}

func TestCatalogService_Cache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"data":{"poster":"https://img.example/p.jpg"}}`)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Catalog.CacheTTLSeconds = 60
	svc := newTestCatalogService(t, cfg)

	for i := range 3 {
		v, err := svc.Anime(context.Background(), "a")
		if err != nil {
			t.Fatalf("Anime() #%d error = %v", i, err)
		}
		poster := v.(map[string]any)["data"].(map[string]any)["poster"]
		if want := "/api/proxy/image?url=" + url.QueryEscape("https://img.example/p.jpg"); poster != want {
			t.Errorf("poster #%d = %v, want %q", i, poster, want)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestRewritePosters_Scalars(t *testing.T) {
	for _, v := range []any{nil, "poster", json.Number("1"), true} {
		if got := RewritePosters(v); got != v {
			t.Errorf("RewritePosters(%v) = %v, want unchanged", v, got)
		}
	}
}
