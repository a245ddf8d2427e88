package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "INFO" || entry["path"] != "/test" {
		t.Errorf("log entry = %v", entry)
	}
	if _, ok := entry["target_host"]; ok {
		t.Errorf("target_host logged for a non-proxy route")
	}
}

func TestRequestLogger_ProxyTarget(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/api/proxy/stream", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, map[string]any{"success": false})
	})

	target := "https://cdn.example/hls/seg.ts?token=secret"
	req := httptest.NewRequest(http.MethodGet, "/api/proxy/stream?url="+url.QueryEscape(target), http.NoBody)
	e.ServeHTTP(httptest.NewRecorder(), req)

	line := buf.String()
	if strings.Contains(line, "secret") {
		t.Errorf("log line leaks the target query: %s", line)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["target_host"] != "cdn.example" {
		t.Errorf("target_host = %v, want %q", entry["target_host"], "cdn.example")
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		status int
		want   slog.Level
	}{
		{http.StatusOK, slog.LevelInfo},
		{http.StatusPartialContent, slog.LevelInfo},
		{http.StatusBadRequest, slog.LevelWarn},
		{http.StatusInternalServerError, slog.LevelError},
	}
	for _, tt := range tests {
		if got := levelFor(tt.status); got != tt.want {
			t.Errorf("levelFor(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
