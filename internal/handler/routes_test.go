package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRegisterRoutes_Wiring(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/poster.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xff, 0xd8})
		case "/seg.ts":
			w.Header().Set("Content-Type", "video/mp2t")
			_, _ = w.Write([]byte("ts"))
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":{}}`)
		}
	}))
	defer upstream.Close()

	e := echo.New()
	RegisterRoutes(e, newTestHandlers(t, upstream.URL, nil))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"GET stream", http.MethodGet, "/api/proxy/stream?url=" + upstream.URL + "/seg.ts", http.StatusOK},
		{"OPTIONS stream", http.MethodOptions, "/api/proxy/stream", http.StatusOK},
		{"GET stream without url", http.MethodGet, "/api/proxy/stream", http.StatusBadRequest},
		{"GET image", http.MethodGet, "/api/proxy/image?url=" + upstream.URL + "/poster.jpg", http.StatusOK},
		{"OPTIONS image", http.MethodOptions, "/api/proxy/image", http.StatusOK},
		{"GET /api/home", http.MethodGet, "/api/home", http.StatusOK},
		{"GET /api/azlist/a-z", http.MethodGet, "/api/azlist/a-z", http.StatusOK},
		{"GET /unknown returns 404", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
