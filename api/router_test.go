package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/seibro/api/handler"
	"github.com/use-agent/seibro/config"
	"github.com/use-agent/seibro/engine"
)

func TestRouter_AuthBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{
		Server:    config.ServerConfig{Mode: "test", MaxRuns: 1},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{"secret"}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
		Selectors: config.DefaultSelectors(),
	}
	var factory engine.SessionFactory = func(context.Context, int) (engine.Session, error) {
		t.Fatal("no run should start")
		return nil, nil
	}
	r := NewRouter(ctx, handler.NewRunner(ctx, cfg, factory), cfg, time.Now())

	tests := []struct {
		method, path, key string
		body              string
		want              int
	}{
		{http.MethodGet, "/api/v1/health", "", "", http.StatusOK},
		{http.MethodGet, "/api/v1/runs/x", "", "", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/runs/x", "secret", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/runs", "secret", `{"targets":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path+" "+tt.key, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
