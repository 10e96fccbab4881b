package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/seibro/config"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func do(r http.Handler, headers map[string]string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth([]string{"k1", "", "k2"}))
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"x-api-key", map[string]string{"X-API-Key": "k1"}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer k2"}, http.StatusOK},
		{"wrong", map[string]string{"X-API-Key": "k3"}, http.StatusUnauthorized},
		{"prefix", map[string]string{"X-API-Key": "k"}, http.StatusUnauthorized},
		{"basic scheme", map[string]string{"Authorization": "Basic k1"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := do(r, tt.headers); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuth_NoKeysIsOpen(t *testing.T) {
	if got := do(newEngine(Auth([]string{""})), nil); got != http.StatusOK {
		t.Errorf("status = %d, want 200", got)
	}
}

func TestRateLimit_PerIdentity(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newEngine(Auth([]string{"a", "b"}), RateLimit(ctx, config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}))

	a := map[string]string{"X-API-Key": "a"}
	for i := 0; i < 2; i++ {
		if got := do(r, a); got != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, got)
		}
	}
	if got := do(r, a); got != http.StatusTooManyRequests {
		t.Errorf("third request: status = %d, want 429", got)
	}
	if got := do(r, map[string]string{"X-API-Key": "b"}); got != http.StatusOK {
		t.Errorf("other key throttled: %d", got)
	}
}
