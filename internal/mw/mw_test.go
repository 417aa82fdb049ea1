package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func TestLimiter_PerKey(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 2, time.Minute)
	defer l.Stop()

	for i := 0; i < 2; i++ {
		if !l.Allow("a") {
			t.Fatalf("Allow(a) #%d = false, want true", i)
		}
	}
	if l.Allow("a") {
		t.Error("Allow(a) after burst = true, want false")
	}
	if !l.Allow("b") {
		t.Error("Allow(b) = false, keys must not share a bucket")
	}

	l.Forget("a")
	if got := l.Len(); got != 1 {
		t.Errorf("Len() after Forget = %d, want 1", got)
	}
	if !l.Allow("a") {
		t.Error("Allow(a) after Forget = false, want a fresh bucket")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(rate.Inf, 1, time.Minute)
	defer l.Stop()
	l.Allow("old")
	l.sweep(time.Now().Add(2 * time.Minute))
	if got := l.Len(); got != 0 {
		t.Errorf("Len() after sweep = %d, want 0", got)
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer l.Stop()
	r := gin.New()
	r.Use(RateLimit(l))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 429]", codes)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name    string
		env     string
		origins []string
		origin  string
		want    string
	}{
		{"dev allows any", "dev", nil, "http://evil.test", "http://evil.test"},
		{"prod same host", "prod", nil, "http://example.com", "http://example.com"},
		{"prod listed origin", "prod", []string{"https://app.test/"}, "https://app.test", "https://app.test"},
		{"prod substring is not same host", "prod", nil, "http://example.com.evil.test", ""},
		{"prod unknown origin", "prod", []string{"https://app.test"}, "https://other.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env, tt.origins))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "http://example.com/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}

	r := gin.New()
	r.Use(CORS("dev", nil))
	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "http://a.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
}
