package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"livetalk-economy/internal/auth"
	"livetalk-economy/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type countingLimiter struct {
	calls map[string]int
}

func (l *countingLimiter) CheckRateLimit(ctx context.Context, userID, action string, limit int, window time.Duration) (bool, error) {
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[userID+":"+action]++
	return l.calls[userID+":"+action] <= limit, nil
}

func newAuthRouter(jwt *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(jwt))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	jwt := auth.NewJWTService("test-secret", time.Hour)
	token, err := jwt.GenerateToken("alice", "Alice")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	r := newAuthRouter(jwt)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer header", "Bearer " + token, "", http.StatusOK},
		{"query token", "", token, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"bad scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/me"
			if tt.query != "" {
				url += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != "alice" {
				t.Errorf("Expected user alice, got %q", w.Body.String())
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := &countingLimiter{}
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(UserIDKey, "alice")
		c.Next()
	})
	r.Use(RateLimitMiddleware(limiter, config.RateLimit{Gifts: 2, Combo: 5, Claims: 1}, zerolog.Nop()))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/api/rooms/:roomID/gifts", ok)
	r.POST("/api/bags/:bagID/claim", ok)
	r.GET("/api/me/balance", ok)

	do := func(method, path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := do(http.MethodPost, "/api/rooms/r1/gifts"); code != http.StatusOK {
			t.Fatalf("Gift %d should pass, got %d", i+1, code)
		}
	}
	if code := do(http.MethodPost, "/api/rooms/r1/gifts"); code != http.StatusTooManyRequests {
		t.Errorf("Third gift should be limited, got %d", code)
	}

	do(http.MethodPost, "/api/bags/b1/claim")
	if code := do(http.MethodPost, "/api/bags/b1/claim"); code != http.StatusTooManyRequests {
		t.Errorf("Second claim should be limited, got %d", code)
	}

	for i := 0; i < 10; i++ {
		if code := do(http.MethodGet, "/api/me/balance"); code != http.StatusOK {
			t.Fatalf("Unlimited path was limited: %d", code)
		}
	}
}

func TestTraceIDAndRecovery(t *testing.T) {
	r := gin.New()
	r.Use(TraceID(), Recovery(zerolog.Nop()))
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if got := w.Header().Get(TraceIDHeader); got != "trace-123" {
		t.Errorf("Expected trace id echoed, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Header().Get(TraceIDHeader) == "" {
		t.Error("Expected a generated trace id")
	}
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/x", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS origin header")
	}
}
