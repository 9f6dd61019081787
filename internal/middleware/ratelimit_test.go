package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/nearby/internal/handlers"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRateLimiter_Middleware_NilRedis(t *testing.T) {
	limiter := NewRateLimiter(nil, 10, time.Hour, "test:", func(r *http.Request) string {
		return "test-key"
	}, true)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	limiter.Middleware(okHandler()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status OK, got %d", rr.Code)
	}
}

func TestRateLimiter_Middleware_Limits(t *testing.T) {
	client, mr := newTestRedis(t)
	limiter := NewRateLimiter(client, 2, time.Minute, "ratelimit:test:", nil, false)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:1234"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining 0, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if ttl := mr.TTL("ratelimit:test:ip:10.0.0.9"); ttl <= 0 {
		t.Fatalf("expected key to expire, ttl=%v", ttl)
	}

	// Another client has its own bucket.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(handlers.SetUserIDInContext(req.Context(), uuid.New()))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected separate bucket, got %d", rr.Code)
	}
}

func TestRateLimiter_Middleware_RedisDown(t *testing.T) {
	tests := []struct {
		name       string
		failClosed bool
		expected   int
	}{
		{name: "fail open", failClosed: false, expected: http.StatusOK},
		{name: "fail closed", failClosed: true, expected: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, mr := newTestRedis(t)
			mr.Close()
			limiter := NewRateLimiter(client, 1, time.Minute, "ratelimit:test:", nil, tt.failClosed)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rr := httptest.NewRecorder()
			limiter.Middleware(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, rr.Code)
			}
		})
	}
}

func TestRateLimiter_EmptyKeySkips(t *testing.T) {
	client, mr := newTestRedis(t)
	limiter := NewRateLimiter(client, 1, time.Minute, "ratelimit:test:", func(r *http.Request) string { return "" }, true)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		limiter.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", mr.Keys())
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{
			name:     "X-Forwarded-For Single",
			headers:  map[string]string{"X-Forwarded-For": "10.0.0.1"},
			remote:   "192.168.1.1:1234",
			expected: "10.0.0.1",
		},
		{
			name:     "X-Forwarded-For Multiple",
			headers:  map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"},
			remote:   "192.168.1.1:1234",
			expected: "10.0.0.1",
		},
		{
			name:     "X-Real-IP",
			headers:  map[string]string{"X-Real-IP": "10.0.0.2"},
			remote:   "192.168.1.1:1234",
			expected: "10.0.0.2",
		},
		{
			name:     "XFF Preference over X-Real-IP",
			headers:  map[string]string{"X-Forwarded-For": "10.0.0.1", "X-Real-IP": "10.0.0.2"},
			remote:   "192.168.1.1:1234",
			expected: "10.0.0.1",
		},
		{
			name:     "No Headers",
			headers:  map[string]string{},
			remote:   "192.168.1.1:1234",
			expected: "192.168.1.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remote

			ip := GetClientIP(req)
			if ip != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, ip)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, http.StatusTooManyRequests, "Rate limit exceeded")

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %q", ct)
	}
	if body := rr.Body.String(); body == "" || body == "{}\n" {
		t.Fatalf("expected JSON body, got %q", body)
	}
}
