package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HammerMeetNail/nearby/internal/handlers"
	"github.com/HammerMeetNail/nearby/internal/logging"
)

// KeyFunc picks the bucket a request counts against. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimiter is a fixed-window counter in Redis.
type RateLimiter struct {
	redis      *redis.Client
	limit      int
	window     time.Duration
	prefix     string
	keyFunc    KeyFunc
	failClosed bool
}

func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, prefix string, keyFunc KeyFunc, failClosed bool) *RateLimiter {
	if keyFunc == nil {
		keyFunc = UserOrIPKey
	}
	return &RateLimiter{
		redis:      redisClient,
		limit:      limit,
		window:     window,
		prefix:     prefix,
		keyFunc:    keyFunc,
		failClosed: failClosed,
	}
}

// UserOrIPKey buckets authenticated requests by user and the rest by client IP.
func UserOrIPKey(r *http.Request) string {
	if userID, ok := handlers.GetUserIDFromContext(r.Context()); ok {
		return "user:" + userID.String()
	}
	return "ip:" + GetClientIP(r)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.keyFunc(r)
		if key == "" || rl.redis == nil {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetTime, err := rl.isAllowed(r.Context(), rl.prefix+key)
		if err != nil {
			logging.Warn("Rate limiter unavailable", map[string]interface{}{
				"prefix": rl.prefix,
				"error":  err.Error(),
			})
			if rl.failClosed {
				writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if !allowed {
			retryAfter := resetTime - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) isAllowed(ctx context.Context, key string) (allowed bool, remaining int, resetTime int64, err error) {
	windowEnd := time.Now().Truncate(rl.window).Add(rl.window)

	n, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, windowEnd.Unix(), err
	}
	if n == 1 {
		if err = rl.redis.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, windowEnd.Unix(), err
		}
	}

	count := int(n)
	remaining = rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, windowEnd.Unix(), nil
}

func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
