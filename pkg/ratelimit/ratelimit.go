package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter is a thin wrapper around github.com/vnmchuo/ratelimiter that
// counts requests per client.
type Limiter struct {
	store  extratelimit.Limiter
	window time.Duration
}

func NewLimiter(rdb *redis.Client, requests int, window time.Duration) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(requests),
		extratelimit.WithWindow(window),
	)
	return &Limiter{store: store, window: window}
}

func NewTestLimiter(store extratelimit.Limiter, window time.Duration) *Limiter {
	return &Limiter{store: store, window: window}
}

func key(clientID string) string {
	return fmt.Sprintf("ratelimit:client:%s", clientID)
}

func (l *Limiter) Allow(ctx context.Context, clientID string) (bool, error) {
	res, err := l.store.Allow(ctx, key(clientID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, clientID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(clientID))
}

// Middleware rejects clients over their request budget with 429. Store
// errors also reject, so an unreachable Redis never disables the limit.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := l.Allow(r.Context(), ClientIP(r))
		if err != nil || !allowed {
			retryAfter := strconv.Itoa(int(l.window.Seconds()))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":       "too many requests from this client, please try again later",
				"retry_after": retryAfter + "s",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of RemoteAddr. Run chi's RealIP middleware
// first when behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
