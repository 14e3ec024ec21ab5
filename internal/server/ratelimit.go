package server

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"plenario/internal/engine"
)

// newRateLimitMiddleware enforces a fixed-window per-client limit backed by
// the engine cache. Cache failures fail open: a broken cache must never take
// the API down with it.
func newRateLimitMiddleware(basePath string, e engine.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			cfg := e.Config.RateLimit
			if !cfg.Enabled || e.Cache == nil {
				next.ServeHTTP(w, req)
				return
			}
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			limit := cfg.PerMinute
			if limit <= 0 {
				limit = 120
			}
			window := time.Duration(cfg.WindowSeconds) * time.Second
			if window <= 0 {
				window = time.Minute
			}

			ctx := req.Context()
			key := "ratelimit:" + clientKey(req) + ":" + strconv.FormatInt(time.Now().Unix()/int64(window.Seconds()), 10)
			count, err := e.Cache.Incr(ctx, key)
			if err != nil {
				log.Printf("rate limit incr failed, allowing request: %v", err)
				next.ServeHTTP(w, req)
				return
			}
			if count == 1 {
				if err := e.Cache.Expire(ctx, key, window); err != nil {
					log.Printf("rate limit expire failed: %v", err)
				}
			}
			if count > int64(limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited",
					fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window), nil))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

// clientKey prefers the authenticated identity headers over the remote
// address so clients behind a shared NAT do not share a bucket.
func clientKey(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		return "key:" + key
	}
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		return "authz:" + authz
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return "addr:" + req.RemoteAddr
	}
	return "addr:" + host
}
