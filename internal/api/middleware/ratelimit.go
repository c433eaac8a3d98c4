package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/DarioOlivares2001/micro-matchworkchat/internal/metrics"
)

// blockAfter is the number of violations within an hour that triggers an auto-block.
const blockAfter = 10

// RateLimit is a request budget per client IP over a sliding window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits covers the write paths: sends, read receipts and websocket upgrades.
var DefaultLimits = map[string]RateLimit{
	"POST /api/messages/private":      {120, time.Minute},
	"POST /api/messages/public":       {60, time.Minute},
	"POST /api/messages/read-receipt": {120, time.Minute},
	"GET /ws":                         {30, time.Minute},
}

// RateLimiterConfig holds configuration for the rate limiter.
type RateLimiterConfig struct {
	KeyPrefix        string               // namespace for Redis keys
	Whitelist        []string             // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled bool                 // block IPs after repeated violations
	Limits           map[string]RateLimit // "METHOD /path"; nil means DefaultLimits
}

// RateLimiter implements per-IP sliding window rate limiting on Redis.
type RateLimiter struct {
	client           *redis.Client
	prefix           string
	limits           map[string]RateLimit
	logger           zerolog.Logger
	whitelist        []*net.IPNet
	whitelistIPs     map[string]bool
	autoBlockEnabled bool
}

// NewRateLimiter creates a rate limiter that keeps its windows in client.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:           client,
		prefix:           cfg.KeyPrefix,
		limits:           cfg.Limits,
		logger:           logger.With().Str("component", "ratelimit").Logger(),
		whitelistIPs:     make(map[string]bool),
		autoBlockEnabled: cfg.AutoBlockEnabled,
	}
	if rl.limits == nil {
		rl.limits = DefaultLimits
	}

	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}
	return rl
}

func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// findLimit returns the limit for the request's method and path, if any.
func (rl *RateLimiter) findLimit(r *http.Request) (RateLimit, bool) {
	path := r.URL.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	limit, ok := rl.limits[r.Method+" "+path]
	return limit, ok
}

// clientIP returns the caller's address. chi's RealIP middleware runs first
// and has already replaced RemoteAddr with any forwarded address.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (rl *RateLimiter) key(parts ...string) string {
	return rl.prefix + strings.Join(parts, ":")
}

// CheckAndIncrement records a request against key and reports whether it fits
// in the window. Returns (allowed, remaining, resetAt, err).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit RateLimit) (bool, int, time.Time, error) {
	now := time.Now()
	windowStart := now.Add(-limit.Window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: ulid.Make().String(),
	})
	pipe.PExpire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, limit.Requests, now.Add(limit.Window), err
	}

	count := int(countCmd.Val())
	remaining := limit.Requests - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < limit.Requests, remaining, now.Add(limit.Window), nil
}

// Middleware returns the rate limiting middleware. Requests on paths without
// a limit never touch Redis. Redis errors let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, ok := rl.findLimit(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientIP(r)
		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		if rl.autoBlockEnabled && rl.IsBlocked(ctx, ip) {
			metrics.BlockedRequests.Inc()
			rl.logger.Warn().
				Str("event", "blocked_request").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("blocked IP attempted request")
			jsonError(w, "temporarily blocked", http.StatusForbidden)
			return
		}

		endpoint := r.Method + " " + r.URL.Path
		allowed, remaining, resetAt, err := rl.CheckAndIncrement(ctx, rl.key("ratelimit", endpoint, ip), limit)
		if err != nil {
			rl.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			rl.trackViolation(ctx, ip)
			rl.logger.Warn().
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", endpoint).
				Msg("rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			jsonError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// trackViolation counts violations and auto-blocks repeat offenders.
func (rl *RateLimiter) trackViolation(ctx context.Context, ip string) {
	if !rl.autoBlockEnabled {
		return
	}

	key := rl.key("violations", ip)
	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return
	}
	if count == 1 {
		rl.client.Expire(ctx, key, time.Hour)
	}

	if count >= blockAfter {
		rl.Block(ctx, ip, 24*time.Hour, "repeated rate limit violations")
		rl.logger.Warn().
			Str("event", "ip_auto_blocked").
			Str("ip", ip).
			Int64("violations", count).
			Msg("IP auto-blocked for repeated violations")
	}
}

// IsBlocked reports whether ip is currently blocked.
func (rl *RateLimiter) IsBlocked(ctx context.Context, ip string) bool {
	n, _ := rl.client.Exists(ctx, rl.key("blocked", ip)).Result()
	return n > 0
}

// Block blocks ip for duration.
func (rl *RateLimiter) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	rl.client.Set(ctx, rl.key("blocked", ip), reason, duration)
}

// Unblock removes a block on ip.
func (rl *RateLimiter) Unblock(ctx context.Context, ip string) {
	rl.client.Del(ctx, rl.key("blocked", ip))
}
