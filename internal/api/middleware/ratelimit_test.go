package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestFindLimit(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{})
	tests := []struct {
		method, path string
		want         bool
	}{
		{http.MethodPost, "/api/messages/private", true},
		{http.MethodPost, "/api/messages/public/", true},
		{http.MethodPost, "/api/messages/read-receipt", true},
		{http.MethodGet, "/ws", true},
		{http.MethodGet, "/api/messages/1/2", false},
		{http.MethodPut, "/messages/1/2/seen", false},
		{http.MethodGet, "/api/messages/private", false},
	}
	for _, tt := range tests {
		_, ok := rl.findLimit(httptest.NewRequest(tt.method, tt.path, nil))
		if ok != tt.want {
			t.Errorf("findLimit(%s %s) = %v, want %v", tt.method, tt.path, ok, tt.want)
		}
	}
}

func TestWhitelist(t *testing.T) {
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{
		Whitelist: []string{"10.0.0.0/8", "192.168.1.5", "not-a-cidr/99"},
	})
	for ip, want := range map[string]bool{
		"10.1.2.3":    true,
		"192.168.1.5": true,
		"192.168.1.6": false,
		"garbage":     false,
	} {
		if got := rl.isWhitelisted(ip); got != want {
			t.Errorf("isWhitelisted(%s) = %v, want %v", ip, got, want)
		}
	}
}

func TestUnlimitedAndWhitelistedRequestsSkipRedis(t *testing.T) {
	// A nil client panics if touched.
	rl := NewRateLimiter(nil, zerolog.Nop(), RateLimiterConfig{Whitelist: []string{"192.0.2.1"}})
	h := rl.Middleware(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unlimited path: status %d", rec.Code)
	}

	// httptest.NewRequest uses RemoteAddr 192.0.2.1:1234.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages/private", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("whitelisted IP: status %d", rec.Code)
	}
}

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	client := redisClient(t)
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{
		KeyPrefix: "chat-test:" + ulid.Make().String() + ":",
		Limits:    map[string]RateLimit{"POST /api/messages/public": {2, time.Minute}},
	})
	h := rl.Middleware(ok)

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/messages/public", nil))
		codes[i] = rec.Code
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Fatal("missing Retry-After")
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected statuses %v", codes)
	}

	// Budgets are per IP.
	req := httptest.NewRequest(http.MethodPost, "/api/messages/public", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("other IP should have its own budget, got %d", rec.Code)
	}
}

func TestAutoBlockAfterRepeatedViolations(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(client, zerolog.Nop(), RateLimiterConfig{
		KeyPrefix:        "chat-test:" + ulid.Make().String() + ":",
		AutoBlockEnabled: true,
		Limits:           map[string]RateLimit{"GET /ws": {1, time.Minute}},
	})
	h := rl.Middleware(ok)

	var last int
	for i := 0; i < blockAfter+2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
		last = rec.Code
	}
	if last != http.StatusForbidden || !rl.IsBlocked(ctx, "192.0.2.1") {
		t.Fatalf("expected IP to be blocked, last status %d", last)
	}

	rl.Unblock(ctx, "192.0.2.1")
	if rl.IsBlocked(ctx, "192.0.2.1") {
		t.Fatal("Unblock did not clear the block")
	}
}
