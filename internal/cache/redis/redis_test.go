package redis

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

func TestKeysAreNamespaced(t *testing.T) {
	for _, key := range []string{lockKey("asset:a"), rateLimitKey("1.2.3.4"), listingKey("a")} {
		if !strings.HasPrefix(key, keyPrefix) {
			t.Fatalf("key %q missing prefix %q", key, keyPrefix)
		}
	}
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientConfig{URL: "rediss://:secret@cache.internal:6380/2", PoolSize: 7}.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.Password != "secret" || opts.DB != 2 || opts.PoolSize != 7 || opts.TLSConfig == nil {
		t.Fatalf("options = %+v", opts)
	}

	opts, err = ClientConfig{Addr: "localhost:6379", DB: 1, TLSEnabled: true}.options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 1 || opts.TLSConfig.MinVersion == 0 {
		t.Fatalf("options = %+v", opts)
	}

	if _, err := (ClientConfig{URL: "http://nope"}).options(); err == nil {
		t.Fatal("expected error for non-redis scheme")
	}
}

func TestHasPattern(t *testing.T) {
	tests := map[string]bool{
		"ch:exchange:sale_completed": false,
		"ch:exchange:*":              true,
		"ch:exchange:sale_?":         true,
		"ch:[ab]":                    true,
	}
	for channel, want := range tests {
		if got := hasPattern(channel); got != want {
			t.Fatalf("hasPattern(%q) = %v, want %v", channel, got, want)
		}
	}
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	if !strings.Contains(slidingWindowLua, "ZREMRANGEBYSCORE") {
		t.Fatal("sliding window script not embedded")
	}
}

// newTestClient connects to CARBONEX_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CARBONEX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CARBONEX_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, key, time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire error = %v, want %v", err, domain.ErrLockHeld)
	}
	unlock()
	unlock()
	again, err := lm.Acquire(ctx, key, time.Second)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}

func TestReplayGuardIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	g := NewReplayGuard(c)
	key := uuid.NewString()

	if err := g.Remember(ctx, key, time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := g.Remember(ctx, key, time.Minute); !errors.Is(err, domain.ErrReplay) {
		t.Fatalf("second remember error = %v, want %v", err, domain.ErrReplay)
	}
}

func TestListingCacheIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	lc := NewListingCache(c)
	l := domain.Listing{AssetID: uuid.NewString(), Price: 42, CreatedAt: time.Now().UTC().Truncate(time.Second)}

	if err := lc.Set(ctx, l); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := lc.Get(ctx, l.AssetID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price != 42 || !got.CreatedAt.Equal(l.CreatedAt) {
		t.Fatalf("listing = %+v, want %+v", got, l)
	}
	if err := lc.Invalidate(ctx, l.AssetID); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := lc.Get(ctx, l.AssetID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after invalidate error = %v, want %v", err, domain.ErrNotFound)
	}
}

func TestRateLimiterIntegration(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)
	key := uuid.NewString()

	for i := 0; i < 2; i++ {
		dec, err := rl.Allow(ctx, key, 2, time.Minute)
		if err != nil || !dec.Allowed || dec.Remaining != 1-i {
			t.Fatalf("allow %d = %+v, %v", i, dec, err)
		}
	}
	dec, err := rl.Allow(ctx, key, 2, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if dec.Allowed {
		t.Fatal("third request should be limited")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v", dec.RetryAfter)
	}
}
