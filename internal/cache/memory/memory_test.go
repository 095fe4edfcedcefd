package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

func TestLockManagerExclusiveUntilUnlock(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()

	unlock, err := lm.Acquire(ctx, "asset:a", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "asset:a", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire error = %v, want %v", err, domain.ErrLockHeld)
	}
	if other, err := lm.Acquire(ctx, "asset:b", time.Minute); err != nil {
		t.Fatalf("independent key: %v", err)
	} else {
		other()
	}
	unlock()
	unlock()
	again, err := lm.Acquire(ctx, "asset:a", time.Minute)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}

func TestLockManagerExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	lm := NewLockManager()
	lm.nowFn = func() time.Time { return now }

	stale, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	now = now.Add(2 * time.Second)
	fresh, err := lm.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
	stale()
	if _, err := lm.Acquire(ctx, "k", time.Second); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("stale unlock released fresh lease: %v", err)
	}
	fresh()
}

func TestReplayGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g := NewReplayGuard()
	g.nowFn = func() time.Time { return now }

	if err := g.Remember(ctx, "n1", time.Minute); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := g.Remember(ctx, "n1", time.Minute); !errors.Is(err, domain.ErrReplay) {
		t.Fatalf("replay error = %v, want %v", err, domain.ErrReplay)
	}
	now = now.Add(2 * time.Minute)
	if err := g.Remember(ctx, "n1", time.Minute); err != nil {
		t.Fatalf("remember after expiry: %v", err)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter()
	rl.nowFn = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		dec, _ := rl.Allow(ctx, "ip", 3, time.Second)
		if !dec.Allowed || dec.Remaining != 2-i {
			t.Fatalf("request %d = %+v", i, dec)
		}
		now = now.Add(100 * time.Millisecond)
	}
	dec, _ := rl.Allow(ctx, "ip", 3, time.Second)
	if dec.Allowed {
		t.Fatal("fourth request allowed")
	}
	if dec.RetryAfter != 700*time.Millisecond {
		t.Fatalf("retry after = %v, want 700ms", dec.RetryAfter)
	}
	now = now.Add(dec.RetryAfter + time.Millisecond)
	if dec, _ := rl.Allow(ctx, "ip", 3, time.Second); !dec.Allowed {
		t.Fatal("request after window denied")
	}
}

func TestBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewBus(0)

	ch, err := b.Subscribe(ctx, "ch:exchange:*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(ctx, "ch:other", []byte("x")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(ctx, "ch:exchange:sale_completed", []byte("sale")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-ch:
		if string(msg) != "sale" {
			t.Fatalf("message = %q, want sale", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("unexpected message after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestBusStreams(t *testing.T) {
	ctx := context.Background()
	b := NewBus(2)
	for _, p := range []string{"a", "b", "c"} {
		if err := b.StreamAppend(ctx, "s", []byte(p)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := b.StreamRead(ctx, "s", "0", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "b" {
		t.Fatalf("messages = %+v, want trimmed to b,c", msgs)
	}
	next, err := b.StreamRead(ctx, "s", msgs[0].ID, 10)
	if err != nil {
		t.Fatalf("read after: %v", err)
	}
	if len(next) != 1 || string(next[0].Payload) != "c" {
		t.Fatalf("messages after %s = %+v", msgs[0].ID, next)
	}
}
