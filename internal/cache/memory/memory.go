// Package memory provides in-process implementations of the cache
// interfaces for single-node deployments and tests.
package memory

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/carbonex/internal/domain"
)

// LockManager is a process-local domain.LockManager. Locks expire after
// their TTL like their Redis counterparts.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	nowFn func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewLockManager creates an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{held: map[string]lease{}, nowFn: time.Now}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.nowFn()
	if cur, ok := lm.held[key]; ok && now.Before(cur.expires) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	token := uuid.NewString()
	lm.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if cur, ok := lm.held[key]; ok && cur.token == token {
				delete(lm.held, key)
			}
		})
	}, nil
}

// ReplayGuard is a process-local domain.ReplayGuard.
type ReplayGuard struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	nowFn func() time.Time
}

// NewReplayGuard creates an empty guard.
func NewReplayGuard() *ReplayGuard {
	return &ReplayGuard{seen: map[string]time.Time{}, nowFn: time.Now}
}

// Remember records key for ttl, returning domain.ErrReplay if still known.
func (g *ReplayGuard) Remember(_ context.Context, key string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.nowFn()
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return domain.ErrReplay
	}
	g.seen[key] = now.Add(ttl)
	return nil
}

// RateLimiter is a process-local sliding window domain.RateLimiter.
type RateLimiter struct {
	mu    sync.Mutex
	hits  map[string][]time.Time
	nowFn func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: map[string][]time.Time{}, nowFn: time.Now}
}

// Allow counts one request for key if it fits in the window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.nowFn()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, ts := range rl.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return domain.RateDecision{RetryAfter: kept[0].Add(window).Sub(now)}, nil
	}
	rl.hits[key] = append(kept, now)
	return domain.RateDecision{Allowed: true, Remaining: limit - len(kept) - 1}, nil
}

// Bus is an in-process domain.SignalBus. Subscribers whose buffers are full
// miss messages rather than block publishers.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]subscription
	nextSub int
	streams map[string][]domain.StreamMessage
	seq     int64
	maxLen  int
}

type subscription struct {
	pattern string
	ch      chan []byte
}

// NewBus creates a bus keeping at most maxLen entries per stream.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Bus{subs: map[int]subscription{}, streams: map[string][]domain.StreamMessage{}, maxLen: maxLen}
}

// Publish delivers payload to every subscriber whose pattern matches.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if ok, _ := path.Match(sub.pattern, channel); !ok {
			continue
		}
		select {
		case sub.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a glob pattern; the channel closes when ctx ends.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", channel, err)
	}
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan []byte, 128)
	b.subs[id] = subscription{pattern: channel, ch: ch}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// StreamAppend adds payload to stream with a monotonically increasing id.
func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := streamSeq(lastID)
	if err != nil {
		return nil, fmt.Errorf("memory: stream read %s: %w", stream, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		seq, _ := streamSeq(msg.ID)
		if seq <= after {
			continue
		}
		out = append(out, msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) (int64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	return strconv.ParseInt(id, 10, 64)
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.ReplayGuard = (*ReplayGuard)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.SignalBus   = (*Bus)(nil)
)
