// Package memory provides in-process implementations of the lock manager,
// unit price cache, rate limiter and signal bus. Sandbox mode and service
// tests use them in place of Redis.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// LockManager is a process-local domain.LockManager.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]heldLock
	next  uint64
	clock func() time.Time
}

type heldLock struct {
	token uint64
	exp   time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]heldLock), clock: time.Now}
}

var _ domain.LockManager = (*LockManager)(nil)

// Acquire takes the lock for key, or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.clock()
	if h, ok := lm.held[key]; ok && now.Before(h.exp) {
		return nil, domain.ErrLockHeld
	}
	lm.next++
	lm.held[key] = heldLock{token: lm.next, exp: now.Add(ttl)}
	return &memLease{lm: lm, key: key, token: lm.next}, nil
}

type memLease struct {
	lm    *LockManager
	key   string
	token uint64
	once  sync.Once
}

func (l *memLease) Refresh(_ context.Context, ttl time.Duration) error {
	l.lm.mu.Lock()
	defer l.lm.mu.Unlock()

	now := l.lm.clock()
	h, ok := l.lm.held[l.key]
	if !ok || h.token != l.token || !now.Before(h.exp) {
		return domain.ErrLockLost
	}
	l.lm.held[l.key] = heldLock{token: l.token, exp: now.Add(ttl)}
	return nil
}

func (l *memLease) Release() {
	l.once.Do(func() {
		l.lm.mu.Lock()
		defer l.lm.mu.Unlock()
		// Only release our own acquisition.
		if h, ok := l.lm.held[l.key]; ok && h.token == l.token {
			delete(l.lm.held, l.key)
		}
	})
}

type pricePoint struct {
	price int64
	ts    time.Time
}

// UnitPriceCache is a process-local domain.UnitPriceCache.
type UnitPriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

// NewUnitPriceCache creates an empty UnitPriceCache.
func NewUnitPriceCache() *UnitPriceCache {
	return &UnitPriceCache{prices: make(map[string]pricePoint)}
}

var _ domain.UnitPriceCache = (*UnitPriceCache)(nil)

// SetUnitPrice records price unless a newer one is already cached.
func (c *UnitPriceCache) SetUnitPrice(_ context.Context, propertyID string, price int64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.prices[propertyID]; ok && cur.ts.After(ts) {
		return nil
	}
	c.prices[propertyID] = pricePoint{price: price, ts: ts}
	return nil
}

// GetUnitPrice returns the cached price or domain.ErrNotFound.
func (c *UnitPriceCache) GetUnitPrice(_ context.Context, propertyID string) (int64, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.prices[propertyID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.price, p.ts, nil
}

// GetUnitPrices returns the cached prices of the given properties.
func (c *UnitPriceCache) GetUnitPrices(_ context.Context, propertyIDs []string) (map[string]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(propertyIDs))
	for _, id := range propertyIDs {
		if p, ok := c.prices[id]; ok {
			out[id] = p.price
		}
	}
	return out, nil
}

// RateLimiter is a process-local sliding window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time)}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)

// Allow counts a request for key and reports whether it is within limit.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, ts := range rl.hits[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// SignalBus is a process-local domain.SignalBus. Pub/sub delivery is best
// effort: a subscriber whose buffer is full misses the message. Streams keep
// at most maxLen entries each.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     int64
	maxLen  int
}

// NewSignalBus creates an empty SignalBus.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)

// Publish fans payload out to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for pattern, subs := range b.subs {
		if !matchChannel(pattern, channel) {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. A trailing
// "*" matches any suffix. The channel closes when ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func matchChannel(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      fmt.Sprintf("%d-0", b.seq),
		Payload: append([]byte(nil), payload...),
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count messages after lastID.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int64 {
	var n int64
	_, _ = fmt.Sscanf(id, "%d", &n)
	return n
}
