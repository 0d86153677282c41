package domain

import (
	"context"
	"time"
)

// UnitPriceCache holds the latest known unit price of each property.
type UnitPriceCache interface {
	SetUnitPrice(ctx context.Context, propertyID string, price int64, ts time.Time) error
	GetUnitPrice(ctx context.Context, propertyID string) (int64, time.Time, error)
	GetUnitPrices(ctx context.Context, propertyIDs []string) (map[string]int64, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a held lock. Refresh pushes the expiry ttl into the future and
// fails with ErrLockLost once the lease expired or passed to another holder.
// Release is idempotent.
type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Release()
}

// LockManager provides distributed locking. Acquire fails with ErrLockHeld
// while another holder's lease is live.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Event channels and streams.
const (
	ChannelProperties    = "ch:properties"
	ChannelTransactions  = "ch:transactions"
	ChannelDistributions = "ch:distributions"
	ChannelHoldings      = "ch:holdings"

	StreamEntitlements = "stream:entitlements"
	StreamSettlement   = "stream:settlement"
)
