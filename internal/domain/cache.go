package domain

import (
	"context"
	"time"
)

// SpotCache stores the latest mark price per underlying asset. The pricing
// validator reads spot from here when computing fair value for a quote.
type SpotCache interface {
	SetSpot(ctx context.Context, asset string, price float64) error
	// GetSpot returns the cached price and the time it was written.
	// ErrNotFound when no price has been published for the asset.
	GetSpot(ctx context.Context, asset string) (float64, time.Time, error)
	// History returns up to limit recent prices, oldest first, for
	// historical-volatility estimation.
	History(ctx context.Context, asset string, limit int) ([]float64, error)
}

// StreamMessage is one durable event bus entry.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans engine events out to external consumers: ephemeral pub/sub
// plus a capped, ordered stream for replay.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed mutual exclusion. Acquire returns an
// unlock function on success, ErrLockHeld when another party holds the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds the rate of an operation per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// ReportWriter archives settlement artifacts (epoch reports) to blob storage.
type ReportWriter interface {
	Write(ctx context.Context, key string, payload []byte, contentType string) error
}
