package domain

import (
	"context"
	"time"
)

// SnapshotCache shares the latest snapshot per viewer across processes.
type SnapshotCache interface {
	Set(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, viewer string) (*Snapshot, error)
	Invalidate(ctx context.Context, viewer string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelTx       = "ch:tx"
	ChannelEvents   = "ch:events"
	ChannelSnapshot = "ch:snapshot"
	ChannelTick     = "ch:tick"

	StreamEvents = "stream:events"
)
