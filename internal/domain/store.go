package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BookmarkStore persists a viewer's bookmarked market ids. Bookmarks are
// local preference state and carry no authority over the contract.
type BookmarkStore interface {
	Add(ctx context.Context, viewer string, marketID uint64) error
	Remove(ctx context.Context, viewer string, marketID uint64) error
	List(ctx context.Context, viewer string) ([]uint64, error)
}

// TxStore persists transaction history.
type TxStore interface {
	Save(ctx context.Context, rec TxRecord) error
	Get(ctx context.Context, id string) (TxRecord, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]TxRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
