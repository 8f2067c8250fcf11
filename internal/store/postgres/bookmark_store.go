package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// BookmarkStore implements domain.BookmarkStore.
type BookmarkStore struct {
	pool *pgxpool.Pool
}

// NewBookmarkStore creates a BookmarkStore over pool.
func NewBookmarkStore(pool *pgxpool.Pool) *BookmarkStore {
	return &BookmarkStore{pool: pool}
}

// Add bookmarks marketID for viewer. Adding twice is a no-op.
func (s *BookmarkStore) Add(ctx context.Context, viewer string, marketID uint64) error {
	const q = `INSERT INTO bookmarks (viewer, market_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, domain.NormalizeAddress(viewer), int64(marketID)); err != nil {
		return fmt.Errorf("postgres: add bookmark %d: %w", marketID, err)
	}
	return nil
}

// Remove deletes a bookmark. Removing a missing bookmark is a no-op.
func (s *BookmarkStore) Remove(ctx context.Context, viewer string, marketID uint64) error {
	const q = `DELETE FROM bookmarks WHERE viewer = $1 AND market_id = $2`
	if _, err := s.pool.Exec(ctx, q, domain.NormalizeAddress(viewer), int64(marketID)); err != nil {
		return fmt.Errorf("postgres: remove bookmark %d: %w", marketID, err)
	}
	return nil
}

// List returns viewer's bookmarks in ascending id order.
func (s *BookmarkStore) List(ctx context.Context, viewer string) ([]uint64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id FROM bookmarks WHERE viewer = $1 ORDER BY market_id`,
		domain.NormalizeAddress(viewer))
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookmarks: %w", err)
	}
	ids, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (uint64, error) {
		var id int64
		err := row.Scan(&id)
		return uint64(id), err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list bookmarks: %w", err)
	}
	return ids, nil
}
