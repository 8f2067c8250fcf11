// Package sqlite keeps bookmarks and transaction history in a local SQLite
// file for single-user CLI runs. It uses the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS bookmarks (
    viewer     TEXT    NOT NULL,
    market_id  INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    PRIMARY KEY (viewer, market_id)
);

CREATE TABLE IF NOT EXISTS tx_history (
    id           TEXT PRIMARY KEY,
    wallet       TEXT NOT NULL,
    action       TEXT NOT NULL,
    market_id    INTEGER,
    tx_hash      TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    params       TEXT,
    submitted_at DATETIME NOT NULL,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tx_wallet ON tx_history(wallet, submitted_at DESC);
`

// Store implements domain.BookmarkStore and domain.TxStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema. Use
// ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Add(ctx context.Context, viewer string, marketID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bookmarks (viewer, market_id, created_at) VALUES (?, ?, ?)`,
		domain.NormalizeAddress(viewer), int64(marketID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("sqlite: add bookmark %d: %w", marketID, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, viewer string, marketID uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM bookmarks WHERE viewer = ? AND market_id = ?`,
		domain.NormalizeAddress(viewer), int64(marketID))
	if err != nil {
		return fmt.Errorf("sqlite: remove bookmark %d: %w", marketID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, viewer string) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id FROM bookmarks WHERE viewer = ? ORDER BY market_id`,
		domain.NormalizeAddress(viewer))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list bookmarks: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan bookmark: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Save upserts a transaction record.
func (s *Store) Save(ctx context.Context, rec domain.TxRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("sqlite: marshal tx params: %w", err)
	}
	var marketID sql.NullInt64
	if rec.MarketID != nil {
		marketID = sql.NullInt64{Int64: int64(*rec.MarketID), Valid: true}
	}
	var completed sql.NullTime
	if rec.CompletedAt != nil {
		completed = sql.NullTime{Time: rec.CompletedAt.UTC(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_history (id, wallet, action, market_id, tx_hash, state, error, params, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			market_id    = excluded.market_id,
			tx_hash      = excluded.tx_hash,
			state        = excluded.state,
			error        = excluded.error,
			completed_at = excluded.completed_at`,
		rec.ID, domain.NormalizeAddress(rec.Wallet), string(rec.Action), marketID, rec.Hash,
		string(rec.State), rec.Error, string(params), rec.SubmittedAt.UTC(), completed,
	)
	if err != nil {
		return fmt.Errorf("sqlite: save tx %s: %w", rec.ID, err)
	}
	return nil
}

const txSelect = `SELECT id, wallet, action, market_id, tx_hash, state, error, params, submitted_at, completed_at FROM tx_history`

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id string) (domain.TxRecord, error) {
	rec, err := scanTx(s.db.QueryRowContext(ctx, txSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TxRecord{}, fmt.Errorf("sqlite: tx %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("sqlite: get tx %s: %w", id, err)
	}
	return rec, nil
}

// ListByWallet returns wallet's transactions newest first.
func (s *Store) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	query := txSelect + ` WHERE wallet = ?`
	args := []any{domain.NormalizeAddress(wallet)}
	if opts.Since != nil {
		query += ` AND submitted_at >= ?`
		args = append(args, opts.Since.UTC())
	}
	if opts.Until != nil {
		query += ` AND submitted_at <= ?`
		args = append(args, opts.Until.UTC())
	}
	query += ` ORDER BY submitted_at DESC`
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list txs: %w", err)
	}
	defer rows.Close()

	var out []domain.TxRecord
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan tx: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(row scanner) (domain.TxRecord, error) {
	var (
		rec       domain.TxRecord
		action    string
		state     string
		marketID  sql.NullInt64
		params    sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.Wallet, &action, &marketID, &rec.Hash, &state, &rec.Error,
		&params, &rec.SubmittedAt, &completed); err != nil {
		return domain.TxRecord{}, err
	}
	rec.Action = domain.TxAction(action)
	rec.State = domain.TxState(state)
	if marketID.Valid {
		v := uint64(marketID.Int64)
		rec.MarketID = &v
	}
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	if params.Valid && params.String != "" {
		if err := json.Unmarshal([]byte(params.String), &rec.Params); err != nil {
			return domain.TxRecord{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return rec, nil
}
