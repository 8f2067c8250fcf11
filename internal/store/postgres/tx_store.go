package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// TxStore implements domain.TxStore over the tx_history table.
type TxStore struct {
	pool *pgxpool.Pool
}

// NewTxStore creates a TxStore over pool.
func NewTxStore(pool *pgxpool.Pool) *TxStore {
	return &TxStore{pool: pool}
}

const txColumns = `id, wallet, action, market_id, tx_hash, state, error, params, submitted_at, completed_at`

// Save inserts rec or updates the mutable columns of an existing row.
func (s *TxStore) Save(ctx context.Context, rec domain.TxRecord) error {
	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal tx params: %w", err)
	}
	var marketID *int64
	if rec.MarketID != nil {
		v := int64(*rec.MarketID)
		marketID = &v
	}
	const q = `INSERT INTO tx_history (` + txColumns + `)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			market_id    = EXCLUDED.market_id,
			tx_hash      = EXCLUDED.tx_hash,
			state        = EXCLUDED.state,
			error        = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at`
	_, err = s.pool.Exec(ctx, q,
		rec.ID, domain.NormalizeAddress(rec.Wallet), string(rec.Action), marketID,
		rec.Hash, string(rec.State), rec.Error, params, rec.SubmittedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save tx %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record with id.
func (s *TxStore) Get(ctx context.Context, id string) (domain.TxRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+txColumns+` FROM tx_history WHERE id = $1`, id)
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", id, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanTx)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TxRecord{}, fmt.Errorf("postgres: tx %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TxRecord{}, fmt.Errorf("postgres: get tx %s: %w", id, err)
	}
	return rec, nil
}

// ListByWallet returns wallet's transactions newest first.
func (s *TxStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.TxRecord, error) {
	query, args := listClause(`SELECT `+txColumns+` FROM tx_history WHERE wallet = $1`,
		[]any{domain.NormalizeAddress(wallet)}, "submitted_at", opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list txs: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanTx)
	if err != nil {
		return nil, fmt.Errorf("postgres: list txs: %w", err)
	}
	return recs, nil
}

func scanTx(row pgx.CollectableRow) (domain.TxRecord, error) {
	var (
		rec       domain.TxRecord
		action    string
		state     string
		marketID  *int64
		hash      *string
		errText   *string
		params    []byte
		completed *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.Wallet, &action, &marketID, &hash, &state, &errText, &params, &rec.SubmittedAt, &completed); err != nil {
		return domain.TxRecord{}, err
	}
	rec.Action = domain.TxAction(action)
	rec.State = domain.TxState(state)
	rec.CompletedAt = completed
	if marketID != nil {
		v := uint64(*marketID)
		rec.MarketID = &v
	}
	if hash != nil {
		rec.Hash = *hash
	}
	if errText != nil {
		rec.Error = *errText
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return domain.TxRecord{}, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return rec, nil
}
