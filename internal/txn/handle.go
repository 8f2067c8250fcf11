package txn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// Result is the terminal outcome of a transaction.
type Result struct {
	State   domain.TxState
	Hash    string
	Receipt *domain.TxReceipt
	// MarketID is set for a confirmed createMarket.
	MarketID *uint64
	Err      error
}

// Handle follows one transaction through idle -> submitted -> confirmed |
// failed. It is safe for concurrent use.
type Handle struct {
	ID       string
	Action   domain.TxAction
	Wallet   string
	MarketID *uint64

	params      map[string]any
	submittedAt time.Time

	mu          sync.RWMutex
	state       domain.TxState
	hash        string
	result      Result
	completedAt *time.Time
	done        chan struct{}
}

func newHandle(action domain.TxAction, wallet string, marketID *uint64, params map[string]any, now time.Time) *Handle {
	var mid *uint64
	if marketID != nil {
		v := *marketID
		mid = &v
	}
	return &Handle{
		ID:          uuid.NewString(),
		Action:      action,
		Wallet:      wallet,
		MarketID:    mid,
		params:      params,
		submittedAt: now.UTC(),
		state:       domain.TxIdle,
		done:        make(chan struct{}),
	}
}

func (h *Handle) markSubmitted(hash string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != domain.TxIdle {
		return
	}
	h.state = domain.TxSubmitted
	h.hash = hash
}

func (h *Handle) complete(res Result, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return
	}
	h.state = res.State
	h.result = res
	t := now.UTC()
	h.completedAt = &t
	close(h.done)
}

// State returns the current state.
func (h *Handle) State() domain.TxState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Hash returns the transaction hash once submitted.
func (h *Handle) Hash() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hash
}

// Done is closed when the handle reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the terminal result. Before Done is closed the zero Result
// carries the current state.
func (h *Handle) Result() Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.state.Terminal() {
		return Result{State: h.state, Hash: h.hash}
	}
	return h.result
}

// Wait blocks until the handle is terminal or ctx ends. Cancelling ctx stops
// waiting; it does not affect the transaction.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-ctx.Done():
		return h.Result(), ctx.Err()
	}
}

// Record renders the handle as a history row.
func (h *Handle) Record() domain.TxRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec := domain.TxRecord{
		ID:          h.ID,
		Wallet:      h.Wallet,
		Action:      h.Action,
		MarketID:    h.MarketID,
		Hash:        h.hash,
		State:       h.state,
		Params:      h.params,
		SubmittedAt: h.submittedAt,
		CompletedAt: h.completedAt,
	}
	if h.result.MarketID != nil {
		rec.MarketID = h.result.MarketID
	}
	if h.result.Err != nil {
		rec.Error = h.result.Err.Error()
	}
	return rec
}
