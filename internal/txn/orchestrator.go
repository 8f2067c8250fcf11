// Package txn validates and submits the four state-changing market actions
// and tracks each submitted transaction to a terminal state.
package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const maxTrackedHandles = 256

// Submitter signs, broadcasts and waits for contract transactions.
type Submitter interface {
	Submit(ctx context.Context, call domain.ContractCall) (string, error)
	Wait(ctx context.Context, hash string) (domain.TxReceipt, error)
	Address() string
}

// MarketLookup returns the installed snapshot for a viewer, or nil.
type MarketLookup interface {
	Current(viewer string) *domain.Snapshot
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RefreshFunc is invoked after a transaction is confirmed.
type RefreshFunc func(ctx context.Context, wallet string)

// Options carries the optional collaborators of an Orchestrator. Any nil
// field disables the corresponding side effect.
type Options struct {
	Store       domain.TxStore
	Bus         domain.SignalBus
	Locks       domain.LockManager
	LockTTL     time.Duration
	Notifier    Notifier
	Markets     MarketLookup
	OnConfirmed RefreshFunc
	ExplorerURL string
	Now         func() time.Time
}

// Orchestrator runs at most one outstanding transaction at a time.
type Orchestrator struct {
	sub    Submitter
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	inflight *Handle
	handles  map[string]*Handle
	order    []string
	wg       sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator for sub's wallet.
func NewOrchestrator(sub Submitter, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Orchestrator{
		sub:     sub,
		opts:    opts,
		logger:  logger.With(slog.String("component", "txn_orchestrator")),
		handles: make(map[string]*Handle),
	}
}

// Wallet returns the submitting address.
func (o *Orchestrator) Wallet() string {
	return o.sub.Address()
}

func (o *Orchestrator) lookup(id uint64) *domain.Market {
	if o.opts.Markets == nil {
		return nil
	}
	m, ok := o.opts.Markets.Current(o.sub.Address()).Find(id)
	if !ok {
		return nil
	}
	return &m
}

// CreateMarket validates req and submits createMarket.
func (o *Orchestrator) CreateMarket(ctx context.Context, req CreateMarketRequest) (*Handle, error) {
	if err := validateCreate(&req, o.opts.Now()); err != nil {
		return nil, err
	}
	call := domain.ContractCall{
		Action: domain.ActionCreateMarket,
		Method: "createMarket",
		Args:   []any{req.Question, req.Outcomes, big.NewInt(req.Deadline.Unix())},
	}
	params := map[string]any{
		"question": req.Question,
		"outcomes": req.Outcomes,
		"deadline": req.Deadline.UTC().Format(time.RFC3339),
	}
	return o.submit(ctx, call, nil, params)
}

// PlaceBet validates req and submits placeBet with the stake as value.
func (o *Orchestrator) PlaceBet(ctx context.Context, req PlaceBetRequest) (*Handle, error) {
	wei, err := validateBet(req, o.lookup(req.MarketID), o.opts.Now())
	if err != nil {
		return nil, err
	}
	call := domain.ContractCall{
		Action: domain.ActionPlaceBet,
		Method: "placeBet",
		Args:   []any{new(big.Int).SetUint64(req.MarketID), big.NewInt(int64(req.Outcome))},
		Value:  wei,
	}
	params := map[string]any{"outcome": req.Outcome, "amount_wei": wei.String()}
	return o.submit(ctx, call, &req.MarketID, params)
}

// Resolve validates req against the installed snapshot and submits
// resolveMarket.
func (o *Orchestrator) Resolve(ctx context.Context, req ResolveRequest) (*Handle, error) {
	if err := validateResolve(req, o.lookup(req.MarketID), o.sub.Address(), o.opts.Now()); err != nil {
		return nil, err
	}
	call := domain.ContractCall{
		Action: domain.ActionResolveMarket,
		Method: "resolveMarket",
		Args:   []any{new(big.Int).SetUint64(req.MarketID), big.NewInt(int64(req.Outcome))},
	}
	return o.submit(ctx, call, &req.MarketID, map[string]any{"outcome": req.Outcome})
}

// Claim submits claim for a resolved market.
func (o *Orchestrator) Claim(ctx context.Context, req ClaimRequest) (*Handle, error) {
	if err := validateClaim(req, o.lookup(req.MarketID)); err != nil {
		return nil, err
	}
	call := domain.ContractCall{
		Action: domain.ActionClaim,
		Method: "claim",
		Args:   []any{new(big.Int).SetUint64(req.MarketID)},
	}
	return o.submit(ctx, call, &req.MarketID, nil)
}

func (o *Orchestrator) submit(ctx context.Context, call domain.ContractCall, marketID *uint64, params map[string]any) (*Handle, error) {
	wallet := o.sub.Address()
	if wallet == "" {
		return nil, domain.ErrNoSigner
	}

	h := newHandle(call.Action, wallet, marketID, params, o.opts.Now())

	o.mu.Lock()
	if o.inflight != nil {
		busy := o.inflight
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s %s", domain.ErrTxInFlight, busy.Action, busy.ID)
	}
	o.inflight = h
	o.mu.Unlock()

	unlock := func() {}
	if o.opts.Locks != nil {
		release, err := o.opts.Locks.Acquire(ctx, "tx:"+domain.NormalizeAddress(wallet), o.opts.LockTTL)
		if err != nil {
			o.release(h)
			return nil, fmt.Errorf("txn: wallet lock: %w", err)
		}
		unlock = release
	}

	// Only handles that will reach a terminal state are tracked.
	o.mu.Lock()
	o.track(h)
	o.mu.Unlock()

	hash, err := o.sub.Submit(ctx, call)
	if err != nil {
		o.logger.WarnContext(ctx, "transaction rejected",
			slog.String("action", string(call.Action)),
			slog.String("error", err.Error()),
		)
		o.finish(context.WithoutCancel(ctx), h, nil, err, unlock)
		return h, nil
	}

	h.markSubmitted(hash)
	o.persist(ctx, h)
	o.logger.InfoContext(ctx, "transaction submitted",
		slog.String("handle", h.ID),
		slog.String("action", string(call.Action)),
		slog.String("tx", hash),
	)

	// Receipt wait is detached from the request context.
	waitCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		receipt, err := o.sub.Wait(waitCtx, hash)
		o.finish(waitCtx, h, &receipt, err, unlock)
	}()
	return h, nil
}

// finish frees the in-flight slot and wallet lock before h is marked
// terminal, so a caller woken by Done can submit again immediately.
func (o *Orchestrator) finish(ctx context.Context, h *Handle, receipt *domain.TxReceipt, err error, unlock func()) {
	res := Result{Hash: h.Hash()}
	if receipt != nil && receipt.Hash != "" {
		r := *receipt
		res.Receipt = &r
	}
	switch {
	case err != nil:
		res.State = domain.TxFailed
		res.Err = err
	case receipt != nil && !receipt.Success:
		res.State = domain.TxFailed
		res.Err = domain.ErrTxReverted
	default:
		res.State = domain.TxConfirmed
		if h.Action == domain.ActionCreateMarket && receipt != nil {
			if id, ok := receipt.CreatedMarketID(); ok {
				res.MarketID = &id
			}
		}
	}
	unlock()
	o.release(h)
	h.complete(res, o.opts.Now())

	o.persist(ctx, h)
	o.notify(ctx, h)

	if res.State == domain.TxConfirmed {
		o.logger.InfoContext(ctx, "transaction confirmed",
			slog.String("handle", h.ID),
			slog.String("action", string(h.Action)),
			slog.String("tx", res.Hash),
		)
		if o.opts.OnConfirmed != nil {
			o.opts.OnConfirmed(ctx, h.Wallet)
		}
		return
	}
	o.logger.WarnContext(ctx, "transaction failed",
		slog.String("handle", h.ID),
		slog.String("action", string(h.Action)),
		slog.String("tx", res.Hash),
		slog.String("error", res.Err.Error()),
	)
}

func (o *Orchestrator) release(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == h {
		o.inflight = nil
	}
}

// track records h for lookup by id, dropping the oldest finished handles.
// Caller holds o.mu.
func (o *Orchestrator) track(h *Handle) {
	o.handles[h.ID] = h
	o.order = append(o.order, h.ID)
	for len(o.order) > maxTrackedHandles {
		oldest := o.handles[o.order[0]]
		if oldest != nil && !oldest.State().Terminal() {
			break
		}
		delete(o.handles, o.order[0])
		o.order = o.order[1:]
	}
}

func (o *Orchestrator) persist(ctx context.Context, h *Handle) {
	rec := h.Record()
	if o.opts.Store != nil {
		if err := o.opts.Store.Save(ctx, rec); err != nil {
			o.logger.ErrorContext(ctx, "save tx record failed",
				slog.String("handle", h.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if o.opts.Bus != nil {
		payload, _ := json.Marshal(rec)
		if err := o.opts.Bus.Publish(ctx, domain.ChannelTx, payload); err != nil {
			o.logger.WarnContext(ctx, "publish tx update failed",
				slog.String("handle", h.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, h *Handle) {
	if o.opts.Notifier == nil {
		return
	}
	res := h.Result()
	event, title := "tx_confirmed", "Transaction confirmed"
	if res.State == domain.TxFailed {
		event, title = "tx_failed", "Transaction failed"
	}
	msg := string(h.Action)
	if h.MarketID != nil {
		msg += fmt.Sprintf(" market #%d", *h.MarketID)
	} else if res.MarketID != nil {
		msg += fmt.Sprintf(" market #%d", *res.MarketID)
	}
	if res.Hash != "" {
		msg += "\n" + o.opts.ExplorerURL + res.Hash
	}
	if res.Err != nil {
		msg += "\n" + res.Err.Error()
	}
	if err := o.opts.Notifier.Notify(ctx, event, title, msg); err != nil {
		o.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

// Handle returns the tracked handle with id.
func (o *Orchestrator) Handle(id string) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	return h, ok
}

// Record returns the history row for id, preferring the live handle and
// falling back to the store.
func (o *Orchestrator) Record(ctx context.Context, id string) (domain.TxRecord, error) {
	if h, ok := o.Handle(id); ok {
		return h.Record(), nil
	}
	if o.opts.Store == nil {
		return domain.TxRecord{}, fmt.Errorf("txn: %s: %w", id, domain.ErrNotFound)
	}
	return o.opts.Store.Get(ctx, id)
}

// InFlight returns the outstanding handle, if any.
func (o *Orchestrator) InFlight() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight
}

// Drain blocks until every receipt wait has finished or ctx ends.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchFailure is one failed item of a batch.
type BatchFailure struct {
	MarketID uint64 `json:"market_id"`
	Error    string `json:"error"`
}

// BatchResult aggregates a sequential batch of claims.
type BatchResult struct {
	Attempted int            `json:"attempted"`
	Succeeded int            `json:"succeeded"`
	Failures  []BatchFailure `json:"failures,omitempty"`
}

// ClaimAll claims each market in order, waiting for every claim to reach a
// terminal state before the next. A failed claim is recorded and skipped.
func (o *Orchestrator) ClaimAll(ctx context.Context, ids []uint64) (BatchResult, error) {
	var out BatchResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		out.Attempted++

		h, err := o.Claim(ctx, ClaimRequest{MarketID: id})
		if err != nil {
			o.logger.WarnContext(ctx, "claim skipped", slog.Uint64("market_id", id), slog.String("error", err.Error()))
			out.Failures = append(out.Failures, BatchFailure{MarketID: id, Error: err.Error()})
			if errors.Is(err, domain.ErrNoSigner) {
				return out, err
			}
			continue
		}
		res, err := h.Wait(ctx)
		if err != nil {
			return out, err
		}
		if res.State != domain.TxConfirmed {
			out.Failures = append(out.Failures, BatchFailure{MarketID: id, Error: res.Err.Error()})
			continue
		}
		out.Succeeded++
	}
	o.logger.InfoContext(ctx, "claim batch complete",
		slog.Int("attempted", out.Attempted),
		slog.Int("succeeded", out.Succeeded),
	)
	return out, nil
}
