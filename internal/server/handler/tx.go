package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
	"github.com/Poornadinethyapa/predictionm/internal/txn"
)

// TxOrchestrator submits and tracks the wallet's transactions.
type TxOrchestrator interface {
	Wallet() string
	CreateMarket(ctx context.Context, req txn.CreateMarketRequest) (*txn.Handle, error)
	PlaceBet(ctx context.Context, req txn.PlaceBetRequest) (*txn.Handle, error)
	Resolve(ctx context.Context, req txn.ResolveRequest) (*txn.Handle, error)
	Claim(ctx context.Context, req txn.ClaimRequest) (*txn.Handle, error)
	ClaimAll(ctx context.Context, ids []uint64) (txn.BatchResult, error)
	Record(ctx context.Context, id string) (domain.TxRecord, error)
}

// ClaimableLister finds the markets a wallet can claim from.
type ClaimableLister interface {
	Claimable(ctx context.Context, viewer string) ([]uint64, error)
}

// TxHandler serves the four contract actions and transaction history.
type TxHandler struct {
	orch      TxOrchestrator
	claimable ClaimableLister
	history   domain.TxStore
	logger    *slog.Logger
}

// NewTxHandler creates a TxHandler. history may be nil.
func NewTxHandler(orch TxOrchestrator, claimable ClaimableLister, history domain.TxStore, logger *slog.Logger) *TxHandler {
	return &TxHandler{orch: orch, claimable: claimable, history: history, logger: logger}
}

// CreateMarket submits createMarket.
// POST /api/markets
func (h *TxHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req txn.CreateMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "create market", err)
		return
	}
	handle, err := h.orch.CreateMarket(r.Context(), req)
	h.respond(w, r, "create market", handle, err)
}

// PlaceBet submits placeBet. Body: {"outcome":0,"amount":"0.1"}.
// POST /api/markets/{id}/bets
func (h *TxHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	var req txn.PlaceBetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	req.MarketID = id
	handle, err := h.orch.PlaceBet(r.Context(), req)
	h.respond(w, r, "place bet", handle, err)
}

// Resolve submits resolveMarket. Body: {"outcome":1}.
// POST /api/markets/{id}/resolve
func (h *TxHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	var req txn.ResolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "resolve market", err)
		return
	}
	req.MarketID = id
	handle, err := h.orch.Resolve(r.Context(), req)
	h.respond(w, r, "resolve market", handle, err)
}

// Claim submits claim.
// POST /api/markets/{id}/claim
func (h *TxHandler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "claim", err)
		return
	}
	handle, err := h.orch.Claim(r.Context(), txn.ClaimRequest{MarketID: id})
	h.respond(w, r, "claim", handle, err)
}

type claimAllRequest struct {
	MarketIDs []uint64 `json:"market_ids"`
}

// ClaimAll claims the listed markets, or every claimable market when the
// body names none. It answers once the whole batch has finished.
// POST /api/claims
func (h *TxHandler) ClaimAll(w http.ResponseWriter, r *http.Request) {
	var req claimAllRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "claim all", err)
		return
	}
	ids := req.MarketIDs
	if len(ids) == 0 {
		var err error
		if ids, err = h.claimable.Claimable(r.Context(), h.orch.Wallet()); err != nil {
			writeServiceError(w, r, h.logger, "claim all", err)
			return
		}
	}
	res, err := h.orch.ClaimAll(r.Context(), ids)
	if err != nil && res.Attempted == 0 {
		writeServiceError(w, r, h.logger, "claim all", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetTx returns one transaction.
// GET /api/tx/{id}
func (h *TxHandler) GetTx(w http.ResponseWriter, r *http.Request) {
	rec, err := h.orch.Record(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get tx", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListTx returns a wallet's history, newest first. The wallet defaults to
// the signing wallet.
// GET /api/tx?wallet=&limit=&offset=
func (h *TxHandler) ListTx(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "transaction history not configured")
		return
	}
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		wallet = h.orch.Wallet()
	}
	recs, err := h.history.ListByWallet(r.Context(), domain.NormalizeAddress(wallet), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list tx", err)
		return
	}
	if recs == nil {
		recs = []domain.TxRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": recs})
}

// respond writes the handle's record: 202 while pending, 200 once terminal.
// With ?wait=true it first waits for the receipt or for the client to go
// away.
func (h *TxHandler) respond(w http.ResponseWriter, r *http.Request, op string, handle *txn.Handle, err error) {
	if err != nil {
		writeServiceError(w, r, h.logger, op, err)
		return
	}
	if boolParam(r, "wait") {
		_, _ = handle.Wait(r.Context())
	}
	rec := handle.Record()
	status := http.StatusAccepted
	if rec.State.Terminal() {
		status = http.StatusOK
	}
	writeJSON(w, status, rec)
}
