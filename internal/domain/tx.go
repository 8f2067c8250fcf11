package domain

import (
	"math/big"
	"time"
)

// TxAction names one of the four state-changing contract calls.
type TxAction string

const (
	ActionCreateMarket  TxAction = "create_market"
	ActionPlaceBet      TxAction = "place_bet"
	ActionResolveMarket TxAction = "resolve_market"
	ActionClaim         TxAction = "claim"
)

// TxState is the lifecycle of a submitted transaction:
// idle -> submitted -> confirmed | failed.
type TxState string

const (
	TxIdle      TxState = "idle"
	TxSubmitted TxState = "submitted"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// ContractCall is a packed, ready-to-sign call against the market contract.
type ContractCall struct {
	Action TxAction
	Method string
	Args   []any
	Value  *big.Int
}

// TxReceipt is the mined outcome of a transaction.
type TxReceipt struct {
	Hash        string
	BlockNumber uint64
	GasUsed     uint64
	Success     bool
	Events      []ContractEvent
}

// CreatedMarketID returns the id announced by the first MarketCreated event
// in the receipt.
func (r TxReceipt) CreatedMarketID() (uint64, bool) {
	for _, ev := range r.Events {
		if ev.Kind == EventMarketCreated {
			return ev.MarketID, true
		}
	}
	return 0, false
}

// TxRecord is the persisted history row for one transaction.
type TxRecord struct {
	ID          string         `json:"id"`
	Wallet      string         `json:"wallet"`
	Action      TxAction       `json:"action"`
	MarketID    *uint64        `json:"market_id,omitempty"`
	Hash        string         `json:"hash,omitempty"`
	State       TxState        `json:"state"`
	Error       string         `json:"error,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// EventKind is one of the facts the contract emits.
type EventKind string

const (
	EventMarketCreated  EventKind = "market_created"
	EventBetPlaced      EventKind = "bet_placed"
	EventMarketResolved EventKind = "market_resolved"
	EventPayoutClaimed  EventKind = "payout_claimed"
)

// ContractEvent is a decoded contract log. Fields that do not apply to a
// given kind are left zero.
type ContractEvent struct {
	Kind        EventKind `json:"kind"`
	MarketID    uint64    `json:"market_id"`
	Account     string    `json:"account,omitempty"`
	Outcome     int       `json:"outcome,omitempty"`
	Amount      *big.Int  `json:"amount,omitempty"`
	Question    string    `json:"question,omitempty"`
	Outcomes    []string  `json:"outcomes,omitempty"`
	Deadline    int64     `json:"deadline,omitempty"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
}
