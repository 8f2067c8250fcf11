package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// MarketStatus is derived from a market's resolved flag and deadline. It is
// never stored; "expired" in particular depends on the current time.
type MarketStatus string

const (
	StatusActive   MarketStatus = "active"
	StatusExpired  MarketStatus = "expired"
	StatusResolved MarketStatus = "resolved"
)

// Market is one prediction market as read from the contract. Stakes are in
// wei. A Market value is never mutated after it lands in a Snapshot.
type Market struct {
	ID             uint64     `json:"id"`
	Owner          string     `json:"owner"`
	Question       string     `json:"question"`
	Outcomes       []string   `json:"outcomes"`
	Deadline       time.Time  `json:"deadline"`
	Resolved       bool       `json:"resolved"`
	WinningOutcome int        `json:"winning_outcome"`
	OutcomeStakes  []*big.Int `json:"outcome_stakes"`
	TotalStaked    *big.Int   `json:"total_staked"`
}

// Validate checks the structural invariants every market read from the
// contract must satisfy. A market that fails is excluded from snapshots.
func (m Market) Validate() error {
	if len(m.Outcomes) < 2 {
		return fmt.Errorf("%w: market %d has %d outcomes", ErrInvalidState, m.ID, len(m.Outcomes))
	}
	if len(m.OutcomeStakes) != len(m.Outcomes) {
		return fmt.Errorf("%w: market %d has %d stakes for %d outcomes",
			ErrInvalidState, m.ID, len(m.OutcomeStakes), len(m.Outcomes))
	}
	sum := new(big.Int)
	for i, s := range m.OutcomeStakes {
		if s == nil || s.Sign() < 0 {
			return fmt.Errorf("%w: market %d outcome %d has invalid stake", ErrInvalidState, m.ID, i)
		}
		sum.Add(sum, s)
	}
	if m.TotalStaked == nil || sum.Cmp(m.TotalStaked) != 0 {
		return fmt.Errorf("%w: market %d total %v != sum of stakes %v",
			ErrInvalidState, m.ID, m.TotalStaked, sum)
	}
	if m.Resolved && (m.WinningOutcome < 0 || m.WinningOutcome >= len(m.Outcomes)) {
		return fmt.Errorf("%w: market %d winning outcome %d out of range",
			ErrInvalidState, m.ID, m.WinningOutcome)
	}
	return nil
}

// Status classifies the market at the given instant. Resolution wins over
// the deadline.
func (m Market) Status(now time.Time) MarketStatus {
	switch {
	case m.Resolved:
		return StatusResolved
	case !now.Before(m.Deadline):
		return StatusExpired
	default:
		return StatusActive
	}
}

// OwnedBy reports whether addr created the market. Addresses compare
// case-insensitively; an empty addr never owns anything.
func (m Market) OwnedBy(addr string) bool {
	return addr != "" && strings.EqualFold(m.Owner, addr)
}

// OutcomeStake returns the pool stake on outcome idx, or zero when idx is out
// of range.
func (m Market) OutcomeStake(idx int) *big.Int {
	if idx < 0 || idx >= len(m.OutcomeStakes) || m.OutcomeStakes[idx] == nil {
		return new(big.Int)
	}
	return m.OutcomeStakes[idx]
}

// BackedOutcomes counts the outcomes carrying a strictly positive stake.
func (m Market) BackedOutcomes() int {
	n := 0
	for _, s := range m.OutcomeStakes {
		if s != nil && s.Sign() > 0 {
			n++
		}
	}
	return n
}

// ViewerStakes maps a market id to the viewer's per-outcome stakes, parallel
// to the market's outcomes.
type ViewerStakes map[uint64][]*big.Int

// Stake returns the viewer's stake in (id, idx), zero when absent.
func (vs ViewerStakes) Stake(id uint64, idx int) *big.Int {
	stakes, ok := vs[id]
	if !ok || idx < 0 || idx >= len(stakes) || stakes[idx] == nil {
		return new(big.Int)
	}
	return stakes[idx]
}

// HasPosition reports whether the viewer holds a strictly positive stake in
// any outcome of market id.
func (vs ViewerStakes) HasPosition(id uint64) bool {
	for _, s := range vs[id] {
		if s != nil && s.Sign() > 0 {
			return true
		}
	}
	return false
}

// Snapshot is a fully assembled, read-only view of the contract for one
// viewer. Markets are ascending by id and may have gaps where reads failed.
type Snapshot struct {
	Viewer        string       `json:"viewer,omitempty"`
	Markets       []Market     `json:"markets"`
	Stakes        ViewerStakes `json:"stakes,omitempty"`
	ReportedCount uint64       `json:"reported_count"`
	Skipped       []uint64     `json:"skipped,omitempty"`
	FetchedAt     time.Time    `json:"fetched_at"`
}

// Find returns the market with the given id.
func (s *Snapshot) Find(id uint64) (Market, bool) {
	if s == nil {
		return Market{}, false
	}
	for _, m := range s.Markets {
		if m.ID == id {
			return m, true
		}
	}
	return Market{}, false
}

// NormalizeAddress lower-cases and trims an address so it can be used as a
// map or cache key.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
