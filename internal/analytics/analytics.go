// Package analytics derives a viewer's position statistics and per-market
// payout and probability figures from a snapshot. All arithmetic is exact
// decimal; only the final display value is rounded, half-up.
package analytics

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const (
	earningsPlaces = 4
	percentPlaces  = 1
)

// Stats summarises a viewer's activity across a snapshot.
type Stats struct {
	Viewer            string `json:"viewer"`
	MarketsCreated    int    `json:"markets_created"`
	MarketsWon        int    `json:"markets_won"`
	MarketsLost       int    `json:"markets_lost"`
	TotalResolvedBets int    `json:"total_resolved_bets"`
	WinRate           string `json:"win_rate"`
	TotalEarnings     string `json:"total_earnings"`
}

// Compute returns the viewer's statistics, or nil when there is no viewer.
// An error means a decimal operation signalled a trapped condition.
//
// A resolved market counts as won when the viewer staked on the winning
// outcome, and as lost only when the winning stake is zero and some other
// stake is positive. A split bet is a win; a market without any viewer stake
// counts as neither.
func Compute(markets []domain.Market, stakes domain.ViewerStakes, viewer string) (*Stats, error) {
	if viewer == "" {
		return nil, nil
	}

	st := &Stats{Viewer: viewer}
	earnings := apd.New(0, 0)
	ed := apd.MakeErrDecimal(&domain.DecimalContext)

	for _, m := range markets {
		if m.OwnedBy(viewer) {
			st.MarketsCreated++
		}
		if !m.Resolved {
			continue
		}

		s := stakes.Stake(m.ID, m.WinningOutcome)
		if s.Sign() > 0 {
			st.MarketsWon++
			p, err := Payout(m, s)
			if err != nil {
				return nil, fmt.Errorf("analytics: payout market %d: %w", m.ID, err)
			}
			ed.Add(earnings, earnings, p)
			continue
		}
		if stakedElsewhere(m, stakes) {
			st.MarketsLost++
		}
	}

	if err := ed.Err(); err != nil {
		return nil, fmt.Errorf("analytics: earnings: %w", err)
	}

	st.TotalResolvedBets = st.MarketsWon + st.MarketsLost
	rate, err := WinRate(st.MarketsWon, st.MarketsLost)
	if err != nil {
		return nil, err
	}
	st.WinRate = rate
	st.TotalEarnings = domain.FormatDecimal(earnings, earningsPlaces)
	return st, nil
}

func stakedElsewhere(m domain.Market, stakes domain.ViewerStakes) bool {
	for i := range m.Outcomes {
		if i == m.WinningOutcome {
			continue
		}
		if stakes.Stake(m.ID, i).Sign() > 0 {
			return true
		}
	}
	return false
}

// WinRate renders won / (won + lost) * 100 with one decimal. With no resolved
// bets the rate is "0.0".
func WinRate(won, lost int) (string, error) {
	total := won + lost
	if total == 0 {
		return "0.0", nil
	}
	r := new(apd.Decimal)
	if _, err := domain.DecimalContext.Quo(r, apd.New(int64(won)*100, 0), apd.New(int64(total), 0)); err != nil {
		return "", fmt.Errorf("analytics: win rate: %w", err)
	}
	return domain.FormatDecimal(r, percentPlaces), nil
}

// Payout returns the ether a winning stake s receives from market m:
// s + (T - W) * s / W, where W is the winning pool and T the total pool.
// When W is zero the stake alone is returned.
func Payout(m domain.Market, s *big.Int) (*apd.Decimal, error) {
	stake := domain.WeiToEther(s)
	w := m.OutcomeStake(m.WinningOutcome)
	if w.Sign() == 0 {
		return stake, nil
	}

	total := m.TotalStaked
	if total == nil {
		total = new(big.Int)
	}
	loserPool := new(big.Int).Sub(total, w)
	if loserPool.Sign() < 0 {
		loserPool.SetInt64(0)
	}

	ed := apd.MakeErrDecimal(&domain.DecimalContext)
	share := new(apd.Decimal)
	ed.Mul(share, domain.WeiToEther(loserPool), stake)
	ed.Quo(share, share, domain.WeiToEther(w))
	out := new(apd.Decimal)
	ed.Add(out, stake, share)
	if err := ed.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimatedPayout is Payout rendered with four decimals.
func EstimatedPayout(m domain.Market, s *big.Int) (string, error) {
	p, err := Payout(m, s)
	if err != nil {
		return "", fmt.Errorf("analytics: payout market %d: %w", m.ID, err)
	}
	return domain.FormatDecimal(p, earningsPlaces), nil
}

// Probability renders outcome idx's share of the pool as a percentage with
// one decimal. An empty pool yields "50.0" for every outcome.
func Probability(m domain.Market, idx int) (string, error) {
	if m.TotalStaked == nil || m.TotalStaked.Sign() == 0 {
		return "50.0", nil
	}
	ed := apd.MakeErrDecimal(&domain.DecimalContext)
	r := new(apd.Decimal)
	ed.Mul(r, domain.WeiToEther(m.OutcomeStake(idx)), apd.New(100, 0))
	ed.Quo(r, r, domain.WeiToEther(m.TotalStaked))
	if err := ed.Err(); err != nil {
		return "", fmt.Errorf("analytics: probability market %d outcome %d: %w", m.ID, idx, err)
	}
	return domain.FormatDecimal(r, percentPlaces), nil
}

// Probabilities returns Probability for every outcome of m.
func Probabilities(m domain.Market) ([]string, error) {
	out := make([]string, len(m.Outcomes))
	for i := range m.Outcomes {
		p, err := Probability(m, i)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Claimable returns the ids of resolved markets where the viewer holds a
// positive winning stake, ascending.
func Claimable(markets []domain.Market, stakes domain.ViewerStakes) []uint64 {
	var ids []uint64
	for _, m := range markets {
		if m.Resolved && stakes.Stake(m.ID, m.WinningOutcome).Sign() > 0 {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
