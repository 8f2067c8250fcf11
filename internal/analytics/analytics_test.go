package analytics_test

import (
	"math/big"
	"testing"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/analytics"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const viewer = "0xA11cE00000000000000000000000000000000001"

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), oneEther)
}

func ethStakes(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = eth(v)
	}
	return out
}

func resolved(id uint64, winning int, pool ...int64) domain.Market {
	st := ethStakes(pool...)
	total := new(big.Int)
	for _, s := range st {
		total.Add(total, s)
	}
	outcomes := make([]string, len(pool))
	for i := range outcomes {
		outcomes[i] = string(rune('A' + i))
	}
	return domain.Market{
		ID:             id,
		Owner:          "0x0000000000000000000000000000000000000009",
		Outcomes:       outcomes,
		Resolved:       true,
		WinningOutcome: winning,
		OutcomeStakes:  st,
		TotalStaked:    total,
	}
}

func TestCompute_NoViewer(t *testing.T) {
	st, err := analytics.Compute([]domain.Market{resolved(0, 0, 1, 1)}, nil, "")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCompute_SingleWinPayout(t *testing.T) {
	// s=2, W=10, T=30: loser pool 20, payout 2 + 20*2/10 = 6.
	m := resolved(0, 0, 10, 20)
	stakes := domain.ViewerStakes{0: ethStakes(2, 0)}

	st, err := analytics.Compute([]domain.Market{m}, stakes, viewer)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.MarketsWon)
	assert.Equal(t, 0, st.MarketsLost)
	assert.Equal(t, 1, st.TotalResolvedBets)
	assert.Equal(t, "100.0", st.WinRate)
	assert.Equal(t, "6.0000", st.TotalEarnings)
}

func TestCompute_NoResolvedBets(t *testing.T) {
	m := domain.Market{
		ID:            0,
		Owner:         viewer,
		Outcomes:      []string{"Yes", "No"},
		OutcomeStakes: ethStakes(0, 0),
		TotalStaked:   eth(0),
	}
	st, err := analytics.Compute([]domain.Market{m}, nil, viewer)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.MarketsCreated)
	assert.Equal(t, "0.0", st.WinRate)
	assert.Equal(t, "0.0000", st.TotalEarnings)
}

func TestCompute_WinLossPolicy(t *testing.T) {
	markets := []domain.Market{
		resolved(0, 0, 4, 4), // split bet: win only
		resolved(1, 1, 5, 5), // losing stake only: loss
		resolved(2, 0, 3, 3), // no stake: neither
		resolved(3, 2, 1, 1, 2),
	}
	stakes := domain.ViewerStakes{
		0: ethStakes(1, 1),
		1: ethStakes(2, 0),
		3: ethStakes(0, 1, 0),
	}

	st, err := analytics.Compute(markets, stakes, viewer)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.MarketsWon)
	assert.Equal(t, 2, st.MarketsLost)
	assert.Equal(t, 3, st.TotalResolvedBets)
	assert.Equal(t, "33.3", st.WinRate)
	// Market 0: s=1, W=4, T=8 -> 1 + 4*1/4 = 2.
	assert.Equal(t, "2.0000", st.TotalEarnings)
}

func TestCompute_OwnershipCaseInsensitive(t *testing.T) {
	m := resolved(0, 0, 1, 1)
	m.Owner = "0xa11ce00000000000000000000000000000000001"
	st, err := analytics.Compute([]domain.Market{m}, nil, viewer)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.MarketsCreated)
}

func TestWinRate_Rounding(t *testing.T) {
	cases := []struct {
		won, lost int
		want      string
	}{
		{0, 0, "0.0"},
		{2, 1, "66.7"},
		{1, 1, "50.0"},
		// 1/8 = 12.5 exactly; 1/16 = 6.25 rounds half-up to 6.3.
		{1, 7, "12.5"},
		{1, 15, "6.3"},
	}
	for _, tc := range cases {
		got, err := analytics.WinRate(tc.won, tc.lost)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "won=%d lost=%d", tc.won, tc.lost)
	}
}

func TestPayout_ZeroWinningPoolFallsBackToStake(t *testing.T) {
	m := resolved(0, 0, 0, 5)
	got, err := analytics.EstimatedPayout(m, eth(3))
	require.NoError(t, err)
	assert.Equal(t, "3.0000", got)
}

func TestProbability(t *testing.T) {
	m := domain.Market{
		Outcomes:      []string{"Yes", "No"},
		OutcomeStakes: ethStakes(3, 1),
		TotalStaked:   eth(4),
	}
	probs, err := analytics.Probabilities(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"75.0", "25.0"}, probs)

	empty := domain.Market{
		Outcomes:      []string{"Yes", "No", "Maybe"},
		OutcomeStakes: ethStakes(0, 0, 0),
		TotalStaked:   eth(0),
	}
	probs, err = analytics.Probabilities(empty)
	require.NoError(t, err)
	assert.Equal(t, []string{"50.0", "50.0", "50.0"}, probs)

	thirds := domain.Market{
		Outcomes:      []string{"A", "B", "C"},
		OutcomeStakes: ethStakes(1, 1, 1),
		TotalStaked:   eth(3),
	}
	p, err := analytics.Probability(thirds, 0)
	require.NoError(t, err)
	assert.Equal(t, "33.3", p)
}

func TestTrappedConditionSurfacesAsError(t *testing.T) {
	saved := domain.DecimalContext.Traps
	domain.DecimalContext.Traps |= apd.Inexact
	t.Cleanup(func() { domain.DecimalContext.Traps = saved })

	thirds := domain.Market{
		ID:            7,
		Outcomes:      []string{"A", "B", "C"},
		OutcomeStakes: ethStakes(1, 1, 1),
		TotalStaked:   eth(3),
	}
	_, err := analytics.Probability(thirds, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market 7")

	_, err = analytics.Probabilities(thirds)
	require.Error(t, err)

	_, err = analytics.WinRate(1, 2)
	require.Error(t, err)

	// s=1, W=3, T=4: 1 + 1*1/3 is inexact.
	m := resolved(3, 0, 3, 1)
	_, err = analytics.EstimatedPayout(m, eth(1))
	require.Error(t, err)

	_, err = analytics.Compute([]domain.Market{m}, domain.ViewerStakes{3: ethStakes(1, 0)}, viewer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payout market 3")

	// Exact results are unaffected by the stricter traps.
	p, err := analytics.Probability(domain.Market{
		Outcomes:      []string{"Yes", "No"},
		OutcomeStakes: ethStakes(3, 1),
		TotalStaked:   eth(4),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "75.0", p)
}

func TestClaimable(t *testing.T) {
	markets := []domain.Market{
		resolved(0, 0, 1, 1),
		resolved(1, 1, 1, 1),
		{ID: 2, Outcomes: []string{"A", "B"}, OutcomeStakes: ethStakes(1, 0), TotalStaked: eth(1)},
	}
	stakes := domain.ViewerStakes{
		0: ethStakes(1, 0),
		1: ethStakes(1, 0),
		2: ethStakes(1, 0),
	}
	assert.Equal(t, []uint64{0}, analytics.Claimable(markets, stakes))
}
