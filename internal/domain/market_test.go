package domain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

func stakes(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestMarket_Validate(t *testing.T) {
	base := domain.Market{
		ID:            1,
		Outcomes:      []string{"Yes", "No"},
		OutcomeStakes: stakes(3, 1),
		TotalStaked:   big.NewInt(4),
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(m *domain.Market)
	}{
		{"single outcome", func(m *domain.Market) { m.Outcomes = []string{"Yes"}; m.OutcomeStakes = stakes(4) }},
		{"stake length mismatch", func(m *domain.Market) { m.OutcomeStakes = stakes(3, 1, 0) }},
		{"total mismatch", func(m *domain.Market) { m.TotalStaked = big.NewInt(5) }},
		{"nil total", func(m *domain.Market) { m.TotalStaked = nil }},
		{"negative stake", func(m *domain.Market) { m.OutcomeStakes = stakes(5, -1) }},
		{"winning out of range", func(m *domain.Market) { m.Resolved = true; m.WinningOutcome = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		})
	}
}

func TestMarket_Status(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := domain.Market{Deadline: now.Add(time.Hour)}
	assert.Equal(t, domain.StatusActive, m.Status(now))

	m.Deadline = now.Add(-time.Hour)
	assert.Equal(t, domain.StatusExpired, m.Status(now))

	m.Deadline = now
	assert.Equal(t, domain.StatusExpired, m.Status(now), "deadline itself counts as expired")

	m.Resolved = true
	assert.Equal(t, domain.StatusResolved, m.Status(now))
	m.Deadline = now.Add(time.Hour)
	assert.Equal(t, domain.StatusResolved, m.Status(now))
}

func TestMarket_OwnedBy(t *testing.T) {
	m := domain.Market{Owner: "0xAbCdEf0000000000000000000000000000000001"}
	assert.True(t, m.OwnedBy("0xabcdef0000000000000000000000000000000001"))
	assert.False(t, m.OwnedBy("0x0000000000000000000000000000000000000002"))
	assert.False(t, m.OwnedBy(""))
}

func TestMarket_BackedOutcomes(t *testing.T) {
	m := domain.Market{OutcomeStakes: stakes(0, 5, 2, 0)}
	assert.Equal(t, 2, m.BackedOutcomes())
	assert.Equal(t, int64(0), m.OutcomeStake(7).Int64())
}

func TestViewerStakes(t *testing.T) {
	vs := domain.ViewerStakes{
		1: stakes(0, 2),
		2: stakes(0, 0),
	}
	assert.True(t, vs.HasPosition(1))
	assert.False(t, vs.HasPosition(2))
	assert.False(t, vs.HasPosition(99))
	assert.Equal(t, int64(2), vs.Stake(1, 1).Int64())
	assert.Equal(t, int64(0), vs.Stake(99, 0).Int64())
	assert.Equal(t, int64(0), vs.Stake(1, 5).Int64())
}

func TestSnapshot_Find(t *testing.T) {
	snap := &domain.Snapshot{Markets: []domain.Market{{ID: 0}, {ID: 3}}}
	m, ok := snap.Find(3)
	require.True(t, ok)
	assert.Equal(t, uint64(3), m.ID)

	_, ok = snap.Find(1)
	assert.False(t, ok)

	var nilSnap *domain.Snapshot
	_, ok = nilSnap.Find(0)
	assert.False(t, ok)
}
