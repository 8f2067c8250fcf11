package chain_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poornadinethyapa/predictionm/internal/chain"
	"github.com/Poornadinethyapa/predictionm/internal/crypto"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const (
	testKey      = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	contractAddr = "0x6dBd263900a5104bA83E2D0e155390acF01EDFf0"
	ownerAddr    = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu        sync.Mutex
	outputs   map[string][]byte
	callErr   error
	logs      []types.Log
	head      uint64
	estimate  uint64
	estErr    error
	sent      []*types.Transaction
	receipt   *types.Receipt
	notFound  int
	lastQuery ethereum.FilterQuery
	lastArgs  []any
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	m, err := chain.MarketABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastArgs = args
	f.mu.Unlock()
	return f.outputs[m.Name], nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return f.logs, nil
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	return 7, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, _ ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estErr
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, _ common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFound > 0 {
		f.notFound--
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func pack(t *testing.T, method string, vals ...any) []byte {
	t.Helper()
	out, err := chain.MarketABI.Methods[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	return out
}

func eventLog(t *testing.T, name string, topics []common.Hash, data ...any) types.Log {
	t.Helper()
	ev := chain.MarketABI.Events[name]
	raw, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Address:     common.HexToAddress(contractAddr),
		Topics:      append([]common.Hash{ev.ID}, topics...),
		Data:        raw,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xabc"),
	}
}

func newClient(t *testing.T, fb *fakeBackend, withSigner bool) *chain.Client {
	t.Helper()
	var signer *crypto.TxSigner
	if withSigner {
		s, err := crypto.NewTxSigner(testKey)
		require.NoError(t, err)
		signer = s
	}
	return chain.NewClient(fb, chain.Config{
		ContractAddress: contractAddr,
		ChainID:         84532,
		RatePerSec:      1000,
		Burst:           100,
		PollInterval:    time.Millisecond,
	}, signer, discardLogger())
}

func TestClient_Reads(t *testing.T) {
	owner := common.HexToAddress(ownerAddr)
	fb := &fakeBackend{outputs: map[string][]byte{
		"marketCount": pack(t, "marketCount", big.NewInt(3)),
		"getMarketBasic": pack(t, "getMarketBasic",
			owner, "Will it rain?", big.NewInt(1_800_000_000), false, big.NewInt(0),
			big.NewInt(30), []*big.Int{big.NewInt(10), big.NewInt(20)}, []string{"Yes", "No"}),
		"userStakeIn": pack(t, "userStakeIn", big.NewInt(5)),
	}}
	c := newClient(t, fb, false)
	ctx := context.Background()

	n, err := c.MarketCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	m, err := c.GetMarket(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.ID)
	assert.Equal(t, owner.Hex(), m.Owner)
	assert.Equal(t, "Will it rain?", m.Question)
	assert.Equal(t, []string{"Yes", "No"}, m.Outcomes)
	assert.Equal(t, int64(1_800_000_000), m.Deadline.Unix())
	assert.Equal(t, int64(30), m.TotalStaked.Int64())
	require.NoError(t, m.Validate())
	assert.Equal(t, int64(2), fb.lastArgs[0].(*big.Int).Int64())

	s, err := c.UserStakeIn(ctx, 2, ownerAddr, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), s.Int64())

	_, err = c.UserStakeIn(ctx, 2, "not-an-address", 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, c.Address())
}

func TestClient_ReadError(t *testing.T) {
	boom := errors.New("boom")
	c := newClient(t, &fakeBackend{callErr: boom}, false)
	_, err := c.MarketCount(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestClient_SubmitRequiresSigner(t *testing.T) {
	c := newClient(t, &fakeBackend{}, false)
	_, err := c.Submit(context.Background(), domain.ContractCall{Method: "claim", Args: []any{big.NewInt(1)}})
	assert.ErrorIs(t, err, domain.ErrNoSigner)
}

func TestClient_SubmitSignsAndBuffersGas(t *testing.T) {
	fb := &fakeBackend{estimate: 100_000}
	c := newClient(t, fb, true)

	hash, err := c.Submit(context.Background(), domain.ContractCall{
		Action: domain.ActionPlaceBet,
		Method: "placeBet",
		Args:   []any{big.NewInt(1), big.NewInt(0)},
		Value:  big.NewInt(1e15),
	})
	require.NoError(t, err)
	require.Len(t, fb.sent, 1)

	tx := fb.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, uint64(120_000), tx.Gas())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, int64(1e15), tx.Value().Int64())
	assert.Equal(t, common.HexToAddress(contractAddr), *tx.To())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(84532)), tx)
	require.NoError(t, err)
	assert.Equal(t, c.Address(), from.Hex())
}

func TestClient_SubmitFallsBackToGasLimit(t *testing.T) {
	fb := &fakeBackend{estErr: errors.New("execution reverted")}
	c := newClient(t, fb, true)
	_, err := c.Submit(context.Background(), domain.ContractCall{Method: "claim", Args: []any{big.NewInt(1)}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), fb.sent[0].Gas())
}

func TestClient_SubmitRejectsBadArgs(t *testing.T) {
	fb := &fakeBackend{}
	c := newClient(t, fb, true)
	_, err := c.Submit(context.Background(), domain.ContractCall{Method: "claim", Args: []any{"x"}})
	assert.Error(t, err)
	assert.Empty(t, fb.sent)
}

func TestClient_WaitDecodesReceipt(t *testing.T) {
	owner := common.HexToAddress(ownerAddr)
	created := eventLog(t, "MarketCreated",
		[]common.Hash{common.BigToHash(big.NewInt(9)), common.BytesToHash(owner.Bytes())},
		"Q?", []string{"A", "B"}, big.NewInt(1_800_000_000))
	foreign := created
	foreign.Address = common.HexToAddress("0x01")

	fb := &fakeBackend{
		notFound: 2,
		receipt: &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(42),
			GasUsed:     90_000,
			Logs:        []*types.Log{&created, &foreign},
		},
	}
	c := newClient(t, fb, true)

	r, err := c.Wait(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(42), r.BlockNumber)
	require.Len(t, r.Events, 1)
	id, ok := r.CreatedMarketID()
	assert.True(t, ok)
	assert.Equal(t, uint64(9), id)
}

func TestClient_WaitReverted(t *testing.T) {
	fb := &fakeBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}}
	r, err := newClient(t, fb, true).Wait(context.Background(), "0xabc")
	assert.ErrorIs(t, err, domain.ErrTxReverted)
	assert.False(t, r.Success)
}

func TestClient_WaitHonoursContext(t *testing.T) {
	fb := &fakeBackend{notFound: 1 << 30}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newClient(t, fb, true).Wait(ctx, "0xabc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeLog(t *testing.T) {
	bettor := common.HexToAddress(ownerAddr)
	cases := []struct {
		name string
		log  types.Log
		want domain.ContractEvent
	}{
		{
			name: "bet placed",
			log: eventLog(t, "BetPlaced",
				[]common.Hash{common.BigToHash(big.NewInt(3)), common.BytesToHash(bettor.Bytes()), common.BigToHash(big.NewInt(1))},
				big.NewInt(500)),
			want: domain.ContractEvent{Kind: domain.EventBetPlaced, MarketID: 3, Account: bettor.Hex(), Outcome: 1, Amount: big.NewInt(500)},
		},
		{
			name: "market resolved",
			log:  eventLog(t, "MarketResolved", []common.Hash{common.BigToHash(big.NewInt(4))}, big.NewInt(2)),
			want: domain.ContractEvent{Kind: domain.EventMarketResolved, MarketID: 4, Outcome: 2},
		},
		{
			name: "payout claimed",
			log: eventLog(t, "PayoutClaimed",
				[]common.Hash{common.BigToHash(big.NewInt(5)), common.BytesToHash(bettor.Bytes())},
				big.NewInt(77)),
			want: domain.ContractEvent{Kind: domain.EventPayoutClaimed, MarketID: 5, Account: bettor.Hex(), Amount: big.NewInt(77)},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := chain.DecodeLog(tc.log)
			require.NoError(t, err)
			tc.want.TxHash = tc.log.TxHash.Hex()
			tc.want.BlockNumber = 42
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := chain.DecodeLog(types.Log{})
	assert.Error(t, err)
	_, err = chain.DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0x1234")}})
	assert.Error(t, err)
}

type recordingBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  int
	stream    [][]byte
}

func (b *recordingBus) Publish(_ context.Context, ch string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.published == nil {
		b.published = map[string]int{}
	}
	b.published[ch]++
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed++
	b.stream = append(b.stream, payload)
	return nil
}

// StreamRead uses 1-based positions as ids.
func (b *recordingBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for i := after; i < len(b.stream) && len(out) < count; i++ {
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: b.stream[i]})
	}
	return out, nil
}

func TestEventWatcher_Poll(t *testing.T) {
	bettor := common.HexToAddress(ownerAddr)
	fb := &fakeBackend{
		head: 100,
		logs: []types.Log{eventLog(t, "BetPlaced",
			[]common.Hash{common.BigToHash(big.NewInt(3)), common.BytesToHash(bettor.Bytes()), common.BigToHash(big.NewInt(0))},
			big.NewInt(1))},
	}
	c := newClient(t, fb, false)
	bus := &recordingBus{}
	w := chain.NewEventWatcher(c, bus, 0, discardLogger())

	var seen []domain.ContractEvent
	w.OnEvent(func(_ context.Context, ev domain.ContractEvent) { seen = append(seen, ev) })

	n, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "first poll only positions the watcher")
	assert.Equal(t, uint64(101), w.NextBlock())

	fb.head = 5000
	n, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(101), fb.lastQuery.FromBlock.Int64())
	assert.Equal(t, int64(2100), fb.lastQuery.ToBlock.Int64())
	assert.Equal(t, uint64(2101), w.NextBlock())
	require.Len(t, seen, 1)
	assert.Equal(t, domain.EventBetPlaced, seen[0].Kind)
	assert.Equal(t, 1, bus.published[domain.ChannelEvents])
	assert.Equal(t, 1, bus.streamed)
}

func TestEventWatcher_ResumeFromStream(t *testing.T) {
	bus := &recordingBus{}
	for block := uint64(1); block <= 1200; block++ {
		payload, err := json.Marshal(domain.ContractEvent{Kind: domain.EventBetPlaced, MarketID: 1, BlockNumber: block})
		require.NoError(t, err)
		require.NoError(t, bus.StreamAppend(context.Background(), domain.StreamEvents, payload))
	}
	require.NoError(t, bus.StreamAppend(context.Background(), domain.StreamEvents, []byte("not json")))

	fb := &fakeBackend{head: 5000}
	w := chain.NewEventWatcher(newClient(t, fb, false), bus, 0, discardLogger())
	moved, err := w.Resume(context.Background())
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, uint64(1201), w.NextBlock())

	_, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1201), fb.lastQuery.FromBlock.Int64(), "resumed watcher reads instead of jumping to head")

	ahead := chain.NewEventWatcher(newClient(t, fb, false), bus, 3000, discardLogger())
	moved, err = ahead.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, uint64(3000), ahead.NextBlock())

	empty := chain.NewEventWatcher(newClient(t, fb, false), &recordingBus{}, 0, discardLogger())
	moved, err = empty.Resume(context.Background())
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestEventWatcher_ExplicitStartBlock(t *testing.T) {
	fb := &fakeBackend{head: 10}
	w := chain.NewEventWatcher(newClient(t, fb, false), nil, 3, discardLogger())
	_, err := w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), fb.lastQuery.FromBlock.Int64())
	assert.Equal(t, uint64(11), w.NextBlock())

	_, err = w.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(11), w.NextBlock())
}
