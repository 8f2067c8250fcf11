// Package chain talks to the prediction market contract over JSON-RPC:
// view reads for snapshots, signed transactions for the four state-changing
// calls, and log polling for contract events.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/Poornadinethyapa/predictionm/internal/crypto"
	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

const (
	defaultGasLimit     = uint64(1_000_000)
	defaultPollInterval = 2 * time.Second
)

// Backend is the subset of *ethclient.Client the Client uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Config holds the connection parameters for a Client.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// RatePerSec caps RPC calls per second. Zero disables the limiter.
	RatePerSec   float64
	Burst        int
	PollInterval time.Duration
	// GasLimit is used when gas estimation fails.
	GasLimit uint64
}

// Client is the contract adapter. It satisfies snapshot.ContractReader and
// txn.Submitter.
type Client struct {
	backend      Backend
	closer       func()
	contract     common.Address
	chainID      *big.Int
	limiter      *rate.Limiter
	signer       *crypto.TxSigner
	pollInterval time.Duration
	gasLimit     uint64
	logger       *slog.Logger
}

// Dial connects to cfg.RPCURL. signer may be nil for a read-only client.
func Dial(ctx context.Context, cfg Config, signer *crypto.TxSigner, logger *slog.Logger) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial rpc %s: %w", cfg.RPCURL, err)
	}
	c := NewClient(ec, cfg, signer, logger)
	c.closer = ec.Close
	return c, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, cfg Config, signer *crypto.TxSigner, logger *slog.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	gas := cfg.GasLimit
	if gas == 0 {
		gas = defaultGasLimit
	}
	return &Client{
		backend:      backend,
		contract:     common.HexToAddress(cfg.ContractAddress),
		chainID:      big.NewInt(cfg.ChainID),
		limiter:      limiter,
		signer:       signer,
		pollInterval: poll,
		gasLimit:     gas,
		logger:       logger.With(slog.String("component", "chain_client")),
	}
}

// Close releases the RPC connection.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// Address returns the signing wallet, or the empty string for a read-only
// client.
func (c *Client) Address() string {
	if c.signer == nil {
		return ""
	}
	return c.signer.Address().Hex()
}

// Contract returns the market contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := MarketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := MarketABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}

// MarketCount returns the number of markets the contract reports.
func (c *Client) MarketCount(ctx context.Context) (uint64, error) {
	vals, err := c.call(ctx, "marketCount")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok || !n.IsUint64() {
		return 0, fmt.Errorf("chain: marketCount: unexpected value %v", vals[0])
	}
	return n.Uint64(), nil
}

// GetMarket reads the basic record of market id.
func (c *Client) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	vals, err := c.call(ctx, "getMarketBasic", new(big.Int).SetUint64(id))
	if err != nil {
		return domain.Market{}, err
	}
	m, err := decodeMarket(id, vals)
	if err != nil {
		return domain.Market{}, fmt.Errorf("chain: getMarketBasic(%d): %w", id, err)
	}
	return m, nil
}

func decodeMarket(id uint64, vals []any) (domain.Market, error) {
	if len(vals) != 8 {
		return domain.Market{}, fmt.Errorf("expected 8 values, got %d", len(vals))
	}
	owner, ok0 := vals[0].(common.Address)
	question, ok1 := vals[1].(string)
	deadline, ok2 := vals[2].(*big.Int)
	resolved, ok3 := vals[3].(bool)
	winning, ok4 := vals[4].(*big.Int)
	total, ok5 := vals[5].(*big.Int)
	stakes, ok6 := vals[6].([]*big.Int)
	outcomes, ok7 := vals[7].([]string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return domain.Market{}, errors.New("unexpected field types")
	}
	if !deadline.IsInt64() || !winning.IsInt64() {
		return domain.Market{}, errors.New("deadline or winning outcome out of range")
	}
	return domain.Market{
		ID:             id,
		Owner:          owner.Hex(),
		Question:       question,
		Outcomes:       outcomes,
		Deadline:       time.Unix(deadline.Int64(), 0).UTC(),
		Resolved:       resolved,
		WinningOutcome: int(winning.Int64()),
		OutcomeStakes:  stakes,
		TotalStaked:    total,
	}, nil
}

// UserStakeIn returns how much user has staked on outcome of market id.
func (c *Client) UserStakeIn(ctx context.Context, id uint64, user string, outcome int) (*big.Int, error) {
	if !common.IsHexAddress(user) {
		return nil, fmt.Errorf("chain: userStakeIn: %w: bad address %q", domain.ErrValidation, user)
	}
	vals, err := c.call(ctx, "userStakeIn", new(big.Int).SetUint64(id), common.HexToAddress(user), big.NewInt(int64(outcome)))
	if err != nil {
		return nil, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: userStakeIn: unexpected value %v", vals[0])
	}
	return n, nil
}

// LatestBlock returns the current head block number.
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// Submit signs and broadcasts call, returning the transaction hash. It does
// not wait for the transaction to be mined.
func (c *Client) Submit(ctx context.Context, call domain.ContractCall) (string, error) {
	if c.signer == nil {
		return "", domain.ErrNoSigner
	}
	data, err := MarketABI.Pack(call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("chain: pack %s: %w", call.Method, err)
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	from := c.signer.Address()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: gas price: %w", err)
	}

	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &c.contract,
		GasPrice: gasPrice,
		Value:    value,
		Data:     data,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "gas estimate failed, using default",
			slog.String("method", call.Method),
			slog.Uint64("limit", c.gasLimit),
			slog.String("error", err.Error()),
		)
		gas = c.gasLimit
	} else {
		gas = gas * 12 / 10
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := c.signer.SignTx(tx, c.chainID)
	if err != nil {
		return "", fmt.Errorf("chain: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("chain: send %s: %w", call.Method, err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "transaction sent",
		slog.String("action", string(call.Action)),
		slog.String("tx", hash),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return hash, nil
}

// Wait polls for the receipt of hash until it is mined or ctx ends. A mined
// but reverted transaction returns the receipt together with an error
// wrapping domain.ErrTxReverted.
func (c *Client) Wait(ctx context.Context, hash string) (domain.TxReceipt, error) {
	h := common.HexToHash(hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.TxReceipt{}, err
		}
		receipt, err := c.backend.TransactionReceipt(ctx, h)
		switch {
		case err == nil && receipt != nil:
			return c.toReceipt(ctx, hash, receipt)
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.logger.DebugContext(ctx, "receipt poll failed", slog.String("tx", hash), slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return domain.TxReceipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) toReceipt(ctx context.Context, hash string, r *types.Receipt) (domain.TxReceipt, error) {
	out := domain.TxReceipt{
		Hash:    hash,
		GasUsed: r.GasUsed,
		Success: r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	if !out.Success {
		return out, fmt.Errorf("chain: tx %s: %w", hash, domain.ErrTxReverted)
	}
	for _, lg := range r.Logs {
		if lg == nil || lg.Address != c.contract {
			continue
		}
		ev, err := DecodeLog(*lg)
		if err != nil {
			c.logger.WarnContext(ctx, "undecodable receipt log", slog.String("tx", hash), slog.String("error", err.Error()))
			continue
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}

// FilterEvents returns the decoded contract events in blocks [from, to].
func (c *Client) FilterEvents(ctx context.Context, from, to uint64) ([]domain.ContractEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("chain: filter logs %d-%d: %w", from, to, err)
	}
	events := make([]domain.ContractEvent, 0, len(logs))
	for _, lg := range logs {
		ev, err := DecodeLog(lg)
		if err != nil {
			c.logger.WarnContext(ctx, "undecodable log",
				slog.String("tx", lg.TxHash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
