package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

var eventKinds = map[string]domain.EventKind{
	"MarketCreated":  domain.EventMarketCreated,
	"BetPlaced":      domain.EventBetPlaced,
	"MarketResolved": domain.EventMarketResolved,
	"PayoutClaimed":  domain.EventPayoutClaimed,
}

// DecodeLog turns a raw contract log into a ContractEvent.
func DecodeLog(lg types.Log) (domain.ContractEvent, error) {
	if len(lg.Topics) == 0 {
		return domain.ContractEvent{}, errors.New("chain: log has no topics")
	}
	ev, err := MarketABI.EventByID(lg.Topics[0])
	if err != nil {
		return domain.ContractEvent{}, fmt.Errorf("chain: unknown event %s: %w", lg.Topics[0].Hex(), err)
	}
	kind, ok := eventKinds[ev.Name]
	if !ok {
		return domain.ContractEvent{}, fmt.Errorf("chain: unhandled event %s", ev.Name)
	}

	fields := make(map[string]any)
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
		return domain.ContractEvent{}, fmt.Errorf("chain: %s topics: %w", ev.Name, err)
	}
	if len(lg.Data) > 0 {
		if err := MarketABI.UnpackIntoMap(fields, ev.Name, lg.Data); err != nil {
			return domain.ContractEvent{}, fmt.Errorf("chain: %s data: %w", ev.Name, err)
		}
	}

	out := domain.ContractEvent{
		Kind:        kind,
		MarketID:    bigField(fields, "marketId").Uint64(),
		TxHash:      lg.TxHash.Hex(),
		BlockNumber: lg.BlockNumber,
	}
	switch kind {
	case domain.EventMarketCreated:
		out.Account = addrField(fields, "owner")
		out.Question, _ = fields["question"].(string)
		out.Outcomes, _ = fields["outcomes"].([]string)
		out.Deadline = bigField(fields, "deadline").Int64()
	case domain.EventBetPlaced:
		out.Account = addrField(fields, "bettor")
		out.Outcome = int(bigField(fields, "outcome").Int64())
		out.Amount = bigField(fields, "amount")
	case domain.EventMarketResolved:
		out.Outcome = int(bigField(fields, "winningOutcome").Int64())
	case domain.EventPayoutClaimed:
		out.Account = addrField(fields, "claimer")
		out.Amount = bigField(fields, "amount")
	}
	return out, nil
}

func bigField(m map[string]any, name string) *big.Int {
	if v, ok := m[name].(*big.Int); ok && v != nil {
		return v
	}
	return new(big.Int)
}

func addrField(m map[string]any, name string) string {
	if v, ok := m[name].(common.Address); ok {
		return v.Hex()
	}
	return ""
}
