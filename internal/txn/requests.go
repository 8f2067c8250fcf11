package txn

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Poornadinethyapa/predictionm/internal/domain"
)

// CreateMarketRequest asks for a new market.
type CreateMarketRequest struct {
	Question string    `json:"question" validate:"required"`
	Outcomes []string  `json:"outcomes" validate:"min=2,dive,required"`
	Deadline time.Time `json:"deadline" validate:"required"`
}

// PlaceBetRequest stakes Amount (decimal ether, e.g. "0.05") on Outcome.
type PlaceBetRequest struct {
	MarketID uint64 `json:"market_id"`
	Outcome  int    `json:"outcome" validate:"gte=0"`
	Amount   string `json:"amount" validate:"required"`
}

// ResolveRequest declares Outcome the winner of MarketID.
type ResolveRequest struct {
	MarketID uint64 `json:"market_id"`
	Outcome  int    `json:"outcome" validate:"gte=0"`
}

// ClaimRequest collects the caller's payout from a resolved market.
type ClaimRequest struct {
	MarketID uint64 `json:"market_id"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func checkStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q", domain.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// validateCreate trims the question and labels in place.
func validateCreate(req *CreateMarketRequest, now time.Time) error {
	req.Question = strings.TrimSpace(req.Question)
	labels := make([]string, len(req.Outcomes))
	for i, o := range req.Outcomes {
		labels[i] = strings.TrimSpace(o)
	}
	req.Outcomes = labels

	if err := checkStruct(req); err != nil {
		return err
	}
	if !req.Deadline.After(now) {
		return invalid("deadline must be in the future")
	}
	return nil
}

func validateBet(req PlaceBetRequest, m *domain.Market, now time.Time) (*big.Int, error) {
	if err := checkStruct(req); err != nil {
		return nil, err
	}
	wei, err := domain.ParseEther(strings.TrimSpace(req.Amount))
	if err != nil {
		return nil, err
	}
	if wei.Sign() <= 0 {
		return nil, invalid("amount must be greater than zero")
	}
	if m != nil {
		if req.Outcome >= len(m.Outcomes) {
			return nil, invalid("outcome %d out of range for market %d", req.Outcome, m.ID)
		}
		if m.Status(now) != domain.StatusActive {
			return nil, invalid("market %d is not accepting bets", m.ID)
		}
	}
	return wei, nil
}

func validateResolve(req ResolveRequest, m *domain.Market, resolver string, now time.Time) error {
	if err := checkStruct(req); err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if req.Outcome >= len(m.Outcomes) {
		return invalid("outcome %d out of range for market %d", req.Outcome, m.ID)
	}
	if m.Resolved {
		return invalid("market %d is already resolved", m.ID)
	}
	if !m.OwnedBy(resolver) {
		return invalid("only the market owner can resolve market %d", m.ID)
	}
	if now.Before(m.Deadline) {
		return invalid("market %d deadline has not passed", m.ID)
	}
	return nil
}

func validateClaim(req ClaimRequest, m *domain.Market) error {
	if m != nil && !m.Resolved {
		return invalid("market %d is not resolved", m.ID)
	}
	return nil
}
