package domain

import (
	"fmt"
	"math/big"

	"github.com/cockroachdb/apd/v3"
)

// WeiDecimals is the number of decimal places between wei and ether.
const WeiDecimals = 18

// DecimalContext is shared by every monetary and percentage computation.
// Results are rounded half-up when quantized for display.
var DecimalContext = apd.Context{
	Precision:   78,
	MaxExponent: apd.MaxExponent,
	MinExponent: apd.MinExponent,
	Traps:       apd.DefaultTraps,
	Rounding:    apd.RoundHalfUp,
}

// WeiToEther converts a wei amount into an exact ether decimal.
func WeiToEther(wei *big.Int) *apd.Decimal {
	if wei == nil {
		return apd.New(0, 0)
	}
	return apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(wei), -WeiDecimals)
}

// FormatDecimal rounds d half-up to the given number of places and renders it
// in plain notation.
func FormatDecimal(d *apd.Decimal, places int) string {
	out := new(apd.Decimal)
	if _, err := DecimalContext.Quantize(out, d, int32(-places)); err != nil {
		return d.Text('f')
	}
	return out.Text('f')
}

// FormatEther renders a wei amount as ether with the given number of places.
func FormatEther(wei *big.Int, places int) string {
	return FormatDecimal(WeiToEther(wei), places)
}

// ParseEther parses a decimal ether amount ("0.25") into wei. Amounts with
// more than 18 fractional digits are rejected rather than truncated.
func ParseEther(s string) (*big.Int, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", ErrValidation, s)
	}
	scaled := new(apd.Decimal)
	if _, err := DecimalContext.Mul(scaled, d, apd.New(1, WeiDecimals)); err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q: %v", ErrValidation, s, err)
	}
	whole := new(apd.Decimal)
	cond, err := DecimalContext.Quantize(whole, scaled, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q: %v", ErrValidation, s, err)
	}
	if cond.Inexact() {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrValidation, s, WeiDecimals)
	}
	wei := whole.Coeff.MathBigInt()
	if whole.Negative {
		wei.Neg(wei)
	}
	return wei, nil
}
