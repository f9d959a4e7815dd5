package amounts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("Invalid amount")

var bpsScale = decimal.NewFromInt(10000)

// Shift converts a smallest-unit integer string into a human amount.
func Shift(raw string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing raw amount %q: %w", raw, err)
	}
	return d.Shift(-decimals), nil
}

// Unshift converts a human amount into smallest units, truncating extra precision.
func Unshift(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FeeBasisPoints returns floor(fee*10000/amount). ok is false when amount is zero.
// The quotient is taken at zero precision so no intermediate rounding leaks in.
func FeeBasisPoints(fee, amount decimal.Decimal) (int64, bool) {
	if amount.IsZero() {
		return 0, false
	}
	q, r := fee.Mul(bpsScale).QuoRem(amount, 0)
	// QuoRem truncates toward zero
	if !r.IsZero() && r.Sign() != amount.Sign() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart(), true
}

// FeeBasisPointsRaw is FeeBasisPoints for smallest-unit integer strings.
func FeeBasisPointsRaw(fee, amount string) (int64, bool, error) {
	f, ok := new(big.Int).SetString(strings.TrimSpace(fee), 10)
	if !ok {
		return 0, false, fmt.Errorf("parsing fee %q: %w", fee, ErrInvalidAmount)
	}
	a, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return 0, false, fmt.Errorf("parsing amount %q: %w", amount, ErrInvalidAmount)
	}
	if a.Sign() == 0 {
		return 0, false, nil
	}
	num := new(big.Int).Mul(f, big.NewInt(10000))
	// Div is Euclidean, which is floor for a positive divisor
	if a.Sign() < 0 {
		num.Neg(num)
		a = new(big.Int).Neg(a)
	}
	return new(big.Int).Div(num, a).Int64(), true, nil
}

// ParsePositive accepts well-formed strictly positive decimal strings.
func ParsePositive(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// DebtCoveringGas is max(debt - balance + buffer, minimum). Calls into a credit
// processor always carry enough value to settle its outstanding debt.
func DebtCoveringGas(debt, balance, buffer, minimum *big.Int) *big.Int {
	need := new(big.Int).Sub(debt, balance)
	need.Add(need, buffer)
	if need.Cmp(minimum) < 0 {
		return new(big.Int).Set(minimum)
	}
	return need
}

// ParseBig reads a base-10 integer, treating empty input as zero.
func ParseBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
