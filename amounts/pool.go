package amounts

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")

// PoolReserves is a cached snapshot of a constant-product pair, oriented so that
// the user spends In and receives Out. FeeNumerator/FeeDenominator is the pool fee.
type PoolReserves struct {
	In             decimal.Decimal
	Out            decimal.Decimal
	FeeNumerator   int64
	FeeDenominator int64
}

// SpendFor returns the input needed to receive exactly receive from the pool.
func (p PoolReserves) SpendFor(receive decimal.Decimal) (decimal.Decimal, error) {
	if !receive.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if receive.GreaterThanOrEqual(p.Out) {
		return decimal.Zero, ErrInsufficientLiquidity
	}

	// in * out / (out - receive) - in, grossed up by the fee
	spend := p.In.Mul(receive).Div(p.Out.Sub(receive))
	if p.FeeDenominator > 0 && p.FeeNumerator > 0 {
		den := decimal.NewFromInt(p.FeeDenominator)
		spend = spend.Mul(den).Div(den.Sub(decimal.NewFromInt(p.FeeNumerator)))
	}
	return spend.RoundCeil(int32(decimalPlaces(p.In))), nil
}

// ExpectedSpend bounds the cost of receiving receive at the min and max slippage
// percentages, e.g. 0.5 and 3.
func ExpectedSpend(pool PoolReserves, receive, minSlippage, maxSlippage decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	base, err := pool.SpendFor(receive)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	hundred := decimal.NewFromInt(100)
	lo := base.Mul(hundred.Add(minSlippage)).Div(hundred)
	hi := base.Mul(hundred.Add(maxSlippage)).Div(hundred)
	return lo, hi, nil
}

func decimalPlaces(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}
