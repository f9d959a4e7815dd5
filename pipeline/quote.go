package pipeline

import (
	"context"
	"errors"
	"fmt"

	"goeverbridge/amounts"
	"goeverbridge/config"
	"goeverbridge/types"

	"github.com/shopspring/decimal"
)

// PoolReader is implemented by TVM readers that can read DEX pair reserves.
// Reserves are oriented so that spentRoot is the input side.
type PoolReader interface {
	PoolReserves(ctx context.Context, pair, spentRoot string) (*amounts.PoolReserves, error)
}

// slippage bounds in percent
type slippage struct {
	min decimal.Decimal
	max decimal.Decimal
}

func parseSlippage(c config.PipelineConfig) (slippage, error) {
	var (
		s    slippage
		errs []error
	)
	parse := func(name, value string) decimal.Decimal {
		if value == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(value)
		if err != nil || d.IsNegative() {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, value))
			return decimal.Zero
		}
		return d
	}
	s.min = parse("min slippage", c.MinSlippage)
	s.max = parse("max slippage", c.MaxSlippage)
	if s.min.GreaterThan(s.max) {
		errs = append(errs, fmt.Errorf("min slippage %s is above max slippage %s", s.min, s.max))
	}
	return s, errors.Join(errs...)
}

// quoteSwap bounds what the processor's swap costs in deposited tokens to
// receive the native coins the deposit expects, so the user can tell a retry
// from a cancel. Quotes are best effort and never fail the credit loop.
func (p *Pipeline) quoteSwap(ctx context.Context, d types.TransferData) {
	pools, ok := p.deps.TVM.(PoolReader)
	if !ok || d.Pipeline == nil || d.Pipeline.DexPairAddress == "" || d.CreditEvent == nil {
		return
	}
	receive, err := decimal.NewFromString(d.CreditEvent.ExpectedEvers)
	if err != nil || !receive.IsPositive() {
		return
	}

	reserves, err := pools.PoolReserves(ctx, d.Pipeline.DexPairAddress, d.Pipeline.TVMTokenRoot)
	if err != nil {
		p.lggr.Debugw("Pool reserves unavailable", "pair", d.Pipeline.DexPairAddress, "err", err)
		return
	}

	var (
		minSpend, maxSpend string
		underfunded        bool
	)
	lo, hi, err := amounts.ExpectedSpend(*reserves, receive, p.slippage.min, p.slippage.max)
	switch {
	case errors.Is(err, amounts.ErrInsufficientLiquidity):
		underfunded = true
	case err != nil:
		p.lggr.Debugw("Swap quote failed", "pair", d.Pipeline.DexPairAddress, "err", err)
		return
	default:
		lo, hi = lo.Ceil(), hi.Ceil()
		minSpend, maxSpend = lo.String(), hi.String()
		if have, err := decimal.NewFromString(d.CreditEvent.TokenAmount); err == nil {
			underfunded = have.LessThan(lo)
		}
	}
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.CreditProcessor = ProcessorQuoted(s.CreditProcessor, minSpend, maxSpend, underfunded)
		return s
	})
}
