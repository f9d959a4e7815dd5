package TVMRPC

import (
	"context"
	"fmt"
	"math/big"

	"goeverbridge/amounts"
	"goeverbridge/tvmcell"

	"github.com/shopspring/decimal"
)

// pairReserves is what a DEX pair reports about its two sides.
type pairReserves struct {
	leftRoot       string
	rightRoot      string
	left           *big.Int
	right          *big.Int
	feeNumerator   *big.Int
	feeDenominator *big.Int
}

// PoolReserves reads the reserves of a DEX pair in raw units, oriented so that
// spentRoot is the input side.
func (c *Client) PoolReserves(ctx context.Context, pair, spentRoot string) (*amounts.PoolReserves, error) {
	res, err := c.runGetMethod(ctx, pair, "get_reserves")
	if err != nil {
		return nil, err
	}
	var r pairReserves
	if r.leftRoot, err = loadAddress(res, 0); err != nil {
		return nil, err
	}
	if r.rightRoot, err = loadAddress(res, 1); err != nil {
		return nil, err
	}
	for i, dst := range []**big.Int{&r.left, &r.right, &r.feeNumerator, &r.feeDenominator} {
		if *dst, err = res.Int(uint(i + 2)); err != nil {
			return nil, err
		}
	}
	return r.oriented(spentRoot)
}

func (r pairReserves) oriented(spentRoot string) (*amounts.PoolReserves, error) {
	spent, err := tvmcell.Normalize(spentRoot)
	if err != nil {
		return nil, err
	}
	in, out := r.left, r.right
	switch spent {
	case r.leftRoot:
	case r.rightRoot:
		in, out = r.right, r.left
	default:
		return nil, fmt.Errorf("token %s is not traded in the pair", spentRoot)
	}
	if !r.feeNumerator.IsInt64() || !r.feeDenominator.IsInt64() {
		return nil, fmt.Errorf("pair fee %s/%s out of range", r.feeNumerator, r.feeDenominator)
	}
	return &amounts.PoolReserves{
		In:             decimal.NewFromBigInt(in, 0),
		Out:            decimal.NewFromBigInt(out, 0),
		FeeNumerator:   r.feeNumerator.Int64(),
		FeeDenominator: r.feeDenominator.Int64(),
	}, nil
}
