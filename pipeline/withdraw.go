package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"goeverbridge/amounts"
	"goeverbridge/types"

	"golang.org/x/sync/errgroup"
)

const (
	withdrawTokensMethod  = "withdrawTokens(uint128,uint128)"
	withdrawWrappedMethod = "withdrawWever(uint128,uint128)"
	withdrawNativeMethod  = "withdrawEver(uint128)"

	nativeDecimals = 9
)

// withdrawAsset is one of the balances a cancelled processor holds.
type withdrawAsset int

const (
	assetTokens withdrawAsset = iota
	assetWrapped
	assetNative
)

// pendingWithdrawal is a sent withdrawal the processor balances do not reflect yet.
type pendingWithdrawal struct {
	label  string // as listed in TransferData.PendingWithdrawals
	asset  withdrawAsset
	target *big.Int // the balance is at most this once the withdrawal lands
}

// withdrawBalance is the last observed balance of asset, zero before the first read.
func withdrawBalance(s types.WithdrawState, asset withdrawAsset) *big.Int {
	raw := s.TokenBalance
	switch asset {
	case assetWrapped:
		raw = s.WrappedBalance
	case assetNative:
		raw = s.NativeBalance
	}
	v, err := amounts.ParseBig(raw)
	if err != nil {
		return new(big.Int)
	}
	return v
}

func (p *Pipeline) startWithdraw() {
	if p.isDisposed() {
		return
	}
	if !p.withdraw.Start(p.ctx, p.withdrawTick) {
		p.withdraw.Poke()
	}
}

// withdrawTick reads what is left on a cancelled processor. The loop ends
// once nothing withdrawable remains.
func (p *Pipeline) withdrawTick(ctx context.Context) (bool, error) {
	d := p.store.Data()
	addr := d.CreditProcessorAddress

	var tokens, wrapped, native *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tokens, err = p.walletBalance(gctx, d.Pipeline.TVMTokenRoot, addr)
		return err
	})
	g.Go(func() (err error) {
		wrapped, err = p.walletBalance(gctx, d.Pipeline.WrappedNativeRoot, addr)
		return err
	})
	g.Go(func() (err error) {
		native, err = p.deps.TVM.Balance(gctx, addr)
		return err
	})
	if err := g.Wait(); err != nil {
		return false, err
	}

	settled := tokens.Sign() == 0 && wrapped.Sign() == 0 && native.Cmp(p.gas.minimum) < 0
	p.store.SetData(func(d types.TransferData) types.TransferData {
		d.PendingWithdrawals = p.prunePending(settled, tokens, wrapped, native)
		return d
	})
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Withdraw = WithdrawBalances(s.Withdraw, tokens, wrapped, native, settled)
		return s
	})
	return settled, nil
}

// prunePending drops withdrawals the balances show have landed and returns
// the labels of the rest. Everything is dropped once the processor is settled.
// Runs inside store updates, which serialize access to p.pending.
func (p *Pipeline) prunePending(settled bool, balances ...*big.Int) []string {
	kept := p.pending[:0]
	for _, w := range p.pending {
		if !settled && balances[w.asset].Cmp(w.target) > 0 {
			kept = append(kept, w)
		}
	}
	p.pending = kept
	return p.pendingLabels()
}

func (p *Pipeline) pendingLabels() []string {
	var labels []string
	for _, w := range p.pending {
		labels = append(labels, w.label)
	}
	return labels
}

func (p *Pipeline) walletBalance(ctx context.Context, root, owner string) (*big.Int, error) {
	if root == "" {
		return new(big.Int), nil
	}
	wallet, err := p.deps.TVM.TokenWalletAddress(ctx, root, owner)
	if err != nil {
		return nil, err
	}
	balance, err := p.deps.TVM.TokenBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return new(big.Int), nil
	}
	return balance, nil
}

// WithdrawTokens moves amount of the deposited token from a cancelled
// processor to the user.
func (p *Pipeline) WithdrawTokens(ctx context.Context, amount string) error {
	if _, err := amounts.ParsePositive(amount); err != nil {
		return err
	}
	d, err := p.withdrawReady()
	if err != nil {
		return err
	}
	return p.withdrawToken(ctx, d, amount, d.Token.Decimals, assetTokens)
}

// WithdrawWrapped moves wrapped native coins left after a failed swap.
func (p *Pipeline) WithdrawWrapped(ctx context.Context, amount string) error {
	if _, err := amounts.ParsePositive(amount); err != nil {
		return err
	}
	d, err := p.withdrawReady()
	if err != nil {
		return err
	}
	return p.withdrawToken(ctx, d, amount, nativeDecimals, assetWrapped)
}

// WithdrawNative moves native coins off the processor.
func (p *Pipeline) WithdrawNative(ctx context.Context, amount string) error {
	value, err := amounts.ParsePositive(amount)
	if err != nil {
		return err
	}
	d, err := p.withdrawReady()
	if err != nil {
		return err
	}
	raw := amounts.Unshift(value, nativeDecimals)
	params, err := uint128Params(raw)
	if err != nil {
		return err
	}
	gas, err := p.debtCoveringGas(p.store.State().CreditProcessor)
	if err != nil {
		return err
	}
	return p.sendWithdraw(ctx, assetNative, "native", raw, types.TVMCall{
		To:     d.CreditProcessorAddress,
		Method: withdrawNativeMethod,
		Params: params,
		Amount: gas,
		Bounce: true,
	})
}

func (p *Pipeline) withdrawReady() (types.TransferData, error) {
	if p.isDisposed() {
		return types.TransferData{}, ErrDisposed
	}
	if !p.variant.credit {
		return types.TransferData{}, ErrUnsupportedVariant
	}
	d, st := p.store.Snapshot()
	if d.Pipeline == nil || d.Token == nil || d.CreditProcessorAddress == "" {
		return d, ErrNotResolved
	}
	if st.Phase != types.PhaseCancelled {
		return d, ErrNotReady
	}
	return d, nil
}

func (p *Pipeline) withdrawToken(ctx context.Context, d types.TransferData, amount string, decimals int32, asset withdrawAsset) error {
	root, method := d.Pipeline.TVMTokenRoot, withdrawTokensMethod
	if asset == assetWrapped {
		root, method = d.Pipeline.WrappedNativeRoot, withdrawWrappedMethod
	}
	value, err := amounts.ParsePositive(amount)
	if err != nil {
		return err
	}
	raw := amounts.Unshift(value, decimals)

	gas, err := p.debtCoveringGas(p.store.State().CreditProcessor)
	if err != nil {
		return err
	}
	// the processor deploys the user's wallet when it does not exist yet
	deployValue := new(big.Int)
	owner := d.LeftAddress
	if d.CreditEvent != nil {
		owner = d.CreditEvent.User
	}
	wallet, err := p.deps.TVM.TokenWalletAddress(ctx, root, owner)
	if err != nil {
		return fmt.Errorf("user wallet: %w", err)
	}
	deployed, err := p.deps.TVM.IsDeployed(ctx, wallet)
	if err != nil {
		return err
	}
	if !deployed {
		deployValue.Set(p.gas.deployWallet)
		gas.Add(gas, deployValue)
	}

	params, err := uint128Params(raw, deployValue)
	if err != nil {
		return err
	}
	return p.sendWithdraw(ctx, asset, root, raw, types.TVMCall{
		To:     d.CreditProcessorAddress,
		Method: method,
		Params: params,
		Amount: gas,
		Bounce: true,
	})
}

func (p *Pipeline) sendWithdraw(ctx context.Context, asset withdrawAsset, name string, raw *big.Int, call types.TVMCall) error {
	var before *big.Int
	if !p.store.TrySetState(func(s types.PipelineState) (types.PipelineState, bool) {
		if s.Withdraw.IsWithdrawing {
			return s, false
		}
		before = withdrawBalance(s.Withdraw, asset)
		s.Withdraw = WithdrawStarted(s.Withdraw)
		return s, true
	}) {
		return ErrAlreadyInProgress
	}
	what := name + ":" + raw.String()

	err := p.deps.TVMWriter.Call(ctx, call)
	if err != nil {
		p.lggr.Warnw("Withdraw failed", "method", call.Method, "err", err)
		p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.Withdraw = WithdrawFailed(s.Withdraw, err)
			return s
		})
		return err
	}

	p.lggr.Infow("Withdraw sent", "method", call.Method, "withdrawal", what)
	target := new(big.Int).Sub(before, raw)
	if target.Sign() < 0 {
		target.SetInt64(0)
	}
	p.store.SetData(func(d types.TransferData) types.TransferData {
		p.pending = append(p.pending, pendingWithdrawal{label: what, asset: asset, target: target})
		d.PendingWithdrawals = p.pendingLabels()
		return d
	})
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Withdraw.IsWithdrawing = false
		return s
	})
	p.startWithdraw()
	return nil
}
