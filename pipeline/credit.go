package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"goeverbridge/amounts"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

const (
	deployProcessorMethod = "deployProcessor(cell,address)"
	processMethod         = "process()"
	cancelMethod          = "cancel()"
)

// creditTick mirrors the credit processor the factory deploys for the deposit.
func (p *Pipeline) creditTick(ctx context.Context) (bool, error) {
	d, st := p.store.Snapshot()
	if st.CreditProcessor.Status.Terminal() {
		return true, nil
	}
	addr := d.CreditProcessorAddress

	details, err := p.deps.TVM.CreditProcessorDetails(ctx, addr)
	if err != nil {
		return false, err
	}
	if details == nil {
		outdated := p.stale(d.SourceTimestamp)
		p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.CreditProcessor = ProcessorMissing(s.CreditProcessor, outdated)
			return s
		})
		return false, nil
	}

	balance, err := p.deps.TVM.Balance(ctx, addr)
	if err != nil {
		return false, err
	}
	last, err := p.deps.TVM.LastTransactionTime(ctx, addr)
	if err != nil {
		return false, err
	}
	stuck := p.stale(last)
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.CreditProcessor = ProcessorObserved(s.CreditProcessor, *details, balance, stuck)
		return s
	})
	if details.State.NeedsNudge() {
		p.quoteSwap(ctx, d)
	}

	switch details.State {
	case types.ProcessorProcessed:
		p.store.SetData(func(d types.TransferData) types.TransferData {
			d.SwapAmount = bigString(details.SwapAmount)
			residual := new(big.Int)
			if details.Amount != nil && details.SwapAmount != nil {
				residual.Sub(details.Amount, details.SwapAmount)
			}
			d.ResidualAmount = residual.String()
			return d
		})
		p.advance(stageCredit)
		return true, nil
	case types.ProcessorCancelled:
		p.lggr.Infow("Credit processor cancelled", "processor", addr)
		p.setPhase(types.PhaseCancelled)
		p.startWithdraw()
		return true, nil
	case types.ProcessorEventRejected:
		p.lggr.Infow("Credit processor event rejected", "processor", addr)
		p.setPhase(types.PhaseRejected)
		return true, nil
	}
	return false, nil
}

// Broadcast deploys a credit processor the relays never deployed.
func (p *Pipeline) Broadcast(ctx context.Context) error {
	d, st, err := p.creditReady()
	if err != nil {
		return err
	}
	if st.CreditProcessor.Busy() {
		return ErrAlreadyInProgress
	}
	if st.CreditProcessor.Exists || !st.CreditProcessor.IsOutdated {
		return ErrNotReady
	}
	vote, err := cell.FromBOC(d.EventVoteData)
	if err != nil {
		return fmt.Errorf("vote data: %w", err)
	}
	cfg, err := tvmcell.ParseAddress(d.Pipeline.EverscaleConfiguration)
	if err != nil {
		return err
	}
	params := cell.BeginCell()
	if err := params.StoreRef(vote); err != nil {
		return err
	}
	if err := params.StoreAddr(cfg); err != nil {
		return err
	}

	return p.processorAction(ctx,
		func(s *types.CreditProcessorState) *bool { return &s.IsBroadcasting },
		types.TVMCall{
			To:     d.Pipeline.CreditFactoryAddress,
			Method: deployProcessorMethod,
			Params: params.EndCell().ToBOC(),
			Amount: amounts.DebtCoveringGas(new(big.Int), new(big.Int), p.gas.buffer, p.gas.minimum),
			Bounce: true,
		})
}

// Process asks a processor waiting for a nudge to continue.
func (p *Pipeline) Process(ctx context.Context) error {
	return p.nudge(ctx, processMethod, func(s *types.CreditProcessorState) *bool { return &s.IsProcessing })
}

// Cancel asks the processor to give up and keep the deposit withdrawable.
func (p *Pipeline) Cancel(ctx context.Context) error {
	return p.nudge(ctx, cancelMethod, func(s *types.CreditProcessorState) *bool { return &s.IsCancelling })
}

func (p *Pipeline) nudge(ctx context.Context, method string, flag func(*types.CreditProcessorState) *bool) error {
	d, st, err := p.creditReady()
	if err != nil {
		return err
	}
	cp := st.CreditProcessor
	if cp.Busy() {
		return ErrAlreadyInProgress
	}
	if !cp.Exists || !cp.ProcessorState.NeedsNudge() {
		return ErrNotReady
	}
	gas, err := p.debtCoveringGas(cp)
	if err != nil {
		return err
	}
	return p.processorAction(ctx, flag, types.TVMCall{
		To:     d.CreditProcessorAddress,
		Method: method,
		Amount: gas,
		Bounce: true,
	})
}

func (p *Pipeline) creditReady() (types.TransferData, types.PipelineState, error) {
	if p.isDisposed() {
		return types.TransferData{}, types.PipelineState{}, ErrDisposed
	}
	if !p.variant.credit {
		return types.TransferData{}, types.PipelineState{}, ErrUnsupportedVariant
	}
	d, st := p.store.Snapshot()
	if d.Pipeline == nil || d.CreditProcessorAddress == "" {
		return d, st, ErrNotResolved
	}
	if st.CreditProcessor.Status.Terminal() {
		return d, st, ErrNotReady
	}
	return d, st, nil
}

// processorAction sends call while the flag is held. Only one of broadcast,
// process and cancel may be in flight. The flag is released once the call is
// submitted, the loop observes the outcome.
func (p *Pipeline) processorAction(ctx context.Context, flag func(*types.CreditProcessorState) *bool, call types.TVMCall) error {
	if !p.store.TrySetState(func(s types.PipelineState) (types.PipelineState, bool) {
		if s.CreditProcessor.Busy() {
			return s, false
		}
		*flag(&s.CreditProcessor) = true
		s.CreditProcessor.ErrorMessage = ""
		return s, true
	}) {
		return ErrAlreadyInProgress
	}

	err := p.deps.TVMWriter.Call(ctx, call)
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		if err != nil {
			s.CreditProcessor = ProcessorActionFailed(s.CreditProcessor, err)
			return s
		}
		*flag(&s.CreditProcessor) = false
		return s
	})
	if err != nil {
		p.lggr.Warnw("Credit processor call failed", "method", call.Method, "err", err)
		return err
	}
	p.lggr.Infow("Credit processor call sent", "method", call.Method, "to", call.To)
	p.startStage(stageCredit)
	return nil
}

func (p *Pipeline) debtCoveringGas(cp types.CreditProcessorState) (*big.Int, error) {
	debt, err := amounts.ParseBig(cp.Debt)
	if err != nil {
		return nil, err
	}
	balance, err := amounts.ParseBig(cp.Balance)
	if err != nil {
		return nil, err
	}
	return amounts.DebtCoveringGas(debt, balance, p.gas.buffer, p.gas.minimum), nil
}

// uint128Params encodes a call body of uint128 arguments.
func uint128Params(values ...*big.Int) ([]byte, error) {
	b := cell.BeginCell()
	for _, v := range values {
		if v.Sign() < 0 {
			return nil, errors.New("negative uint128 argument")
		}
		if err := b.StoreBigUInt(v, 128); err != nil {
			return nil, err
		}
	}
	return b.EndCell().ToBOC(), nil
}
