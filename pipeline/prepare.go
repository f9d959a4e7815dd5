package pipeline

import (
	"context"
	"errors"
	"fmt"

	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

const deployEventMethod = "deployEvent(cell)"

// deriveEventAddress computes where the TVM event configuration deploys the
// event for this transfer's vote data.
func (p *Pipeline) deriveEventAddress(ctx context.Context, d types.TransferData) (string, error) {
	configuration := d.Pipeline.EverscaleConfiguration
	cfg, err := p.deps.TVM.EventConfigDetails(ctx, configuration)
	if err != nil {
		return "", fmt.Errorf("event configuration: %w", err)
	}
	if cfg == nil {
		return "", fmt.Errorf("event configuration %s is not deployed", configuration)
	}
	return tvmcell.DeriveEventAddress(cfg.EventCode, configuration, d.EventVoteData)
}

// prepareTick waits for the relays to deploy the destination event and then
// follows its vote tally.
func (p *Pipeline) prepareTick(ctx context.Context) (bool, error) {
	d, st := p.store.Snapshot()
	if st.Event.Status.Terminal() {
		return true, nil
	}
	addr := d.DeriveEventAddress

	deployed, err := p.deps.TVM.IsDeployed(ctx, addr)
	if err != nil {
		return false, err
	}
	if !deployed {
		outdated := p.stale(d.SourceTimestamp)
		st = p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.Prepare = PrepareWaiting(s.Prepare, outdated)
			if s.Prepare.IsOutdated {
				s.Prepare = PrepareAbandoned(s.Prepare)
			}
			return s
		})
		if st.Prepare.Status == types.StatusDisabled {
			p.lggr.Infow("Event was not deployed in time, manual deploy required", "event", addr)
			return true, nil
		}
		return false, nil
	}

	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Prepare = PrepareDeployed(s.Prepare)
		s.Phase = AdvancePhase(s.Phase, types.PhaseAwaitingDestinationVotes)
		return s
	})

	details, err := p.deps.TVM.EventDetails(ctx, addr)
	if err != nil {
		return false, err
	}
	if details == nil {
		return false, nil
	}
	st = p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Event = EventTally(s.Event, *details)
		return s
	})
	switch st.Event.Status {
	case types.StatusConfirmed:
		p.advance(stagePrepare)
		return true, nil
	case types.StatusRejected:
		p.lggr.Infow("Event rejected by relays", "event", addr)
		p.setPhase(types.PhaseRejected)
		return true, nil
	}
	return false, nil
}

// watchDeployment wakes the prepare loop as soon as the reader reports the
// event deployed. Readers without push support are only polled.
func (p *Pipeline) watchDeployment(addr string) {
	sub, ok := p.deps.TVM.(DeploySubscriber)
	if !ok || addr == "" {
		return
	}
	p.mu.Lock()
	if p.disposed || p.watching {
		p.mu.Unlock()
		return
	}
	p.watching = true
	p.bg.Add(1)
	p.mu.Unlock()

	ch, unsub, err := sub.SubscribeDeployed(p.ctx, addr)
	if err != nil {
		p.bg.Done()
		p.lggr.Debugw("Deploy subscription failed", "event", addr, "err", err)
		return
	}
	p.addUnsub(unsub)

	go func() {
		defer p.bg.Done()
		select {
		case <-ch:
			p.startStage(stagePrepare)
		case <-p.ctx.Done():
		}
	}()
}

// Prepare deploys the destination event from the configured wallet. Relays
// deploy it themselves, so this is only allowed once they missed the window.
func (p *Pipeline) Prepare(ctx context.Context) error {
	if p.isDisposed() {
		return ErrDisposed
	}
	if !p.variant.has(stagePrepare) {
		return ErrUnsupportedVariant
	}
	d, st := p.store.Snapshot()
	if d.Pipeline == nil || d.DeriveEventAddress == "" {
		return ErrNotResolved
	}
	if st.Prepare.Status.Terminal() || st.Prepare.IsDeployed {
		return nil
	}
	if !st.Prepare.IsOutdated {
		return ErrNotReady
	}
	if p.deps.TVMWriter == nil {
		return errors.New("no TVM wallet configured")
	}

	if !p.store.TrySetState(func(s types.PipelineState) (types.PipelineState, bool) {
		if s.Prepare.IsDeploying {
			return s, false
		}
		s.Prepare = PrepareDeploying(s.Prepare)
		return s, true
	}) {
		return ErrAlreadyInProgress
	}

	err := p.deployEvent(ctx, d)
	if err != nil {
		p.lggr.Warnw("Event deploy failed", "event", d.DeriveEventAddress, "err", err)
		p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.Prepare = PrepareDeployFailed(s.Prepare, err)
			return s
		})
		return err
	}
	p.lggr.Infow("Event deploy sent", "event", d.DeriveEventAddress)
	p.startStage(stagePrepare)
	return nil
}

func (p *Pipeline) deployEvent(ctx context.Context, d types.TransferData) error {
	vote, err := cell.FromBOC(d.EventVoteData)
	if err != nil {
		return fmt.Errorf("vote data: %w", err)
	}
	params := cell.BeginCell()
	if err := params.StoreRef(vote); err != nil {
		return err
	}
	return p.deps.TVMWriter.Call(ctx, types.TVMCall{
		To:     d.Pipeline.EverscaleConfiguration,
		Method: deployEventMethod,
		Params: params.EndCell().ToBOC(),
		Amount: p.gas.eventDeploy,
		Bounce: true,
	})
}
