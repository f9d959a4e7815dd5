package pipeline

import (
	"context"

	"goeverbridge/types"
)

// Release settles the transfer on the destination chain. A withdrawal that is
// already settled is only recorded, nothing is submitted.
func (p *Pipeline) Release(ctx context.Context) error {
	if p.isDisposed() {
		return ErrDisposed
	}
	if p.variant.releaser == "" {
		return ErrUnsupportedVariant
	}
	d, st := p.store.Snapshot()
	if d.Pipeline == nil {
		return ErrNotResolved
	}
	if st.Release.Status.Terminal() {
		return nil
	}
	if st.Phase != types.PhaseReadyToRelease {
		return ErrNotReady
	}

	if !p.store.TrySetState(func(s types.PipelineState) (types.PipelineState, bool) {
		if s.Release.IsReleasing {
			return s, false
		}
		s.Release = ReleaseStarted(s.Release)
		return s, true
	}) {
		return ErrAlreadyInProgress
	}

	var err error
	switch p.variant.releaser {
	case types.NetworkEVM:
		err = p.releaseEVM(ctx, d)
	case types.NetworkSolana:
		err = p.releaseSolana(ctx, d)
	}
	if err != nil {
		rejected := IsUserRejected(err)
		p.lggr.Warnw("Release failed", "err", err, "userRejected", rejected)
		p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.Release = ReleaseFailed(s.Release, err, rejected)
			return s
		})
		return err
	}
	// submitted, the release loop observes the outcome
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Release.IsReleasing = false
		return s
	})
	p.startStage(stageRelease)
	return nil
}

func (p *Pipeline) releaseTick(ctx context.Context) (bool, error) {
	d, st := p.store.Snapshot()
	if st.Release.Status.Terminal() {
		return true, nil
	}
	var (
		released bool
		err      error
	)
	switch p.variant.releaser {
	case types.NetworkEVM:
		released, err = p.observeEVMRelease(ctx, d, st)
	case types.NetworkSolana:
		released, err = p.observeSolanaRelease(ctx, d)
	}
	if err != nil {
		return false, err
	}
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Release = ReleaseObserved(s.Release, released)
		return s
	})
	if released {
		p.markReleased()
	}
	return released, nil
}

func (p *Pipeline) markReleased() {
	p.lggr.Infow("Transfer released")
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Release = ReleaseObserved(s.Release, true)
		s.Phase = AdvancePhase(s.Phase, types.PhaseReleased)
		return s
	})
}
