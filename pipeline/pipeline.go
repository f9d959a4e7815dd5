package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"goeverbridge/logger"
	"goeverbridge/types"
)

// Snapshot is a consistent copy of a pipeline's data and state.
type Snapshot struct {
	Identity types.TransferIdentity `json:"identity"`
	Kind     types.TransferKind     `json:"kind"`
	Data     types.TransferData     `json:"data"`
	State    types.PipelineState    `json:"state"`
}

// gas amounts in nano units of the TVM native coin
type gasConfig struct {
	eventDeploy  *big.Int
	buffer       *big.Int
	minimum      *big.Int
	deployWallet *big.Int
}

// resolution is what resolving the source artifact found.
type resolution struct {
	data            types.TransferData
	blocksToConfirm uint64
	rejected        bool
}

// Pipeline drives one transfer from its source artifact to settlement. Each
// stage of the variant's route runs its own polling loop, a loop that reaches
// its terminal condition starts the next stage.
type Pipeline struct {
	id       types.TransferIdentity
	variant  *variant
	deps     Deps
	clock    Clock
	gas      gasConfig
	slippage slippage
	lggr     logger.Logger
	store    *Store[types.TransferData, types.PipelineState]

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	disposed bool
	unsubs   []func()

	resolveMu sync.Mutex
	watching  bool
	bg        sync.WaitGroup

	loops    map[stage]*Updater
	withdraw *Updater
	// only touched inside store updates
	pending []pendingWithdrawal
}

func New(id types.TransferIdentity, deps Deps) (*Pipeline, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	kind, err := types.KindOf(id)
	if err != nil {
		return nil, err
	}
	v, err := newVariant(kind)
	if err != nil {
		return nil, err
	}
	if err := deps.validate(id, v); err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", kind, err)
	}
	gas, err := parseGas(deps)
	if err != nil {
		return nil, err
	}
	slip, err := parseSlippage(deps.Config)
	if err != nil {
		return nil, err
	}

	clock := deps.Clock
	if clock == nil {
		clock = systemClock{}
	}
	lggr := deps.Logger.Named("pipeline").With("kind", kind, "source", id.Source)
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		id:       id,
		variant:  v,
		deps:     deps,
		clock:    clock,
		gas:      gas,
		slippage: slip,
		lggr:     lggr,
		store:    NewStore(types.TransferData{}, types.InitialState()),
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[stage]*Updater, len(v.route)),
		withdraw: NewUpdater("withdraw", deps.Config.PollInterval, lggr),
	}
	for _, s := range v.route {
		p.loops[s] = NewUpdater(s.String(), deps.Config.PollInterval, lggr)
	}
	return p, nil
}

func parseGas(deps Deps) (gasConfig, error) {
	var (
		g    gasConfig
		errs []error
	)
	parse := func(name, value string) *big.Int {
		if value == "" {
			return new(big.Int)
		}
		v, ok := new(big.Int).SetString(value, 10)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, value))
			return nil
		}
		return v
	}
	c := deps.Config
	g.eventDeploy = parse("event deploy value", c.EventDeployValue)
	g.buffer = parse("gas buffer", c.GasBuffer)
	g.minimum = parse("gas minimum", c.GasMinimum)
	g.deployWallet = parse("deploy wallet gas", c.DeployWalletGas)
	return g, errors.Join(errs...)
}

func (p *Pipeline) Kind() types.TransferKind { return p.variant.kind }

func (p *Pipeline) Identity() types.TransferIdentity { return p.id }

func (p *Pipeline) Snapshot() Snapshot {
	d, s := p.store.Snapshot()
	return Snapshot{Identity: p.id, Kind: p.variant.kind, Data: d, State: s}
}

// Subscribe calls fn after every change until the returned func is called.
func (p *Pipeline) Subscribe(fn func(Snapshot)) func() {
	return p.store.Subscribe(func(d types.TransferData, s types.PipelineState) {
		fn(Snapshot{Identity: p.id, Kind: p.variant.kind, Data: d, State: s})
	})
}

// Settled reports whether the transfer reached a terminal phase and no loop
// is left running.
func (p *Pipeline) Settled() bool {
	if !phaseTerminal(p.store.State().Phase) {
		return false
	}
	for _, u := range p.loops {
		if u.Running() {
			return false
		}
	}
	return !p.withdraw.Running()
}

// Init starts looking for the source artifact.
func (p *Pipeline) Init() {
	p.CheckSource(false)
}

// Dispose stops every loop and subscription and waits for running iterations.
// No chain call is made after Dispose returns.
func (p *Pipeline) Dispose() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	unsubs := p.unsubs
	p.unsubs = nil
	p.mu.Unlock()

	p.cancel()
	for _, u := range p.loops {
		u.Stop()
	}
	p.withdraw.Stop()
	for _, unsub := range unsubs {
		unsub()
	}
	for _, u := range p.loops {
		u.Wait()
	}
	p.withdraw.Wait()
	p.bg.Wait()
	p.lggr.Debugw("Pipeline disposed")
}

func (p *Pipeline) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

func (p *Pipeline) addUnsub(fn func()) {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		fn()
		return
	}
	p.unsubs = append(p.unsubs, fn)
	p.mu.Unlock()
}

func (p *Pipeline) setPhase(next types.Phase) {
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Phase = AdvancePhase(s.Phase, next)
		return s
	})
}

func (p *Pipeline) startStage(s stage) {
	if p.isDisposed() {
		return
	}
	u, ok := p.loops[s]
	if !ok {
		return
	}
	if s != stageSource {
		p.setPhase(p.variant.phaseOf(s))
	}
	if s == stagePrepare {
		p.watchDeployment(p.store.Data().DeriveEventAddress)
	}
	if !u.Start(p.ctx, p.tickFor(s)) {
		u.Poke()
	}
}

func (p *Pipeline) tickFor(s stage) TickFunc {
	switch s {
	case stageSource:
		return p.checkTick
	case stageFinality:
		return p.finalityTick
	case stagePrepare:
		return p.prepareTick
	case stageCredit:
		return p.creditTick
	case stageLookup:
		return p.lookupTick
	case stageEvent:
		return p.eventTick
	case stageRelease:
		return p.releaseTick
	}
	panic(fmt.Sprintf("no loop for stage %d", s))
}

// advance hands off from a finished stage to the next one on the route. A
// route without a release stage settles when its last stage finishes.
func (p *Pipeline) advance(from stage) {
	next, ok := p.variant.after(from)
	if ok {
		p.lggr.Infow("Stage finished", "stage", from.String(), "next", next.String())
		p.startStage(next)
		return
	}
	p.lggr.Infow("Transfer settled", "stage", from.String())
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Release = ReleaseObserved(s.Release, true)
		s.Phase = AdvancePhase(s.Phase, types.PhaseReleased)
		return s
	})
}

func (p *Pipeline) stale(ref time.Time) bool {
	if ref.IsZero() {
		return false
	}
	return p.clock.Now().Sub(ref) >= p.deps.Config.StaleAfter
}

// CheckSource polls the source artifact until it exists and then resolves it.
// A running check is left alone unless force is set, which polls right away.
func (p *Pipeline) CheckSource(force bool) {
	if p.isDisposed() {
		return
	}
	if phaseRank[p.store.State().Phase] > phaseRank[types.PhaseResolving] {
		return
	}
	started := p.store.TrySetState(func(s types.PipelineState) (types.PipelineState, bool) {
		if s.IsCheckingSource && !force {
			return s, false
		}
		s.IsCheckingSource = true
		return s, true
	})
	if started {
		p.startStage(stageSource)
	}
}

func (p *Pipeline) checkTick(ctx context.Context) (bool, error) {
	present, err := p.sourcePresent(ctx)
	if err != nil || !present {
		return false, err
	}
	err = p.Resolve(ctx)
	if errors.Is(err, ErrNotReady) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.IsCheckingSource = false
		return s
	})
	return true, nil
}

func (p *Pipeline) sourcePresent(ctx context.Context) (bool, error) {
	switch p.variant.source {
	case types.NetworkEVM:
		receipt, err := p.deps.EVM[p.id.SourceChainID].TransactionReceipt(ctx, evmHash(p.id.Source))
		return receipt != nil, err
	case types.NetworkSolana:
		deposit, err := p.deps.Solana.Deposit(ctx, p.id.Source)
		return deposit != nil, err
	case types.NetworkTVM:
		return p.deps.TVM.IsDeployed(ctx, p.id.Source)
	}
	return false, ErrUnsupportedVariant
}

// Resolve decodes the source artifact, resolves token and route and starts
// the finality loop. It runs at most once: a resolved transfer is never
// decoded again, and a failed decode leaves data untouched.
func (p *Pipeline) Resolve(ctx context.Context) error {
	if p.isDisposed() {
		return ErrDisposed
	}
	p.resolveMu.Lock()
	defer p.resolveMu.Unlock()

	if phaseRank[p.store.State().Phase] > phaseRank[types.PhaseResolving] {
		return nil
	}
	p.setPhase(types.PhaseResolving)

	var (
		res *resolution
		err error
	)
	switch p.variant.source {
	case types.NetworkEVM:
		res, err = p.resolveEVM(ctx)
	case types.NetworkSolana:
		res, err = p.resolveSolana(ctx)
	case types.NetworkTVM:
		res, err = p.resolveTVM(ctx)
	default:
		err = ErrUnsupportedVariant
	}
	if err != nil {
		if !errors.Is(err, ErrNotReady) {
			p.lggr.Warnw("Resolve failed", "err", err)
		}
		return err
	}

	if res.rejected {
		p.lggr.Infow("Source transaction failed")
		p.store.SetState(func(s types.PipelineState) types.PipelineState {
			s.Transfer = TransferRejected(s.Transfer)
			s.IsCheckingSource = false
			s.Phase = AdvancePhase(s.Phase, types.PhaseRejected)
			return s
		})
		return nil
	}

	p.store.SetData(func(d types.TransferData) types.TransferData {
		if d.Pipeline != nil {
			return d
		}
		return res.data
	})
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Transfer = TransferPending(s.Transfer, 0, res.blocksToConfirm)
		s.IsCheckingSource = false
		return s
	})
	p.lggr.Infow("Transfer resolved", "amount", res.data.Amount, "depositType", res.data.DepositType)
	p.startStage(stageFinality)
	return nil
}

func (p *Pipeline) finalityTick(ctx context.Context) (bool, error) {
	d, st := p.store.Snapshot()
	if st.Transfer.Status.Terminal() {
		return true, nil
	}
	required := st.Transfer.EventBlocksToConfirm

	var current uint64
	switch p.variant.source {
	case types.NetworkEVM:
		head, err := p.deps.EVM[p.id.SourceChainID].BlockNumber(ctx)
		if err != nil {
			return false, err
		}
		current = head
	case types.NetworkSolana:
		slot, err := p.deps.Solana.Slot(ctx)
		if err != nil {
			return false, err
		}
		current = slot
	case types.NetworkTVM:
		// an event contract exists only once its transaction is final
		return p.sourceFinal(ctx)
	}

	var confirmed uint64
	if current > d.SourceBlockNumber {
		confirmed = current - d.SourceBlockNumber
	}
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Transfer = TransferPending(s.Transfer, confirmed, required)
		return s
	})
	if confirmed < required {
		return false, nil
	}
	return p.sourceFinal(ctx)
}

// sourceFinal derives the destination contract the next stage watches and
// confirms the transfer state.
func (p *Pipeline) sourceFinal(ctx context.Context) (bool, error) {
	d := p.store.Data()
	switch {
	case p.variant.credit:
		addr, err := p.deps.TVM.CreditProcessorAddress(ctx, d.Pipeline.CreditFactoryAddress, d.Pipeline.EverscaleConfiguration, d.EventVoteData)
		if err != nil {
			return false, fmt.Errorf("credit processor address: %w", err)
		}
		p.store.SetData(func(d types.TransferData) types.TransferData {
			d.CreditProcessorAddress = addr
			return d
		})
	case p.variant.has(stagePrepare):
		addr, err := p.deriveEventAddress(ctx, d)
		if err != nil {
			return false, err
		}
		p.store.SetData(func(d types.TransferData) types.TransferData {
			d.DeriveEventAddress = addr
			return d
		})
	}

	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		s.Transfer = TransferConfirmed(s.Transfer)
		return s
	})
	p.advance(stageFinality)
	return true, nil
}
