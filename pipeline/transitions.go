package pipeline

import (
	"math/big"

	"goeverbridge/types"
)

// Every sub-phase transition is a pure function of the current sub-state.
// A sub-phase that reached confirmed or rejected is returned unchanged.

var phaseRank = map[types.Phase]int{
	types.PhaseIdle:                          0,
	types.PhaseResolving:                     1,
	types.PhaseAwaitingSourceFinality:        2,
	types.PhaseAwaitingDestinationDeployment: 3,
	types.PhaseAwaitingDestinationVotes:      4,
	types.PhaseAwaitingCreditProcessor:       5,
	types.PhaseAwaitingSecondEvent:           6,
	types.PhaseReadyToRelease:                7,
	types.PhaseReleased:                      8,
	types.PhaseRejected:                      8,
	types.PhaseCancelled:                     8,
}

func phaseTerminal(p types.Phase) bool {
	return phaseRank[p] == phaseRank[types.PhaseReleased]
}

// AdvancePhase moves forward only, terminal phases are final.
func AdvancePhase(cur, next types.Phase) types.Phase {
	if phaseTerminal(cur) || phaseRank[next] <= phaseRank[cur] {
		return cur
	}
	return next
}

// source finality

func TransferPending(s types.TransferState, confirmed, required uint64) types.TransferState {
	if s.Status.Terminal() {
		return s
	}
	return types.TransferState{
		Status:               types.StatusPending,
		ConfirmedBlocksCount: confirmed,
		EventBlocksToConfirm: required,
	}
}

func TransferConfirmed(s types.TransferState) types.TransferState {
	if s.Status.Terminal() {
		return s
	}
	if s.ConfirmedBlocksCount < s.EventBlocksToConfirm {
		s.ConfirmedBlocksCount = s.EventBlocksToConfirm
	}
	s.Status = types.StatusConfirmed
	return s
}

func TransferRejected(s types.TransferState) types.TransferState {
	if s.Status.Terminal() {
		return s
	}
	s.Status = types.StatusRejected
	return s
}

// destination event deployment

// PrepareWaiting records a not yet deployed event contract. Once outdated it stays outdated.
func PrepareWaiting(s types.PrepareState, outdated bool) types.PrepareState {
	if s.Status.Terminal() {
		return s
	}
	s.IsDeployed = false
	s.IsOutdated = s.IsOutdated || outdated
	return s
}

// PrepareAbandoned disables a prepare step whose deployment window passed.
func PrepareAbandoned(s types.PrepareState) types.PrepareState {
	if s.Status.Terminal() || s.IsDeploying {
		return s
	}
	s.Status = types.StatusDisabled
	return s
}

// PrepareDeploying marks a manual deployment, reopening an abandoned step.
func PrepareDeploying(s types.PrepareState) types.PrepareState {
	if s.Status.Terminal() {
		return s
	}
	s.Status = types.StatusPending
	s.IsDeploying = true
	s.ErrorMessage = ""
	return s
}

func PrepareDeployFailed(s types.PrepareState, err error) types.PrepareState {
	if s.Status.Terminal() {
		return s
	}
	s.IsDeploying = false
	s.ErrorMessage = err.Error()
	if s.IsOutdated {
		s.Status = types.StatusDisabled
	}
	return s
}

func PrepareDeployed(s types.PrepareState) types.PrepareState {
	if s.Status.Terminal() {
		return s
	}
	return types.PrepareState{
		Status:     types.StatusConfirmed,
		IsDeployed: true,
		IsOutdated: s.IsOutdated,
	}
}

// event vote tally

func eventStatus(code int) types.Status {
	switch code {
	case types.EventStatusConfirmed:
		return types.StatusConfirmed
	case types.EventStatusRejected:
		return types.StatusRejected
	}
	return types.StatusPending
}

// EventTally maps the vote tally of an event contract onto its sub-phase.
func EventTally(s types.EventState, d types.EventDetails) types.EventState {
	if s.Status.Terminal() {
		return s
	}
	return types.EventState{
		Status:                eventStatus(d.Status),
		Confirmations:         len(d.Confirms),
		RequiredConfirmations: d.RequiredVotes,
	}
}

// credit processor

// ProcessorMissing records a processor that is not deployed yet.
func ProcessorMissing(s types.CreditProcessorState, outdated bool) types.CreditProcessorState {
	if s.Status.Terminal() {
		return s
	}
	s.Exists = false
	s.ProcessorState = types.ProcessorEventNotDeployed
	s.IsOutdated = s.IsOutdated || outdated
	return s
}

// ProcessorObserved maps the on-chain processor onto its sub-phase. stuck is
// sticky while the processor is in a non-terminal state.
func ProcessorObserved(s types.CreditProcessorState, d types.CreditProcessorDetails, balance *big.Int, stuck bool) types.CreditProcessorState {
	if s.Status.Terminal() {
		return s
	}
	s.Exists = true
	s.IsBroadcasting = false
	s.ProcessorState = d.State
	s.Debt = bigString(d.Debt)
	s.Balance = bigString(balance)
	s.IsStuck = s.IsStuck || (stuck && d.State.NeedsNudge())

	switch d.State {
	case types.ProcessorProcessed:
		s.Status = types.StatusConfirmed
	case types.ProcessorCancelled, types.ProcessorEventRejected:
		s.Status = types.StatusRejected
	}
	if s.Status.Terminal() {
		s.IsStuck = false
		s.IsProcessing = false
		s.IsCancelling = false
	}
	return s
}

// ProcessorQuoted records the swap cost bounds. Empty bounds clear them.
func ProcessorQuoted(s types.CreditProcessorState, minSpend, maxSpend string, underfunded bool) types.CreditProcessorState {
	if s.Status.Terminal() {
		return s
	}
	s.ExpectedSpendMin, s.ExpectedSpendMax = minSpend, maxSpend
	s.SwapUnderfunded = underfunded
	return s
}

func ProcessorActionFailed(s types.CreditProcessorState, err error) types.CreditProcessorState {
	s.IsBroadcasting = false
	s.IsProcessing = false
	s.IsCancelling = false
	s.ErrorMessage = err.Error()
	return s
}

// withdrawals after a cancel

func WithdrawBalances(s types.WithdrawState, tokens, wrapped, native *big.Int, settled bool) types.WithdrawState {
	if s.Status.Terminal() {
		return s
	}
	s.TokenBalance = bigString(tokens)
	s.WrappedBalance = bigString(wrapped)
	s.NativeBalance = bigString(native)
	if settled {
		s.IsWithdrawing = false
	}
	return s
}

func WithdrawStarted(s types.WithdrawState) types.WithdrawState {
	if s.Status.Terminal() {
		return s
	}
	s.IsWithdrawing = true
	s.ErrorMessage = ""
	return s
}

func WithdrawFailed(s types.WithdrawState, err error) types.WithdrawState {
	s.IsWithdrawing = false
	s.ErrorMessage = err.Error()
	return s
}

// release

// ReleaseObserved records the vault registry lookup. The first observation
// seeds IsReleased, a released withdrawal confirms the step.
func ReleaseObserved(s types.ReleaseState, released bool) types.ReleaseState {
	if s.Status.Terminal() {
		return s
	}
	s.IsReleased = &released
	if released {
		s.Status = types.StatusConfirmed
		s.IsReleasing = false
		s.ErrorMessage = ""
	}
	return s
}

func ReleaseStarted(s types.ReleaseState) types.ReleaseState {
	if s.Status.Terminal() {
		return s
	}
	s.Status = types.StatusPending
	s.IsReleasing = true
	s.UserRejected = false
	s.ErrorMessage = ""
	return s
}

// ReleaseFailed disables the release unless the signer declined, which leaves it retryable.
func ReleaseFailed(s types.ReleaseState, err error, userRejected bool) types.ReleaseState {
	if s.Status.Terminal() {
		return s
	}
	s.IsReleasing = false
	s.ErrorMessage = err.Error()
	s.UserRejected = userRejected
	if !userRejected {
		s.Status = types.StatusDisabled
	}
	return s
}

func ReleaseTTL(s types.ReleaseState, ttl uint32) types.ReleaseState {
	s.TTL = ttl
	return s
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
