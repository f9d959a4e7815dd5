package pipeline

import (
	"fmt"

	"goeverbridge/types"
)

// stage is one polling step of a route.
type stage int

const (
	stageSource stage = iota
	stageFinality
	stagePrepare
	stageCredit
	stageLookup
	stageEvent
	stageRelease
)

var stageNames = [...]string{"source", "transfer", "prepare", "creditProcessor", "lookup", "event", "release"}

func (s stage) String() string { return stageNames[s] }

// how the second event of a two-hop transfer is found
type lookupMode int

const (
	lookupNone lookupMode = iota
	// the confirmed first event spawns it through the proxy
	lookupSpawned
	// the indexer reports it once the credit processor burned the swap output
	lookupIndexer
)

// variant is the strategy of one transfer kind: where the deposit comes from,
// the stages it goes through and what settles it.
type variant struct {
	kind   types.TransferKind
	source types.NetworkKind
	route  []stage
	// "" when the destination mints on event confirmation
	releaser types.NetworkKind
	credit   bool
	lookup   lookupMode
	// the event stage watches the second event rather than the source contract
	secondEvent bool
}

var variants = map[types.TransferKind]variant{
	types.KindEVMToTVM: {
		kind:   types.KindEVMToTVM,
		source: types.NetworkEVM,
		route:  []stage{stageSource, stageFinality, stagePrepare},
	},
	types.KindSolanaToTVM: {
		kind:   types.KindSolanaToTVM,
		source: types.NetworkSolana,
		route:  []stage{stageSource, stageFinality, stagePrepare},
	},
	types.KindTVMToEVM: {
		kind:     types.KindTVMToEVM,
		source:   types.NetworkTVM,
		route:    []stage{stageSource, stageFinality, stageEvent, stageRelease},
		releaser: types.NetworkEVM,
	},
	types.KindTVMToSolana: {
		kind:     types.KindTVMToSolana,
		source:   types.NetworkTVM,
		route:    []stage{stageSource, stageFinality, stageEvent, stageRelease},
		releaser: types.NetworkSolana,
	},
	types.KindEVMToEVM: {
		kind:        types.KindEVMToEVM,
		source:      types.NetworkEVM,
		route:       []stage{stageSource, stageFinality, stagePrepare, stageLookup, stageEvent, stageRelease},
		releaser:    types.NetworkEVM,
		lookup:      lookupSpawned,
		secondEvent: true,
	},
	types.KindEVMToTVMCredit: {
		kind:   types.KindEVMToTVMCredit,
		source: types.NetworkEVM,
		route:  []stage{stageSource, stageFinality, stageCredit},
		credit: true,
	},
	types.KindEVMToEVMHidden: {
		kind:        types.KindEVMToEVMHidden,
		source:      types.NetworkEVM,
		route:       []stage{stageSource, stageFinality, stageCredit, stageLookup, stageEvent, stageRelease},
		releaser:    types.NetworkEVM,
		credit:      true,
		lookup:      lookupIndexer,
		secondEvent: true,
	},
}

// newVariant returns the strategy handling kind.
func newVariant(kind types.TransferKind) (*variant, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVariant, kind)
	}
	return &v, nil
}

// after returns the stage following s on the route.
func (v *variant) after(s stage) (stage, bool) {
	for i, st := range v.route {
		if st == s && i+1 < len(v.route) {
			return v.route[i+1], true
		}
	}
	return 0, false
}

func (v *variant) has(s stage) bool {
	for _, st := range v.route {
		if st == s {
			return true
		}
	}
	return false
}

// phase entered when s starts
func (v *variant) phaseOf(s stage) types.Phase {
	switch s {
	case stageSource:
		return types.PhaseResolving
	case stageFinality:
		return types.PhaseAwaitingSourceFinality
	case stagePrepare:
		return types.PhaseAwaitingDestinationDeployment
	case stageCredit:
		return types.PhaseAwaitingCreditProcessor
	case stageLookup:
		return types.PhaseAwaitingSecondEvent
	case stageEvent:
		if v.secondEvent {
			return types.PhaseAwaitingSecondEvent
		}
		return types.PhaseAwaitingDestinationVotes
	case stageRelease:
		return types.PhaseReadyToRelease
	}
	return types.PhaseIdle
}
