package types

import "fmt"

// ProcessorState is the on-chain state enum of a credit processor.
type ProcessorState uint8

const (
	ProcessorCreated ProcessorState = iota
	ProcessorEventNotDeployed
	ProcessorEventDeployInProgress
	ProcessorEventConfirmed
	ProcessorEventRejected
	ProcessorCheckingAmount
	ProcessorCalculateSwap
	ProcessorSwapInProgress
	ProcessorSwapFailed
	ProcessorSwapUnknown
	ProcessorUnwrapInProgress
	ProcessorUnwrapFailed
	ProcessorProcessRequiresGas
	ProcessorProcessed
	ProcessorCancelled
)

var processorStateNames = [...]string{
	"Created",
	"EventNotDeployed",
	"EventDeployInProgress",
	"EventConfirmed",
	"EventRejected",
	"CheckingAmount",
	"CalculateSwap",
	"SwapInProgress",
	"SwapFailed",
	"SwapUnknown",
	"UnwrapInProgress",
	"UnwrapFailed",
	"ProcessRequiresGas",
	"Processed",
	"Cancelled",
}

func (s ProcessorState) String() string {
	if int(s) < len(processorStateNames) {
		return processorStateNames[s]
	}
	return fmt.Sprintf("ProcessorState(%d)", uint8(s))
}

func (s ProcessorState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// NeedsNudge lists states a processor can sit in until someone calls process or cancel.
func (s ProcessorState) NeedsNudge() bool {
	switch s {
	case ProcessorEventConfirmed, ProcessorSwapFailed, ProcessorSwapUnknown, ProcessorUnwrapFailed, ProcessorProcessRequiresGas:
		return true
	}
	return false
}

func (s ProcessorState) Terminal() bool {
	return s == ProcessorProcessed || s == ProcessorCancelled || s == ProcessorEventRejected
}
