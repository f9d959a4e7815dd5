package types

import "time"

// Status vocabulary shared by every sub-phase
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusDisabled  Status = "disabled"
)

// Terminal statuses stop the loop owning the sub-phase.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Phase is the explicit progress marker of a pipeline.
type Phase string

const (
	PhaseIdle                          Phase = "idle"
	PhaseResolving                     Phase = "resolving"
	PhaseAwaitingSourceFinality        Phase = "awaiting_source_finality"
	PhaseAwaitingDestinationDeployment Phase = "awaiting_destination_deployment"
	PhaseAwaitingDestinationVotes      Phase = "awaiting_destination_votes"
	PhaseAwaitingCreditProcessor       Phase = "awaiting_credit_processor"
	PhaseAwaitingSecondEvent           Phase = "awaiting_second_event"
	PhaseReadyToRelease                Phase = "ready_to_release"
	PhaseReleased                      Phase = "released"
	PhaseRejected                      Phase = "rejected"
	PhaseCancelled                     Phase = "cancelled"
)

// deposit shapes found in the source artifact
type DepositType string

const (
	DepositAlien  DepositType = "alien"
	DepositNative DepositType = "native"
	DepositVault  DepositType = "vault"
	DepositCredit DepositType = "credit"
)

// TransferState tracks source-chain finality.
type TransferState struct {
	Status               Status `json:"status"`
	ConfirmedBlocksCount uint64 `json:"confirmedBlocksCount"`
	EventBlocksToConfirm uint64 `json:"eventBlocksToConfirm"`
}

// PrepareState tracks deployment of the destination event contract.
type PrepareState struct {
	Status       Status `json:"status"`
	IsDeployed   bool   `json:"isDeployed"`
	IsDeploying  bool   `json:"isDeploying"`
	IsOutdated   bool   `json:"isOutdated"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// EventState is the vote tally of an event contract.
type EventState struct {
	Status                Status `json:"status"`
	Confirmations         int    `json:"confirmations"`
	RequiredConfirmations int    `json:"requiredConfirmations"`
}

// CreditProcessorState mirrors the on-chain processor lifecycle.
type CreditProcessorState struct {
	Status         Status         `json:"status"`
	ProcessorState ProcessorState `json:"processorState"`
	Exists         bool           `json:"exists"`
	IsOutdated     bool           `json:"isOutdated"`
	IsStuck        bool           `json:"isStuck"`
	IsBroadcasting bool           `json:"isBroadcasting"`
	IsProcessing   bool           `json:"isProcessing"`
	IsCancelling   bool           `json:"isCancelling"`
	Debt           string         `json:"debt"`
	Balance        string         `json:"balance"`
	// swap cost bounds in raw deposited token units, refreshed while the
	// processor waits for a nudge
	ExpectedSpendMin string `json:"expectedSpendMin,omitempty"`
	ExpectedSpendMax string `json:"expectedSpendMax,omitempty"`
	SwapUnderfunded  bool   `json:"swapUnderfunded,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

// Busy reports whether a broadcast, process or cancel call is in flight.
func (s CreditProcessorState) Busy() bool {
	return s.IsBroadcasting || s.IsProcessing || s.IsCancelling
}

// WithdrawState tracks processor balances that can be withdrawn after a cancel.
type WithdrawState struct {
	Status         Status `json:"status"`
	TokenBalance   string `json:"tokenBalance"`
	WrappedBalance string `json:"wrappedBalance"`
	NativeBalance  string `json:"nativeBalance"`
	IsWithdrawing  bool   `json:"isWithdrawing"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// ReleaseState tracks final settlement.
type ReleaseState struct {
	Status       Status `json:"status"`
	IsReleased   *bool  `json:"isReleased,omitempty"` // nil until first observation
	IsReleasing  bool   `json:"isReleasing"`
	TTL          uint32 `json:"ttl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	UserRejected bool   `json:"userRejected,omitempty"`
}

// PipelineState is the UI-facing state of one transfer.
type PipelineState struct {
	Phase            Phase                `json:"phase"`
	IsCheckingSource bool                 `json:"isCheckingSource"`
	Transfer         TransferState        `json:"transferState"`
	Prepare          PrepareState         `json:"prepareState"`
	Event            EventState           `json:"eventState"`
	CreditProcessor  CreditProcessorState `json:"creditProcessorState"`
	Withdraw         WithdrawState        `json:"withdrawState"`
	SecondEvent      EventState           `json:"secondEventState"`
	Release          ReleaseState         `json:"releaseState"`
}

// InitialState has every sub-phase pending.
func InitialState() PipelineState {
	return PipelineState{
		Phase:           PhaseIdle,
		Transfer:        TransferState{Status: StatusPending},
		Prepare:         PrepareState{Status: StatusPending},
		Event:           EventState{Status: StatusPending},
		CreditProcessor: CreditProcessorState{Status: StatusPending},
		Withdraw:        WithdrawState{Status: StatusPending},
		SecondEvent:     EventState{Status: StatusPending},
		Release:         ReleaseState{Status: StatusPending},
	}
}

// CreditEvent is the decoded depositToFactory payload.
type CreditEvent struct {
	User          string `json:"user"`
	Recipient     string `json:"recipient"`
	Creditor      string `json:"creditor"`
	ExpectedEvers string `json:"expectedEvers"`
	TokenAmount   string `json:"tokenAmount"`
	SwapType      uint8  `json:"swapType"`
	Numerator     uint64 `json:"slippageNumerator"`
	Denominator   uint64 `json:"slippageDenominator"`
	Payload       []byte `json:"payload,omitempty"`
}

// TransferData holds the facts discovered about one transfer.
type TransferData struct {
	Amount       string              `json:"amount"`    // human readable, decimals applied
	RawAmount    string              `json:"rawAmount"` // smallest unit integer
	Token        *Asset              `json:"token,omitempty"`
	Pipeline     *PipelineDescriptor `json:"pipeline,omitempty"`
	LeftAddress  string              `json:"leftAddress"`
	RightAddress string              `json:"rightAddress"`
	DepositType  DepositType         `json:"depositType,omitempty"`
	DepositFee   *int64              `json:"depositFee,omitempty"` // basis points
	TokenRoot    string              `json:"tokenRoot,omitempty"`  // token identifier as found in the source artifact

	SourceBlockNumber uint64    `json:"sourceBlockNumber"`
	SourceTimestamp   time.Time `json:"sourceTimestamp"`

	EventVoteData      []byte `json:"eventVoteData,omitempty"`
	DeriveEventAddress string `json:"deriveEventAddress,omitempty"`
	EncodedEvent       []byte `json:"encodedEvent,omitempty"`
	WithdrawalID       string `json:"withdrawalId,omitempty"`
	Round              uint32 `json:"round,omitempty"`

	CreditProcessorAddress string       `json:"creditProcessorAddress,omitempty"`
	CreditEvent            *CreditEvent `json:"creditEvent,omitempty"`
	SwapAmount             string       `json:"swapAmount,omitempty"`
	ResidualAmount         string       `json:"residualAmount,omitempty"`
	PendingWithdrawals     []string     `json:"pendingWithdrawals,omitempty"`

	SecondEventAddress string `json:"secondEventAddress,omitempty"`
	SecondEncodedEvent []byte `json:"secondEncodedEvent,omitempty"`
	SecondWithdrawalID string `json:"secondWithdrawalId,omitempty"`
	SecondRound        uint32 `json:"secondRound,omitempty"`
}
