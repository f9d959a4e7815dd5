package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TVM event contract status codes
const (
	EventStatusInitializing = 0
	EventStatusPending      = 1
	EventStatusConfirmed    = 2
	EventStatusRejected     = 3
)

// EventDetails is the relay-facing view of a TVM event contract.
type EventDetails struct {
	Status        int
	Confirms      []string
	Rejects       []string
	RequiredVotes int
	// relay signatures, only collected by TVM -> EVM events
	Signatures [][]byte
	Balance    *big.Int

	Configuration      string
	EventTransactionLt uint64
	EventTimestamp     uint32
	Round              uint32
	Data               EventData
}

// EventData is the decoded payload of an outgoing TVM event.
type EventData struct {
	TokenRoot string // TVM token root
	BaseToken string // token on the destination chain for alien transfers
	Native    bool
	Amount    string // smallest units
	Sender    string
	Recipient string
	ChainID   string
	// BOC of the raw event data cell
	Raw []byte
}

// EventConfigDetails are the static parameters of an event configuration.
type EventConfigDetails struct {
	EventCode            []byte // BOC
	EventBlocksToConfirm uint64
	Proxy                string
	EventEmitter         string
	StartBlock           uint64
	EndBlock             uint64
}

// CreditProcessorDetails is the decoded state of a credit processor contract.
type CreditProcessorDetails struct {
	State        ProcessorState
	Debt         *big.Int
	Amount       *big.Int // deposited token amount
	SwapAmount   *big.Int // amount spent on the swap
	TokenRoot    string
	EventAddress string
	Owner        string
}

type TokenMeta struct {
	Name     string
	Symbol   string
	Decimals int32
}

// TVMCall is an internal message sent from the configured TVM wallet.
type TVMCall struct {
	To     string
	Method string
	// BOC of the encoded call body, without the function id
	Params []byte
	Amount *big.Int
	Bounce bool
}

// TxRequest is a contract call submitted by the EVM wallet.
type TxRequest struct {
	To    common.Address
	Data  []byte
	Value *big.Int
	// 2 for dynamic fee, 0 for legacy
	Type uint8
}

const (
	TxTypeLegacy     uint8 = 0
	TxTypeDynamicFee uint8 = 2
)

// SolanaDeposit is a decoded bridge deposit instruction.
type SolanaDeposit struct {
	Signature     string
	Slot          uint64
	BlockTime     time.Time
	Failed        bool
	Sender        string
	Mint          string
	Amount        uint64
	Seed          [16]byte
	RecipientWid  int8
	RecipientAddr [32]byte
}

type SolanaProposal struct {
	Address  string
	Executed bool
	Signers  int
	Required int
}

// ProposalRequest identifies a TVM -> Solana withdrawal proposal.
type ProposalRequest struct {
	Program            string
	Proposal           string
	Round              uint32
	EventTimestamp     uint32
	EventTransactionLt uint64
	Configuration      string
	Recipient          string
	Mint               string
	Amount             uint64
	EventData          []byte
}
