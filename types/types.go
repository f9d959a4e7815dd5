package types

import (
	"errors"
	"fmt"
	"strings"
)

// network families a corridor can connect
type NetworkKind string

const (
	NetworkEVM    NetworkKind = "evm"
	NetworkTVM    NetworkKind = "tvm"
	NetworkSolana NetworkKind = "solana"
)

func (k NetworkKind) Valid() bool {
	return k == NetworkEVM || k == NetworkTVM || k == NetworkSolana
}

// DepositVariant selects which contract flow handles the deposit.
type DepositVariant string

const (
	VariantDefault DepositVariant = "default"
	VariantCredit  DepositVariant = "credit"
)

// TransferKind is the directional corridor plus deposit variant a pipeline implements.
type TransferKind string

const (
	KindEVMToTVM       TransferKind = "evm_tvm"
	KindTVMToEVM       TransferKind = "tvm_evm"
	KindTVMToSolana    TransferKind = "tvm_solana"
	KindSolanaToTVM    TransferKind = "solana_tvm"
	KindEVMToEVM       TransferKind = "evm_evm"
	KindEVMToTVMCredit TransferKind = "evm_tvm_credit"
	KindEVMToEVMHidden TransferKind = "evm_evm_hidden"
)

var ErrUnsupportedCorridor = errors.New("unsupported corridor")

// TransferIdentity is created from route parameters and never mutated.
// Source is a transaction hash (EVM, Solana) or an event contract address (TVM origin).
type TransferIdentity struct {
	SourceChainID string         `json:"sourceChainId"`
	SourceKind    NetworkKind    `json:"sourceKind"`
	DestChainID   string         `json:"destChainId"`
	DestKind      NetworkKind    `json:"destKind"`
	Source        string         `json:"source"`
	Variant       DepositVariant `json:"variant"`
}

func (id TransferIdentity) Validate() error {
	var errs []error
	if !id.SourceKind.Valid() {
		errs = append(errs, fmt.Errorf("invalid source network kind %q", id.SourceKind))
	}
	if !id.DestKind.Valid() {
		errs = append(errs, fmt.Errorf("invalid destination network kind %q", id.DestKind))
	}
	if id.SourceChainID == "" {
		errs = append(errs, errors.New("source chain id is empty"))
	}
	if id.DestChainID == "" {
		errs = append(errs, errors.New("destination chain id is empty"))
	}
	if strings.TrimSpace(id.Source) == "" {
		errs = append(errs, errors.New("source transaction or contract is empty"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	_, err := KindOf(id)
	return err
}

// SourceCorridor is the "kind-chainId" key of the source side.
func (id TransferIdentity) SourceCorridor() string {
	return CorridorKey(id.SourceKind, id.SourceChainID)
}

// DestCorridor is the "kind-chainId" key of the destination side.
func (id TransferIdentity) DestCorridor() string {
	return CorridorKey(id.DestKind, id.DestChainID)
}

func CorridorKey(kind NetworkKind, chainID string) string {
	return fmt.Sprintf("%s-%s", kind, chainID)
}

// ParseCorridor splits a corridor key back into its network kind and chain id.
func ParseCorridor(key string) (NetworkKind, string, error) {
	kind, chainID, ok := strings.Cut(key, "-")
	if !ok || chainID == "" || !NetworkKind(kind).Valid() {
		return "", "", fmt.Errorf("invalid corridor %q", key)
	}
	return NetworkKind(kind), chainID, nil
}

// KindOf maps an identity onto the pipeline family handling it.
func KindOf(id TransferIdentity) (TransferKind, error) {
	credit := id.Variant == VariantCredit
	switch {
	case id.SourceKind == NetworkEVM && id.DestKind == NetworkTVM && credit:
		return KindEVMToTVMCredit, nil
	case id.SourceKind == NetworkEVM && id.DestKind == NetworkTVM:
		return KindEVMToTVM, nil
	case id.SourceKind == NetworkTVM && id.DestKind == NetworkEVM:
		return KindTVMToEVM, nil
	case id.SourceKind == NetworkTVM && id.DestKind == NetworkSolana:
		return KindTVMToSolana, nil
	case id.SourceKind == NetworkSolana && id.DestKind == NetworkTVM:
		return KindSolanaToTVM, nil
	case id.SourceKind == NetworkEVM && id.DestKind == NetworkEVM && credit:
		return KindEVMToEVMHidden, nil
	case id.SourceKind == NetworkEVM && id.DestKind == NetworkEVM:
		return KindEVMToEVM, nil
	}
	return "", fmt.Errorf("%w: %s -> %s (%s)", ErrUnsupportedCorridor, id.SourceKind, id.DestKind, id.Variant)
}
