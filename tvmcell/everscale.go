package tvmcell

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// EverscaleEvent is the tuple EVM vaults accept as withdrawal payload.
type EverscaleEvent struct {
	EventTransactionLt   uint64
	EventTimestamp       uint32
	EventData            []byte
	ConfigurationWid     int8
	ConfigurationAddress *big.Int
	EventContractWid     int8
	EventContractAddress *big.Int
	Proxy                common.Address
	Round                uint32
}

var everscaleEventArgs abi.Arguments

var (
	alienEventArgs  abi.Arguments
	nativeEventArgs abi.Arguments
)

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

func init() {
	everscaleEventArgs = abi.Arguments{{Type: mustType("tuple", []abi.ArgumentMarshaling{
		{Name: "eventTransactionLt", Type: "uint64"},
		{Name: "eventTimestamp", Type: "uint32"},
		{Name: "eventData", Type: "bytes"},
		{Name: "configurationWid", Type: "int8"},
		{Name: "configurationAddress", Type: "uint256"},
		{Name: "eventContractWid", Type: "int8"},
		{Name: "eventContractAddress", Type: "uint256"},
		{Name: "proxy", Type: "address"},
		{Name: "round", Type: "uint32"},
	})}}

	// token, amount, recipient, chainId
	alienEventArgs = abi.Arguments{
		{Type: mustType("uint160", nil)},
		{Type: mustType("uint128", nil)},
		{Type: mustType("uint160", nil)},
		{Type: mustType("uint256", nil)},
	}
	// token wid, token address, amount, recipient, chainId
	nativeEventArgs = abi.Arguments{
		{Type: mustType("int8", nil)},
		{Type: mustType("uint256", nil)},
		{Type: mustType("uint128", nil)},
		{Type: mustType("uint160", nil)},
		{Type: mustType("uint256", nil)},
	}
}

// EncodeEverscaleEvent ABI-encodes the event tuple.
func EncodeEverscaleEvent(ev EverscaleEvent) ([]byte, error) {
	if ev.ConfigurationAddress == nil || ev.EventContractAddress == nil {
		return nil, fmt.Errorf("event has empty configuration or contract address")
	}
	encoded, err := everscaleEventArgs.Pack(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to ABI encode event: %w", err)
	}
	return encoded, nil
}

// WithdrawalID is the key vaults record settled withdrawals under.
func WithdrawalID(encoded []byte) common.Hash {
	return crypto.Keccak256Hash(encoded)
}

// EncodeAlienEventData encodes the event data of a withdrawal of a token
// that originates on the destination EVM chain.
func EncodeAlienEventData(token common.Address, amount *big.Int, recipient common.Address, chainID *big.Int) ([]byte, error) {
	return alienEventArgs.Pack(token.Big(), amount, recipient.Big(), chainID)
}

// EncodeNativeEventData encodes the event data of a withdrawal of a TVM-native token.
func EncodeNativeEventData(tokenRoot string, amount *big.Int, recipient common.Address, chainID *big.Int) ([]byte, error) {
	wid, addr, err := SplitAddress(tokenRoot)
	if err != nil {
		return nil, err
	}
	return nativeEventArgs.Pack(wid, addr, amount, recipient.Big(), chainID)
}

// EventFromDetails assembles the tuple for an event contract in its final round.
func EventFromDetails(eventAddress, configuration string, lt uint64, ts uint32, round uint32, proxy common.Address, data []byte) (EverscaleEvent, error) {
	cfgWid, cfgAddr, err := SplitAddress(configuration)
	if err != nil {
		return EverscaleEvent{}, fmt.Errorf("configuration: %w", err)
	}
	evWid, evAddr, err := SplitAddress(eventAddress)
	if err != nil {
		return EverscaleEvent{}, fmt.Errorf("event contract: %w", err)
	}
	return EverscaleEvent{
		EventTransactionLt:   lt,
		EventTimestamp:       ts,
		EventData:            data,
		ConfigurationWid:     cfgWid,
		ConfigurationAddress: cfgAddr,
		EventContractWid:     evWid,
		EventContractAddress: evAddr,
		Proxy:                proxy,
		Round:                round,
	}, nil
}
