package assets

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"goeverbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multiVaultNativesABI = `[{"type":"function","name":"natives","stateMutability":"view",
"inputs":[{"name":"token","type":"address"}],
"outputs":[{"name":"","type":"tuple","components":[{"name":"wid","type":"int8"},{"name":"addr","type":"uint256"}]}]}]`

var nativesABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(multiVaultNativesABI))
	if err != nil {
		panic(err)
	}
	nativesABI = parsed
}

type nativeToken struct {
	Wid  int8
	Addr *big.Int
}

type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

// MultiVaultNatives asks the EVM multivault of a corridor whether the EVM token
// is a wrapped TVM native token.
type MultiVaultNatives struct {
	// by chain id
	Callers map[string]ContractCaller
}

func (m MultiVaultNatives) IsNative(ctx context.Context, d types.PipelineDescriptor) (bool, error) {
	chainID, err := evmSide(d)
	if err != nil {
		return false, err
	}
	caller, ok := m.Callers[chainID]
	if !ok {
		return false, fmt.Errorf("no EVM reader for chain %s", chainID)
	}
	if d.VaultAddress == "" || d.EVMTokenAddress == "" {
		return false, fmt.Errorf("route has no vault or token address")
	}

	input, err := nativesABI.Pack("natives", common.HexToAddress(d.EVMTokenAddress))
	if err != nil {
		return false, err
	}
	vault := common.HexToAddress(d.VaultAddress)
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &vault, Data: input}, nil)
	if err != nil {
		return false, err
	}
	res, err := nativesABI.Unpack("natives", out)
	if err != nil {
		return false, fmt.Errorf("decoding natives: %w", err)
	}
	native := *abi.ConvertType(res[0], new(nativeToken)).(*nativeToken)
	return native.Addr != nil && native.Addr.Sign() != 0, nil
}

func evmSide(d types.PipelineDescriptor) (string, error) {
	for _, corridor := range []string{d.From, d.To} {
		kind, chainID, err := types.ParseCorridor(corridor)
		if err == nil && kind == types.NetworkEVM {
			return chainID, nil
		}
	}
	return "", fmt.Errorf("route %s -> %s has no EVM side", d.From, d.To)
}
