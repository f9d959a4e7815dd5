package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multiVaultABIJSON = `[
{"type":"event","name":"AlienTransfer","anonymous":false,"inputs":[
 {"name":"base_chainId","type":"uint256"},{"name":"base_token","type":"uint160"},
 {"name":"name","type":"string"},{"name":"symbol","type":"string"},{"name":"decimals","type":"uint8"},
 {"name":"amount","type":"uint128"},{"name":"recipient_wid","type":"int8"},{"name":"recipient_addr","type":"uint256"},
 {"name":"value","type":"uint256"},{"name":"expected_evers","type":"uint256"},{"name":"payload","type":"bytes"}]},
{"type":"event","name":"NativeTransfer","anonymous":false,"inputs":[
 {"name":"native_wid","type":"int8"},{"name":"native_addr","type":"uint256"},{"name":"amount","type":"uint128"},
 {"name":"recipient_wid","type":"int8"},{"name":"recipient_addr","type":"uint256"},
 {"name":"value","type":"uint256"},{"name":"expected_evers","type":"uint256"},{"name":"payload","type":"bytes"}]},
{"type":"event","name":"Deposit","anonymous":false,"inputs":[
 {"name":"_type","type":"uint8"},{"name":"sender","type":"address"},{"name":"token","type":"address"},
 {"name":"recipient_wid","type":"int8"},{"name":"recipient_addr","type":"uint256"},
 {"name":"amount","type":"uint256"},{"name":"fee","type":"uint256"}]},
{"type":"function","name":"withdrawalIds","stateMutability":"view",
 "inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"saveWithdrawNative","stateMutability":"nonpayable",
 "inputs":[{"name":"payload","type":"bytes"},{"name":"signatures","type":"bytes[]"}],"outputs":[]},
{"type":"function","name":"saveWithdrawAlien","stateMutability":"nonpayable",
 "inputs":[{"name":"payload","type":"bytes"},{"name":"signatures","type":"bytes[]"}],"outputs":[]}
]`

const vaultABIJSON = `[
{"type":"event","name":"Deposit","anonymous":false,"inputs":[
 {"name":"amount","type":"uint256"},{"name":"wid","type":"int128"},{"name":"addr","type":"uint256"}]},
{"type":"function","name":"token","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"withdrawalIds","stateMutability":"view",
 "inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"saveWithdraw","stateMutability":"nonpayable",
 "inputs":[{"name":"payload","type":"bytes"},{"name":"signatures","type":"bytes[]"}],"outputs":[]},
{"type":"function","name":"depositToFactory","stateMutability":"payable","inputs":[
 {"name":"amount","type":"uint128"},{"name":"wid","type":"int8"},{"name":"user","type":"uint256"},
 {"name":"creditor","type":"uint256"},{"name":"recipient","type":"uint256"},{"name":"tokenAmount","type":"uint128"},
 {"name":"tonAmount","type":"uint128"},{"name":"swapType","type":"uint8"},
 {"name":"slippageNumerator","type":"uint128"},{"name":"slippageDenominator","type":"uint128"},
 {"name":"level3","type":"bytes"}],"outputs":[]}
]`

const erc20ABIJSON = `[
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

const bridgeABIJSON = `[
{"type":"function","name":"rounds","stateMutability":"view","inputs":[{"name":"","type":"uint32"}],"outputs":[
 {"name":"end","type":"uint32"},{"name":"ttl","type":"uint32"},{"name":"relays","type":"uint32"},
 {"name":"requiredSignatures","type":"uint32"}]}
]`

var (
	multiVaultABI = mustParseABI(multiVaultABIJSON)
	vaultABI      = mustParseABI(vaultABIJSON)
	erc20ABI      = mustParseABI(erc20ABIJSON)
	bridgeABI     = mustParseABI(bridgeABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// callView packs method, calls it on to and unpacks the outputs.
func callView(ctx context.Context, r EVMReader, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	out, err := r.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}
	res, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", method, err)
	}
	return res, nil
}

// isWithdrawn asks a vault whether the withdrawal id is settled. Vault and
// multivault expose the same registry.
func isWithdrawn(ctx context.Context, r EVMReader, vault common.Address, id common.Hash) (bool, error) {
	res, err := callView(ctx, r, vault, vaultABI, "withdrawalIds", id)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(res[0], new(bool)).(*bool), nil
}

// vaultToken is the token a single token vault holds.
func vaultToken(ctx context.Context, r EVMReader, vault common.Address) (common.Address, error) {
	res, err := callView(ctx, r, vault, vaultABI, "token")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(res[0], new(common.Address)).(*common.Address), nil
}

// erc20Meta reads name, symbol and decimals of a token missing from the registry.
func erc20Meta(ctx context.Context, r EVMReader, token common.Address) (name, symbol string, decimals uint8, err error) {
	res, err := callView(ctx, r, token, erc20ABI, "name")
	if err != nil {
		return "", "", 0, err
	}
	name = *abi.ConvertType(res[0], new(string)).(*string)
	if res, err = callView(ctx, r, token, erc20ABI, "symbol"); err != nil {
		return "", "", 0, err
	}
	symbol = *abi.ConvertType(res[0], new(string)).(*string)
	if res, err = callView(ctx, r, token, erc20ABI, "decimals"); err != nil {
		return "", "", 0, err
	}
	decimals = *abi.ConvertType(res[0], new(uint8)).(*uint8)
	return name, symbol, decimals, nil
}

// roundTTL returns the expiry of a relay round, used as the release deadline.
func roundTTL(ctx context.Context, r EVMReader, bridge common.Address, round uint32) (uint32, error) {
	res, err := callView(ctx, r, bridge, bridgeABI, "rounds", round)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(res[1], new(uint32)).(*uint32), nil
}

// withdrawCalldata encodes the vault call releasing payload with ordered signatures.
func withdrawCalldata(multiVault, native bool, payload []byte, signatures [][]byte) ([]byte, error) {
	switch {
	case !multiVault:
		return vaultABI.Pack("saveWithdraw", payload, signatures)
	case native:
		return multiVaultABI.Pack("saveWithdrawNative", payload, signatures)
	default:
		return multiVaultABI.Pack("saveWithdrawAlien", payload, signatures)
	}
}

// uint160 event fields decode as *big.Int
func bigToAddress(v *big.Int) common.Address {
	return common.BigToAddress(v)
}
