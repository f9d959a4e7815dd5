package types

import "strings"

// Asset is a token on one network, identified by (kind, chain id, root).
type Asset struct {
	Root     string      `json:"root" yaml:"root"`
	ChainID  string      `json:"chainId" yaml:"chain_id"`
	Kind     NetworkKind `json:"kind" yaml:"kind"`
	Name     string      `json:"name" yaml:"name"`
	Symbol   string      `json:"symbol" yaml:"symbol"`
	Decimals int32       `json:"decimals" yaml:"decimals"`
	Icon     string      `json:"icon,omitempty" yaml:"icon,omitempty"`
	// imported assets were discovered on-chain rather than listed
	Imported bool `json:"imported,omitempty" yaml:"imported,omitempty"`
}

func (a Asset) Key() string {
	return AssetKey(a.Kind, a.ChainID, a.Root)
}

func AssetKey(kind NetworkKind, chainID, root string) string {
	return string(kind) + "-" + chainID + "-" + strings.ToLower(root)
}

// PipelineDescriptor is the static routing metadata connecting a token on the
// source corridor to its counterpart on the destination corridor.
type PipelineDescriptor struct {
	From    string         `json:"from" yaml:"from"` // source corridor key
	To      string         `json:"to" yaml:"to"`     // destination corridor key
	Variant DepositVariant `json:"depositType" yaml:"deposit_type"`

	// TVM side
	TVMTokenRoot           string `json:"tvmTokenRoot" yaml:"tvm_token_root"`
	TVMConfiguration       string `json:"tvmConfiguration" yaml:"tvm_configuration"`             // event configuration for the TVM-side event
	ProxyAddress           string `json:"proxyAddress" yaml:"proxy_address"`                     // TVM proxy burning/minting the token
	CreditFactoryAddress   string `json:"creditFactoryAddress" yaml:"credit_factory_address"`    // credit processor factory (credit variant)
	WrappedNativeRoot      string `json:"wrappedNativeRoot" yaml:"wrapped_native_root"`          // wrapped native token root on TVM
	OutgoingConfiguration  string `json:"outgoingConfiguration" yaml:"outgoing_configuration"`   // TVM -> EVM configuration for two-hop flows
	SolanaConfiguration    string `json:"solanaConfiguration" yaml:"solana_configuration"`       // TVM -> Solana configuration
	EverscaleConfiguration string `json:"everscaleConfiguration" yaml:"everscale_configuration"` // EVM/Solana -> TVM configuration
	DexPairAddress         string `json:"dexPairAddress" yaml:"dex_pair_address"`                // token/wrapped native pair the credit processor swaps in

	// EVM side
	EVMTokenAddress string `json:"evmTokenAddress" yaml:"evm_token_address"`
	VaultAddress    string `json:"vaultAddress" yaml:"vault_address"`   // vault or multivault
	BridgeAddress   string `json:"bridgeAddress" yaml:"bridge_address"` // relay round registry

	// Solana side
	SolanaProgram string `json:"solanaProgram" yaml:"solana_program"`
	SolanaMint    string `json:"solanaMint" yaml:"solana_mint"`

	// native tokens are minted on TVM and locked on the other side
	IsNative     bool `json:"isNative" yaml:"is_native"`
	IsMultiVault bool `json:"isMultiVault" yaml:"is_multi_vault"`
}
