package config

import (
	"time"

	"goeverbridge/types"
)

type Configuration struct {
	// Server config
	Server struct {
		UseSSL    bool   `yaml:"ssl"`
		Port      int    `yaml:"port"`
		RedisPort int    `yaml:"redis_port" envconfig:"REDIS_PORT"`
		RedisHost string `yaml:"redis_host" envconfig:"REDIS_HOST"`
		LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	} `yaml:"server"`
	// EVM signer used for release and credit deposits
	EVM struct {
		PublicAddress string `yaml:"address"`
		PrivateKey    string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
	} `yaml:"EVM"`
	EVMChains map[string]ChainConfig `yaml:"evm_chains" ignored:"true"`
	TVM       TVMConfig              `yaml:"TVM"`
	Solana    SolanaConfig           `yaml:"Solana"`
	Indexer   struct {
		URL string `yaml:"url" envconfig:"URL"`
	} `yaml:"indexer"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	// static asset list and routes, imported assets are added at runtime
	Assets []types.Asset `yaml:"assets" ignored:"true"`
	Routes []Route       `yaml:"routes" ignored:"true"`
}

// EVM-chain config
type ChainConfig struct {
	Name             string   `yaml:"name"`
	ChainID          string   `yaml:"chain_id"`
	RPCList          []string `yaml:"rpc_list"`
	MinConfirmations int      `yaml:"min_confirmations"`
	// chains that reject typed transactions
	LegacyOnly bool `yaml:"legacy_only"`
}

type TVMConfig struct {
	ChainID             string `yaml:"chain_id"`
	JRPCURL             string `yaml:"jrpc_url" envconfig:"JRPC_URL"`
	LiteserverConfigURL string `yaml:"liteserver_config_url" envconfig:"LITESERVER_CONFIG_URL"`
	WalletVersion       string `yaml:"wallet_version"`
	// important private stuff
	WalletSeed string `yaml:"wallet_seed" envconfig:"WALLET_SEED"`
}

type SolanaConfig struct {
	ChainID    string `yaml:"chain_id"`
	RPCURL     string `yaml:"rpc_url" envconfig:"RPC_URL"`
	ProgramID  string `yaml:"program_id"`
	PrivateKey string `yaml:"private_key" envconfig:"PRIVATE_KEY"`
}

// PipelineConfig holds polling and gas parameters shared by every transfer pipeline.
// Gas amounts are in nano units of the TVM native coin.
type PipelineConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	ReleaseAttempts  int           `yaml:"release_attempts"`
	EventDeployValue string        `yaml:"event_deploy_value"`
	GasBuffer        string        `yaml:"gas_buffer"`
	GasMinimum       string        `yaml:"gas_minimum"`
	DeployWalletGas  string        `yaml:"deploy_wallet_gas"`
	DescriptorTTL    time.Duration `yaml:"descriptor_ttl"`
	// settled sessions are dropped after this long
	SessionRetention time.Duration `yaml:"session_retention"`
	// percentages bounding the quoted cost of a credit swap
	MinSlippage string `yaml:"min_slippage"`
	MaxSlippage string `yaml:"max_slippage"`
}

// Route binds a source token to the descriptor used when moving it across a corridor.
type Route struct {
	SourceToken              string `yaml:"source_token"`
	types.PipelineDescriptor `yaml:",inline"`
}

// redis key holding discovered tokens
const IMPORTED_ASSETS_KEY = "imported_assets"

// redis key holding the identities of open transfer sessions
const SESSIONS_KEY = "transfer_sessions"

var Config Configuration

func (c *Configuration) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RedisPort == 0 {
		c.Server.RedisPort = 6379
	}
	p := &c.Pipeline
	if p.PollInterval == 0 {
		p.PollInterval = 5 * time.Second
	}
	if p.StaleAfter == 0 {
		p.StaleAfter = 600 * time.Second
	}
	if p.ReleaseAttempts == 0 {
		p.ReleaseAttempts = 2
	}
	if p.EventDeployValue == "" {
		p.EventDeployValue = "6000000000"
	}
	if p.GasBuffer == "" {
		p.GasBuffer = "500000000"
	}
	if p.GasMinimum == "" {
		p.GasMinimum = "1000000000"
	}
	if p.DeployWalletGas == "" {
		p.DeployWalletGas = "100000000"
	}
	if p.DescriptorTTL == 0 {
		p.DescriptorTTL = 10 * time.Minute
	}
	if p.SessionRetention == 0 {
		p.SessionRetention = time.Hour
	}
	if p.MinSlippage == "" {
		p.MinSlippage = "0.5"
	}
	if p.MaxSlippage == "" {
		p.MaxSlippage = "3"
	}
}
