package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"goeverbridge/config"
	"goeverbridge/indexer"
	"goeverbridge/logger"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// EVMReader reads one EVM chain. Not found results are (nil, nil).
type EVMReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error)
}

type EVMWriter interface {
	SendTransaction(ctx context.Context, chainID string, req types.TxRequest) (common.Hash, error)
}

// TVMReader reads the TVM chain. Details of contracts that are not deployed are nil.
type TVMReader interface {
	IsDeployed(ctx context.Context, addr string) (bool, error)
	Balance(ctx context.Context, addr string) (*big.Int, error)
	LastTransactionTime(ctx context.Context, addr string) (time.Time, error)
	EventDetails(ctx context.Context, addr string) (*types.EventDetails, error)
	EventConfigDetails(ctx context.Context, addr string) (*types.EventConfigDetails, error)
	TokenMeta(ctx context.Context, root string) (*types.TokenMeta, error)
	CreditProcessorAddress(ctx context.Context, factory, configuration string, voteData []byte) (string, error)
	CreditProcessorDetails(ctx context.Context, addr string) (*types.CreditProcessorDetails, error)
	TokenWalletAddress(ctx context.Context, root, owner string) (string, error)
	TokenBalance(ctx context.Context, wallet string) (*big.Int, error)
	FindSpawnedEvent(ctx context.Context, addr string) (string, error)
}

// DeploySubscriber is implemented by TVM readers that can push a deployment
// notification. Polling still runs, the notification only wakes it early.
type DeploySubscriber interface {
	SubscribeDeployed(ctx context.Context, addr string) (<-chan struct{}, func(), error)
}

type TVMWriter interface {
	Address() string
	Call(ctx context.Context, call types.TVMCall) error
}

type SolanaReader interface {
	Deposit(ctx context.Context, signature string) (*types.SolanaDeposit, error)
	Slot(ctx context.Context) (uint64, error)
	Proposal(ctx context.Context, pda string) (*types.SolanaProposal, error)
}

type SolanaWriter interface {
	CreateProposal(ctx context.Context, req types.ProposalRequest) error
	ExecuteProposal(ctx context.Context, req types.ProposalRequest) error
}

type AssetRegistry interface {
	Get(kind types.NetworkKind, chainID, root string) (types.Asset, bool)
	Add(asset types.Asset) error
	Pipeline(ctx context.Context, root, from, to string, variant types.DepositVariant) (*types.PipelineDescriptor, error)
}

type Indexer interface {
	SearchBurnCallbacks(ctx context.Context, q indexer.BurnCallbackQuery) ([]indexer.BurnCallback, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Deps are the collaborators of a pipeline. They are shared between pipelines
// and never mutated by them.
type Deps struct {
	EVM          map[string]EVMReader // by chain id
	EVMWriter    EVMWriter
	TVM          TVMReader
	TVMWriter    TVMWriter
	Solana       SolanaReader
	SolanaWriter SolanaWriter
	Assets       AssetRegistry
	Indexer      Indexer
	Clock        Clock
	Config       config.PipelineConfig
	Logger       logger.Logger
}

// validate reports every collaborator id's transfer kind needs but deps lack.
func (d Deps) validate(id types.TransferIdentity, v *variant) error {
	var errs []error
	need := func(ok bool, what string) {
		if !ok {
			errs = append(errs, fmt.Errorf("missing %s", what))
		}
	}

	need(d.Assets != nil, "asset registry")
	need(d.Logger != nil, "logger")
	need(d.TVM != nil, "TVM reader")
	need(d.Config.PollInterval > 0, "poll interval")

	switch v.source {
	case types.NetworkEVM:
		_, ok := d.EVM[id.SourceChainID]
		need(ok, "EVM reader for source chain "+id.SourceChainID)
	case types.NetworkSolana:
		need(d.Solana != nil, "Solana reader")
	}
	switch v.releaser {
	case types.NetworkEVM:
		_, ok := d.EVM[id.DestChainID]
		need(ok, "EVM reader for destination chain "+id.DestChainID)
		need(d.EVMWriter != nil, "EVM writer")
	case types.NetworkSolana:
		need(d.Solana != nil, "Solana reader")
		need(d.SolanaWriter != nil, "Solana writer")
	}
	if v.credit {
		need(d.TVMWriter != nil, "TVM writer")
	}
	if v.lookup == lookupIndexer {
		need(d.Indexer != nil, "indexer")
	}
	return errors.Join(errs...)
}
