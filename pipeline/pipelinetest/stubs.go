// Package pipelinetest has chain stubs for tests of code built on top of pipelines.
package pipelinetest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/pipeline"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// EVMChainID is the chain the stub deps serve.
const EVMChainID = "1"

var ErrNoWallet = errors.New("stub wallet cannot sign")

// Deps returns deps for TVM -> EVM transfers. Nothing exists on chain until
// an event is put into the returned TVM stub.
func Deps(lggr logger.Logger) (pipeline.Deps, *TVM) {
	tvm := &TVM{events: map[string]*types.EventDetails{}}
	return pipeline.Deps{
		EVM:       map[string]pipeline.EVMReader{EVMChainID: EVM{}},
		EVMWriter: EVM{},
		TVM:       tvm,
		Assets:    Assets{},
		Logger:    lggr,
		Config: config.PipelineConfig{
			PollInterval: 5 * time.Millisecond,
			StaleAfter:   time.Hour,
		},
	}, tvm
}

// EVM finds nothing and cannot send.
type EVM struct{}

func (EVM) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	return nil, nil
}

func (EVM) TransactionByHash(context.Context, common.Hash) (*ethtypes.Transaction, error) {
	return nil, nil
}

func (EVM) BlockNumber(context.Context) (uint64, error) { return 0, nil }

func (EVM) HeaderByNumber(context.Context, *big.Int) (*ethtypes.Header, error) { return nil, nil }

func (EVM) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}

func (EVM) SendTransaction(context.Context, string, types.TxRequest) (common.Hash, error) {
	return common.Hash{}, ErrNoWallet
}

// TVM knows only the events put into it.
type TVM struct {
	mu     sync.Mutex
	events map[string]*types.EventDetails
}

func (t *TVM) SetEvent(addr string, d *types.EventDetails) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[addr] = d
}

func (t *TVM) EventDetails(_ context.Context, addr string) (*types.EventDetails, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, ok := t.events[addr]; ok {
		c := *d
		return &c, nil
	}
	return nil, nil
}

func (t *TVM) IsDeployed(_ context.Context, addr string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.events[addr]
	return ok, nil
}

func (*TVM) Balance(context.Context, string) (*big.Int, error) { return new(big.Int), nil }

func (*TVM) LastTransactionTime(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (*TVM) EventConfigDetails(context.Context, string) (*types.EventConfigDetails, error) {
	return nil, nil
}

func (*TVM) TokenMeta(context.Context, string) (*types.TokenMeta, error) { return nil, nil }

func (*TVM) CreditProcessorAddress(context.Context, string, string, []byte) (string, error) {
	return "", nil
}

func (*TVM) CreditProcessorDetails(context.Context, string) (*types.CreditProcessorDetails, error) {
	return nil, nil
}

func (*TVM) TokenWalletAddress(context.Context, string, string) (string, error) { return "", nil }

func (*TVM) TokenBalance(context.Context, string) (*big.Int, error) { return new(big.Int), nil }

func (*TVM) FindSpawnedEvent(context.Context, string) (string, error) { return "", nil }

// Assets lists every token with 9 decimals and routes it through an empty descriptor.
type Assets struct{}

func (Assets) Get(kind types.NetworkKind, chainID, root string) (types.Asset, bool) {
	return types.Asset{Root: root, ChainID: chainID, Kind: kind, Symbol: "TKN", Decimals: 9}, true
}

func (Assets) Add(types.Asset) error { return nil }

func (Assets) Pipeline(context.Context, string, string, string, types.DepositVariant) (*types.PipelineDescriptor, error) {
	return &types.PipelineDescriptor{}, nil
}

// RejectedEvent is an outgoing event the relays voted down.
func RejectedEvent(sender string) *types.EventDetails {
	return &types.EventDetails{
		Status:        types.EventStatusRejected,
		Rejects:       []string{"relay"},
		RequiredVotes: 1,
		Data: types.EventData{
			Amount:    "1000000000",
			Sender:    sender,
			Recipient: "0x00000000000000000000000000000000000000aa",
		},
	}
}
