package pipeline

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goeverbridge/amounts"
	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/signatures"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

var (
	usdtToken      = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	multiVault     = common.HexToAddress("0x54c55369A6900731d22EaCb0dF7c0253cF19dfFF")
	bridge         = common.HexToAddress("0x3C9C96fA4aE6a1b7a4DA1E8a2C5B7E5CbA9B2b66")
	tvmRecipient   = "0:" + strings.Repeat("11", 32)
	configuration  = "0:" + strings.Repeat("22", 32)
	tvmTokenRoot   = "0:" + strings.Repeat("33", 32)
	outgoingEvent  = "0:" + strings.Repeat("44", 32)
	processorAddr  = "0:" + strings.Repeat("55", 32)
	wrappedRoot    = "0:" + strings.Repeat("66", 32)
	creditFactory  = "0:" + strings.Repeat("77", 32)
	evmRecipient   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	errUnavailable = errors.New("not available")
)

// fakeEVM serves receipts, headers and the vault and bridge views.
type fakeEVM struct {
	mu           sync.Mutex
	receipts     map[common.Hash]*ethtypes.Receipt
	txs          map[common.Hash]*ethtypes.Transaction
	headers      map[uint64]*ethtypes.Header
	head         uint64
	withdrawnAll bool
	calls        atomic.Int32
}

func newFakeEVM() *fakeEVM {
	return &fakeEVM{
		receipts: map[common.Hash]*ethtypes.Receipt{},
		txs:      map[common.Hash]*ethtypes.Transaction{},
		headers:  map[uint64]*ethtypes.Header{},
	}
}

func (f *fakeEVM) addDeposit(d evmFixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[d.tx.Hash()] = d.receipt
	f.txs[d.tx.Hash()] = d.tx
	f.headers[d.header.Number.Uint64()] = d.header
}

func (f *fakeEVM) setHead(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = n
}

func (f *fakeEVM) setWithdrawn(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawnAll = v
}

func (f *fakeEVM) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

func (f *fakeEVM) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[hash], nil
}

func (f *fakeEVM) BlockNumber(context.Context) (uint64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeEVM) HeaderByNumber(_ context.Context, number *big.Int) (*ethtypes.Header, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[number.Uint64()], nil
}

func (f *fakeEVM) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	withdrawalIds := vaultABI.Methods["withdrawalIds"]
	rounds := bridgeABI.Methods["rounds"]
	switch {
	case bytes.HasPrefix(msg.Data, withdrawalIds.ID):
		return withdrawalIds.Outputs.Pack(f.withdrawnAll)
	case bytes.HasPrefix(msg.Data, rounds.ID):
		return rounds.Outputs.Pack(uint32(0), uint32(1700000000), uint32(3), uint32(2))
	}
	return nil, fmt.Errorf("unexpected call to %s", msg.To.Hex())
}

// fakeTVM answers for every contract the pipelines read.
type fakeTVM struct {
	mu            sync.Mutex
	undeployed    map[string]bool
	events        map[string]*types.EventDetails
	defaultEvent  *types.EventDetails
	configs       map[string]*types.EventConfigDetails
	processor     *types.CreditProcessorDetails
	tokenBalances map[string]*big.Int
	balance       *big.Int
	spawned       string
	lastTx        time.Time
	hidden        bool // nothing reads as deployed
	pool          *amounts.PoolReserves
	calls         atomic.Int32
}

func newFakeTVM() *fakeTVM {
	return &fakeTVM{
		undeployed:    map[string]bool{},
		events:        map[string]*types.EventDetails{},
		configs:       map[string]*types.EventConfigDetails{configuration: {EventCode: eventCode(), EventBlocksToConfirm: 2}},
		tokenBalances: map[string]*big.Int{},
		balance:       new(big.Int),
	}
}

func eventCode() []byte {
	return cell.BeginCell().MustStoreUInt(0xbeef, 16).EndCell().ToBOC()
}

func (f *fakeTVM) setEvent(addr string, d *types.EventDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[addr] = d
}

func (f *fakeTVM) IsDeployed(_ context.Context, addr string) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.hidden && !f.undeployed[addr], nil
}

func (f *fakeTVM) setHidden(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden = v
}

func (f *fakeTVM) Balance(context.Context, string) (*big.Int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeTVM) LastTransactionTime(context.Context, string) (time.Time, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.lastTx.IsZero() {
		return f.lastTx, nil
	}
	return time.Now(), nil
}

func (f *fakeTVM) EventDetails(_ context.Context, addr string) (*types.EventDetails, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.events[addr]; ok {
		c := *d
		return &c, nil
	}
	if f.defaultEvent != nil {
		c := *f.defaultEvent
		return &c, nil
	}
	return nil, nil
}

func (f *fakeTVM) EventConfigDetails(_ context.Context, addr string) (*types.EventConfigDetails, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[addr], nil
}

func (f *fakeTVM) TokenMeta(context.Context, string) (*types.TokenMeta, error) {
	f.calls.Add(1)
	return nil, errUnavailable
}

func (f *fakeTVM) CreditProcessorAddress(context.Context, string, string, []byte) (string, error) {
	f.calls.Add(1)
	return processorAddr, nil
}

func (f *fakeTVM) CreditProcessorDetails(context.Context, string) (*types.CreditProcessorDetails, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processor == nil {
		return nil, nil
	}
	c := *f.processor
	return &c, nil
}

func (f *fakeTVM) TokenWalletAddress(_ context.Context, root, owner string) (string, error) {
	f.calls.Add(1)
	return root + "/" + owner, nil
}

func (f *fakeTVM) TokenBalance(_ context.Context, wallet string) (*big.Int, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.tokenBalances[wallet]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *fakeTVM) PoolReserves(_ context.Context, pair, _ string) (*amounts.PoolReserves, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pool == nil {
		return nil, fmt.Errorf("pair %s not found", pair)
	}
	c := *f.pool
	return &c, nil
}

func (f *fakeTVM) FindSpawnedEvent(context.Context, string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.spawned, nil
}

type fakeAssets struct {
	mu            sync.Mutex
	assets        map[string]types.Asset
	descriptor    *types.PipelineDescriptor
	added         []types.Asset
	pipelineCalls int
}

func newFakeAssets(d *types.PipelineDescriptor, listed ...types.Asset) *fakeAssets {
	f := &fakeAssets{assets: map[string]types.Asset{}, descriptor: d}
	for _, a := range listed {
		f.assets[a.Key()] = a
	}
	return f
}

func (f *fakeAssets) Get(kind types.NetworkKind, chainID, root string) (types.Asset, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.assets[types.AssetKey(kind, chainID, root)]
	return a, ok
}

func (f *fakeAssets) Add(a types.Asset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, a)
	return nil
}

func (f *fakeAssets) Pipeline(context.Context, string, string, string, types.DepositVariant) (*types.PipelineDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipelineCalls++
	return f.descriptor, nil
}

func (f *fakeAssets) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelineCalls
}

type fakeEVMWriter struct {
	mu   sync.Mutex
	reqs []types.TxRequest
	errs []error
}

func (f *fakeEVMWriter) SendTransaction(_ context.Context, _ string, req types.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return common.Hash{}, err
		}
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeEVMWriter) sent() []types.TxRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TxRequest(nil), f.reqs...)
}

type fakeTVMWriter struct {
	mu    sync.Mutex
	calls []types.TVMCall
	err   error
}

func (f *fakeTVMWriter) Address() string { return "0:" + strings.Repeat("99", 32) }

func (f *fakeTVMWriter) Call(_ context.Context, call types.TVMCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeTVMWriter) sent() []types.TVMCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TVMCall(nil), f.calls...)
}

// blockingTVMWriter holds every call until release is closed, as a wallet
// waiting on the user to sign would.
type blockingTVMWriter struct {
	fakeTVMWriter
	entered chan struct{}
	release chan struct{}
}

func newBlockingTVMWriter() *blockingTVMWriter {
	return &blockingTVMWriter{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (w *blockingTVMWriter) Call(ctx context.Context, call types.TVMCall) error {
	err := w.fakeTVMWriter.Call(ctx, call)
	w.entered <- struct{}{}
	select {
	case <-w.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type evmFixture struct {
	key     *ecdsa.PrivateKey
	tx      *ethtypes.Transaction
	receipt *ethtypes.Receipt
	header  *ethtypes.Header
}

func (d evmFixture) sender() common.Address {
	return crypto.PubkeyToAddress(d.key.PublicKey)
}

// newEVMDeposit builds a multivault alien deposit of 10000 raw units with a
// 30 unit fee. input, when set, becomes the transaction calldata.
func newEVMDeposit(t *testing.T, input []byte) evmFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx, err := ethtypes.SignNewTx(key, ethtypes.LatestSignerForChainID(big.NewInt(1)), &ethtypes.DynamicFeeTx{
		ChainID:   big.NewInt(1),
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1),
		Gas:       100000,
		To:        &multiVault,
		Value:     new(big.Int),
		Data:      input,
	})
	require.NoError(t, err)

	_, recipient, err := splitTVM(tvmRecipient)
	require.NoError(t, err)
	alien, err := multiVaultABI.Events["AlienTransfer"].Inputs.Pack(
		big.NewInt(1), usdtToken.Big(), "Tether", "USDT", uint8(6), big.NewInt(10000),
		int8(0), recipient, new(big.Int), new(big.Int), []byte{})
	require.NoError(t, err)
	deposit, err := multiVaultABI.Events["Deposit"].Inputs.Pack(
		uint8(1), crypto.PubkeyToAddress(key.PublicKey), usdtToken, int8(0), recipient, big.NewInt(10030), big.NewInt(30))
	require.NoError(t, err)

	receipt := &ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(100),
		BlockHash:   common.HexToHash("0xb10c"),
		Logs: []*ethtypes.Log{
			{Address: multiVault, Topics: []common.Hash{multiVaultABI.Events["Deposit"].ID}, Data: deposit, Index: 3},
			{Address: multiVault, Topics: []common.Hash{multiVaultABI.Events["AlienTransfer"].ID}, Data: alien, Index: 4},
		},
	}
	header := &ethtypes.Header{Number: big.NewInt(100), Time: uint64(time.Now().Unix())}
	return evmFixture{key: key, tx: tx, receipt: receipt, header: header}
}

func splitTVM(addr string) (int8, *big.Int, error) {
	wid, rest, ok := strings.Cut(addr, ":")
	if !ok || wid != "0" {
		return 0, nil, fmt.Errorf("bad address %s", addr)
	}
	v, ok := new(big.Int).SetString(rest, 16)
	if !ok {
		return 0, nil, fmt.Errorf("bad address %s", addr)
	}
	return 0, v, nil
}

var usdtAsset = types.Asset{Root: usdtToken.Hex(), ChainID: "1", Kind: types.NetworkEVM, Name: "Tether", Symbol: "USDT", Decimals: 4}

var tvmUSDT = types.Asset{Root: tvmTokenRoot, ChainID: "42", Kind: types.NetworkTVM, Name: "Tether", Symbol: "USDT", Decimals: 4}

func testDeps(t *testing.T, evm *fakeEVM, tvm *fakeTVM, assets *fakeAssets) Deps {
	return Deps{
		EVM:    map[string]EVMReader{"1": evm, "56": evm},
		TVM:    tvm,
		Assets: assets,
		Config: config.PipelineConfig{
			PollInterval:    5 * time.Millisecond,
			StaleAfter:      time.Hour,
			ReleaseAttempts: 2,
			GasBuffer:       "500",
			GasMinimum:      "1000",
			DeployWalletGas: "100",
			MinSlippage:     "0.5",
			MaxSlippage:     "3",
		},
		Logger: logger.Test(t),
	}
}

func signPayload(t *testing.T, payload []byte, n int) [][]byte {
	t.Helper()
	digest := signatures.PayloadDigest(payload)
	sigs := make([][]byte, n)
	for i := range sigs {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		sigs[i], err = crypto.Sign(digest, key)
		require.NoError(t, err)
	}
	return sigs
}
