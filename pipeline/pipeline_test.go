package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"goeverbridge/EVMRPC"
	"goeverbridge/indexer"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitFor = 5 * time.Second

func evmToTVMDescriptor() *types.PipelineDescriptor {
	return &types.PipelineDescriptor{
		From:                   "evm-1",
		To:                     "tvm-42",
		Variant:                types.VariantDefault,
		TVMTokenRoot:           tvmTokenRoot,
		EverscaleConfiguration: configuration,
		EVMTokenAddress:        usdtToken.Hex(),
		VaultAddress:           multiVault.Hex(),
		IsMultiVault:           true,
	}
}

func evmIdentity(source common.Hash, dest types.NetworkKind, destChain string, variant types.DepositVariant) types.TransferIdentity {
	return types.TransferIdentity{
		SourceChainID: "1",
		SourceKind:    types.NetworkEVM,
		DestChainID:   destChain,
		DestKind:      dest,
		Source:        source.Hex(),
		Variant:       variant,
	}
}

func confirmedEvent() *types.EventDetails {
	return &types.EventDetails{
		Status:        types.EventStatusConfirmed,
		Confirms:      []string{"relay1", "relay2"},
		RequiredVotes: 2,
	}
}

func phaseIs(p *Pipeline, want types.Phase) func() bool {
	return func() bool { return p.Snapshot().State.Phase == want }
}

func TestEVMToTVMSettles(t *testing.T) {
	defer goleak.VerifyNone(t)

	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.defaultEvent = confirmedEvent()
	assets := newFakeAssets(evmToTVMDescriptor(), usdtAsset)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, tvm, assets))
	require.NoError(t, err)
	defer p.Dispose()
	require.Equal(t, types.KindEVMToTVM, p.Kind())

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)

	snap := p.Snapshot()
	d, st := snap.Data, snap.State
	// shortest decimal form, never padded to "1.0"
	assert.Equal(t, "1", d.Amount)
	assert.Equal(t, "10000", d.RawAmount)
	require.NotNil(t, d.DepositFee)
	assert.Equal(t, int64(30), *d.DepositFee)
	assert.Equal(t, types.DepositAlien, d.DepositType)
	assert.Equal(t, strings.ToLower(dep.sender().Hex()), d.LeftAddress)
	assert.Equal(t, tvmRecipient, d.RightAddress)
	assert.Equal(t, uint64(100), d.SourceBlockNumber)
	assert.NotEmpty(t, d.EventVoteData)
	assert.True(t, strings.HasPrefix(d.DeriveEventAddress, "0:"))

	assert.Equal(t, types.StatusConfirmed, st.Transfer.Status)
	assert.Equal(t, uint64(2), st.Transfer.EventBlocksToConfirm)
	assert.Equal(t, types.StatusConfirmed, st.Prepare.Status)
	assert.Equal(t, types.StatusConfirmed, st.Event.Status)
	assert.Equal(t, 2, st.Event.Confirmations)
	assert.False(t, st.IsCheckingSource)
}

func TestMissingReceiptKeepsPolling(t *testing.T) {
	defer goleak.VerifyNone(t)

	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.defaultEvent = confirmedEvent()
	assets := newFakeAssets(evmToTVMDescriptor(), usdtAsset)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, tvm, assets))
	require.NoError(t, err)
	defer p.Dispose()

	p.Init()
	require.Eventually(t, func() bool { return evm.calls.Load() >= 3 }, waitFor, time.Millisecond)
	snap := p.Snapshot()
	assert.Equal(t, types.PhaseIdle, snap.State.Phase)
	assert.True(t, snap.State.IsCheckingSource)
	assert.Nil(t, snap.Data.Pipeline)
	assert.Zero(t, assets.calls())

	evm.addDeposit(dep)
	p.CheckSource(true)
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
}

func TestFailedSourceIsRejected(t *testing.T) {
	dep := newEVMDeposit(t, nil)
	dep.receipt.Status = 0
	evm := newFakeEVM()
	evm.addDeposit(dep)
	assets := newFakeAssets(evmToTVMDescriptor(), usdtAsset)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, newFakeTVM(), assets))
	require.NoError(t, err)
	defer p.Dispose()

	require.NoError(t, p.Resolve(context.Background()))
	st := p.Snapshot().State
	assert.Equal(t, types.PhaseRejected, st.Phase)
	assert.Equal(t, types.StatusRejected, st.Transfer.Status)
	assert.Nil(t, p.Snapshot().Data.Pipeline)
}

func TestResolveIsIdempotent(t *testing.T) {
	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(100)
	assets := newFakeAssets(evmToTVMDescriptor(), usdtAsset)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, newFakeTVM(), assets))
	require.NoError(t, err)
	defer p.Dispose()

	ctx := context.Background()
	require.NoError(t, p.Resolve(ctx))
	first := p.Snapshot().Data
	require.NoError(t, p.Resolve(ctx))
	assert.Equal(t, first, p.Snapshot().Data)
	assert.Equal(t, 1, assets.calls())
	assert.Equal(t, types.PhaseAwaitingSourceFinality, p.Snapshot().State.Phase)
}

func TestUnknownTokenIsImported(t *testing.T) {
	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	assets := newFakeAssets(evmToTVMDescriptor())

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, newFakeTVM(), assets))
	require.NoError(t, err)
	defer p.Dispose()

	require.NoError(t, p.Resolve(context.Background()))
	require.Len(t, assets.added, 1)
	// metadata comes from the AlienTransfer log
	assert.Equal(t, int32(6), assets.added[0].Decimals)
	assert.Equal(t, "0.01", p.Snapshot().Data.Amount)
}

func TestDisposeStopsChainCalls(t *testing.T) {
	defer goleak.VerifyNone(t)

	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	assets := newFakeAssets(evmToTVMDescriptor(), usdtAsset)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), testDeps(t, evm, newFakeTVM(), assets))
	require.NoError(t, err)

	p.Init()
	require.Eventually(t, func() bool { return evm.calls.Load() > 0 }, waitFor, time.Millisecond)
	p.Dispose()
	p.Dispose()
	calls := evm.calls.Load()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, evm.calls.Load())
	require.ErrorIs(t, p.Resolve(context.Background()), ErrDisposed)
	require.ErrorIs(t, p.Release(context.Background()), ErrDisposed)
}

func TestNewReportsMissingCollaborators(t *testing.T) {
	id := evmIdentity(common.HexToHash("0x01"), types.NetworkEVM, "56", types.VariantCredit)
	_, err := New(id, Deps{Config: testDeps(t, nil, nil, nil).Config})
	require.Error(t, err)
	for _, missing := range []string{"asset registry", "logger", "TVM reader", "EVM writer", "TVM writer", "indexer"} {
		assert.ErrorContains(t, err, missing)
	}

	_, err = New(types.TransferIdentity{SourceKind: types.NetworkSolana, DestKind: types.NetworkEVM, SourceChainID: "1", DestChainID: "1", Source: "x"}, Deps{})
	require.ErrorIs(t, err, types.ErrUnsupportedCorridor)
}

// tvm -> evm

func tvmToEVM(t *testing.T, evm *fakeEVM, tvm *fakeTVM, writer *fakeEVMWriter) *Pipeline {
	t.Helper()
	tvm.setEvent(outgoingEvent, &types.EventDetails{
		Status:             types.EventStatusConfirmed,
		Confirms:           []string{"relay1", "relay2"},
		RequiredVotes:      2,
		Configuration:      configuration,
		EventTransactionLt: 4242,
		EventTimestamp:     1700000000,
		Round:              7,
		Data: types.EventData{
			TokenRoot: tvmTokenRoot,
			BaseToken: usdtToken.Hex(),
			Amount:    "10000",
			Sender:    tvmRecipient,
			Recipient: evmRecipient.Hex(),
			ChainID:   "1",
		},
	})
	descriptor := &types.PipelineDescriptor{
		From:            "tvm-42",
		To:              "evm-1",
		TVMTokenRoot:    tvmTokenRoot,
		EVMTokenAddress: usdtToken.Hex(),
		VaultAddress:    multiVault.Hex(),
		BridgeAddress:   bridge.Hex(),
		IsMultiVault:    true,
	}
	deps := testDeps(t, evm, tvm, newFakeAssets(descriptor, tvmUSDT))
	deps.EVMWriter = writer

	p, err := New(types.TransferIdentity{
		SourceChainID: "42",
		SourceKind:    types.NetworkTVM,
		DestChainID:   "1",
		DestKind:      types.NetworkEVM,
		Source:        outgoingEvent,
	}, deps)
	require.NoError(t, err)
	return p
}

func TestTVMToEVMAlreadyWithdrawn(t *testing.T) {
	defer goleak.VerifyNone(t)

	evm, tvm, writer := newFakeEVM(), newFakeTVM(), &fakeEVMWriter{}
	p := tvmToEVM(t, evm, tvm, writer)
	defer p.Dispose()

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)
	d := p.Snapshot().Data
	assert.NotEmpty(t, d.EncodedEvent)
	assert.Equal(t, uint32(7), d.Round)
	assert.Equal(t, strings.ToLower(evmRecipient.Hex()), d.RightAddress)
	require.Eventually(t, func() bool { return p.Snapshot().State.Release.TTL == 1700000000 }, waitFor, time.Millisecond)

	evm.setWithdrawn(true)
	require.NoError(t, p.Release(context.Background()))
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
	assert.Empty(t, writer.sent())
	assert.Equal(t, types.StatusConfirmed, p.Snapshot().State.Release.Status)
}

func TestReleaseFallsBackToLegacy(t *testing.T) {
	defer goleak.VerifyNone(t)

	evm, tvm := newFakeEVM(), newFakeTVM()
	writer := &fakeEVMWriter{errs: []error{EVMRPC.ErrTxTypeNotSupported}}
	p := tvmToEVM(t, evm, tvm, writer)
	defer p.Dispose()

	require.ErrorIs(t, p.Release(context.Background()), ErrNotResolved)

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)

	details, err := tvm.EventDetails(context.Background(), outgoingEvent)
	require.NoError(t, err)
	details.Signatures = signPayload(t, p.Snapshot().Data.EncodedEvent, 2)
	tvm.setEvent(outgoingEvent, details)

	require.NoError(t, p.Release(context.Background()))
	sent := writer.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, types.TxTypeDynamicFee, sent[0].Type)
	assert.Equal(t, types.TxTypeLegacy, sent[1].Type)
	assert.Equal(t, multiVault, sent[1].To)
	assert.Equal(t, multiVaultABI.Methods["saveWithdrawAlien"].ID, sent[1].Data[:4])
	assert.False(t, p.Snapshot().State.Release.IsReleasing)

	evm.setWithdrawn(true)
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
}

func TestReleaseUserRejectionStaysRetryable(t *testing.T) {
	evm, tvm := newFakeEVM(), newFakeTVM()
	writer := &fakeEVMWriter{errs: []error{ErrUserRejected}}
	p := tvmToEVM(t, evm, tvm, writer)
	defer p.Dispose()

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)
	details, err := tvm.EventDetails(context.Background(), outgoingEvent)
	require.NoError(t, err)
	details.Signatures = signPayload(t, p.Snapshot().Data.EncodedEvent, 1)
	tvm.setEvent(outgoingEvent, details)

	require.ErrorIs(t, p.Release(context.Background()), ErrUserRejected)
	rel := p.Snapshot().State.Release
	assert.True(t, rel.UserRejected)
	assert.Equal(t, types.StatusPending, rel.Status)
	assert.False(t, rel.IsReleasing)

	require.NoError(t, p.Release(context.Background()))
	assert.Len(t, writer.sent(), 2)
}

// credit

func creditDeposit(t *testing.T, hiddenRecipient *common.Address) evmFixture {
	t.Helper()
	_, user, err := splitTVM(tvmRecipient)
	require.NoError(t, err)
	level3 := []byte{}
	if hiddenRecipient != nil {
		level3 = common.LeftPadBytes(hiddenRecipient.Bytes(), 32)
	}
	input, err := vaultABI.Pack("depositToFactory",
		big.NewInt(10000), int8(0), user, user, user, big.NewInt(9000), big.NewInt(1000000000),
		uint8(0), big.NewInt(1), big.NewInt(100), level3)
	require.NoError(t, err)
	return newEVMDeposit(t, input)
}

func creditDescriptor(to string) *types.PipelineDescriptor {
	d := evmToTVMDescriptor()
	d.To = to
	d.Variant = types.VariantCredit
	d.CreditFactoryAddress = creditFactory
	d.WrappedNativeRoot = wrappedRoot
	return d
}

func TestCreditCancelAndWithdraw(t *testing.T) {
	defer goleak.VerifyNone(t)

	dep := creditDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.processor = &types.CreditProcessorDetails{State: types.ProcessorSwapFailed, Debt: big.NewInt(100)}
	writer := &fakeTVMWriter{}
	deps := testDeps(t, evm, tvm, newFakeAssets(creditDescriptor("tvm-42"), usdtAsset))
	deps.TVMWriter = writer

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantCredit), deps)
	require.NoError(t, err)
	defer p.Dispose()
	require.Equal(t, types.KindEVMToTVMCredit, p.Kind())

	p.Init()
	require.Eventually(t, func() bool {
		return p.Snapshot().State.CreditProcessor.ProcessorState == types.ProcessorSwapFailed
	}, waitFor, time.Millisecond)
	d := p.Snapshot().Data
	assert.Equal(t, types.DepositCredit, d.DepositType)
	assert.Equal(t, processorAddr, d.CreditProcessorAddress)
	require.NotNil(t, d.CreditEvent)
	assert.Equal(t, "9000", d.CreditEvent.TokenAmount)

	require.ErrorIs(t, p.WithdrawTokens(context.Background(), "1"), ErrNotReady)

	require.NoError(t, p.Cancel(context.Background()))
	calls := writer.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, cancelMethod, calls[0].Method)
	assert.Equal(t, processorAddr, calls[0].To)
	// debt 100 minus balance 0 plus buffer 500 stays under the 1000 minimum
	assert.Equal(t, big.NewInt(1000), calls[0].Amount)

	tokenWallet, wrappedWallet := tvmTokenRoot+"/"+processorAddr, wrappedRoot+"/"+processorAddr
	setBalance := func(wallet string, v int64) {
		tvm.mu.Lock()
		defer tvm.mu.Unlock()
		tvm.tokenBalances[wallet] = big.NewInt(v)
	}
	setBalance(tokenWallet, 10000)
	setBalance(wrappedWallet, 5000)
	tvm.mu.Lock()
	tvm.processor = &types.CreditProcessorDetails{State: types.ProcessorCancelled, Debt: new(big.Int)}
	tvm.mu.Unlock()
	require.Eventually(t, phaseIs(p, types.PhaseCancelled), waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return p.Snapshot().State.Withdraw.TokenBalance == "10000" }, waitFor, time.Millisecond)

	require.NoError(t, p.WithdrawTokens(context.Background(), "1"))
	calls = writer.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, withdrawTokensMethod, calls[1].Method)
	assert.Equal(t, []string{tvmTokenRoot + ":10000"}, p.Snapshot().Data.PendingWithdrawals)

	// tokens landed, wrapped coins are still on the processor
	setBalance(tokenWallet, 0)
	require.Eventually(t, func() bool { return len(p.Snapshot().Data.PendingWithdrawals) == 0 }, waitFor, time.Millisecond)
	assert.Equal(t, "5000", p.Snapshot().State.Withdraw.WrappedBalance)

	// a partial withdrawal is pending until the balance drops by its amount
	require.NoError(t, p.WithdrawWrapped(context.Background(), "0.000002"))
	assert.Equal(t, []string{wrappedRoot + ":2000"}, p.Snapshot().Data.PendingWithdrawals)
	setBalance(wrappedWallet, 4000)
	require.Eventually(t, func() bool { return p.Snapshot().State.Withdraw.WrappedBalance == "4000" }, waitFor, time.Millisecond)
	assert.Equal(t, []string{wrappedRoot + ":2000"}, p.Snapshot().Data.PendingWithdrawals)
	setBalance(wrappedWallet, 3000)
	require.Eventually(t, func() bool { return len(p.Snapshot().Data.PendingWithdrawals) == 0 }, waitFor, time.Millisecond)

	setBalance(wrappedWallet, 0)
	require.Eventually(t, func() bool { return p.Snapshot().State.Withdraw.WrappedBalance == "0" }, waitFor, time.Millisecond)
}

func TestWithdrawRejectsInvalidAmount(t *testing.T) {
	dep := creditDeposit(t, nil)
	deps := testDeps(t, newFakeEVM(), newFakeTVM(), newFakeAssets(creditDescriptor("tvm-42"), usdtAsset))
	writer := &fakeTVMWriter{}
	deps.TVMWriter = writer
	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantCredit), deps)
	require.NoError(t, err)
	defer p.Dispose()

	ctx := context.Background()
	for _, amount := range []string{"", "abc", "0", "-1"} {
		require.ErrorIs(t, p.WithdrawTokens(ctx, amount), ErrInvalidAmount, amount)
		require.ErrorIs(t, p.WithdrawWrapped(ctx, amount), ErrInvalidAmount, amount)
		require.ErrorIs(t, p.WithdrawNative(ctx, amount), ErrInvalidAmount, amount)
	}
	assert.Empty(t, writer.sent())
}

func TestHiddenSwapFindsSecondEvent(t *testing.T) {
	var (
		mu    sync.Mutex
		query indexer.BurnCallbackQuery
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transfers":[{"tonEventContractAddress":"` + outgoingEvent + `","chainId":56}],"totalCount":1}`))
	}))
	defer srv.Close()

	hidden := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	dep := creditDeposit(t, &hidden)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.processor = &types.CreditProcessorDetails{
		State:      types.ProcessorProcessed,
		Amount:     big.NewInt(10000),
		SwapAmount: big.NewInt(4000),
		Debt:       new(big.Int),
	}
	tvm.setEvent(outgoingEvent, &types.EventDetails{
		Status:             types.EventStatusConfirmed,
		Confirms:           []string{"relay1"},
		RequiredVotes:      1,
		Configuration:      configuration,
		EventTransactionLt: 1,
		EventTimestamp:     1700000000,
		Round:              3,
		Data: types.EventData{
			TokenRoot: tvmTokenRoot,
			BaseToken: usdtToken.Hex(),
			Amount:    "6000",
			Recipient: hidden.Hex(),
			ChainID:   "56",
		},
	})

	deps := testDeps(t, evm, tvm, newFakeAssets(creditDescriptor("evm-56"), usdtAsset))
	deps.TVMWriter = &fakeTVMWriter{}
	deps.EVMWriter = &fakeEVMWriter{}
	deps.Indexer = indexer.NewClient(srv.URL, deps.Logger)

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkEVM, "56", types.VariantCredit), deps)
	require.NoError(t, err)
	defer p.Dispose()
	require.Equal(t, types.KindEVMToEVMHidden, p.Kind())

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)

	snap := p.Snapshot()
	assert.Equal(t, strings.ToLower(hidden.Hex()), snap.Data.RightAddress)
	assert.Equal(t, outgoingEvent, snap.Data.SecondEventAddress)
	assert.Equal(t, "4000", snap.Data.SwapAmount)
	assert.Equal(t, "6000", snap.Data.ResidualAmount)
	assert.NotEmpty(t, snap.Data.SecondWithdrawalID)
	assert.Equal(t, uint32(3), snap.Data.SecondRound)
	assert.Equal(t, types.StatusConfirmed, snap.State.CreditProcessor.Status)
	assert.Equal(t, types.StatusConfirmed, snap.State.SecondEvent.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int64(56), query.ChainID)
	assert.Equal(t, processorAddr, query.CreditProcessorAddress)
	assert.Equal(t, 1, query.Limit)
}

// tvm -> solana

type fakeSolana struct {
	mu        sync.Mutex
	deposit   *types.SolanaDeposit
	slot      uint64
	proposals map[string]*types.SolanaProposal
	created   []types.ProposalRequest
	executed  []types.ProposalRequest
}

func (f *fakeSolana) Deposit(_ context.Context, signature string) (*types.SolanaDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deposit == nil || f.deposit.Signature != signature {
		return nil, nil
	}
	c := *f.deposit
	return &c, nil
}

func (f *fakeSolana) Slot(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slot, nil
}

func (f *fakeSolana) Proposal(_ context.Context, pda string) (*types.SolanaProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.proposals[pda]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (f *fakeSolana) setProposal(p *types.SolanaProposal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals[p.Address] = p
}

func (f *fakeSolana) CreateProposal(_ context.Context, req types.ProposalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return nil
}

func (f *fakeSolana) ExecuteProposal(_ context.Context, req types.ProposalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	return nil
}

func TestTVMToSolanaProposal(t *testing.T) {
	defer goleak.VerifyNone(t)

	const program = "11111111111111111111111111111111"
	tvm := newFakeTVM()
	tvm.setEvent(outgoingEvent, &types.EventDetails{
		Status:             types.EventStatusConfirmed,
		Confirms:           []string{"relay1"},
		RequiredVotes:      1,
		Configuration:      configuration,
		EventTransactionLt: 99,
		EventTimestamp:     1700000000,
		Round:              2,
		Data: types.EventData{
			TokenRoot: tvmTokenRoot,
			Amount:    "10000",
			Sender:    tvmRecipient,
			Recipient: "So11111111111111111111111111111111111111112",
			Raw:       []byte{1, 2, 3},
		},
	})
	sol := &fakeSolana{proposals: map[string]*types.SolanaProposal{}}
	descriptor := &types.PipelineDescriptor{
		From:          "tvm-42",
		To:            "solana-1",
		TVMTokenRoot:  tvmTokenRoot,
		SolanaProgram: program,
		SolanaMint:    "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	}
	deps := testDeps(t, newFakeEVM(), tvm, newFakeAssets(descriptor, tvmUSDT))
	deps.Solana = sol
	deps.SolanaWriter = sol

	p, err := New(types.TransferIdentity{
		SourceChainID: "42",
		SourceKind:    types.NetworkTVM,
		DestChainID:   "1",
		DestKind:      types.NetworkSolana,
		Source:        outgoingEvent,
	}, deps)
	require.NoError(t, err)
	defer p.Dispose()

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)
	d := p.Snapshot().Data
	// base58 addresses keep their case
	assert.Equal(t, "So11111111111111111111111111111111111111112", d.RightAddress)
	assert.NotEmpty(t, d.WithdrawalID)
	assert.Equal(t, []byte{1, 2, 3}, d.EncodedEvent)

	require.NoError(t, p.Release(context.Background()))
	sol.mu.Lock()
	require.Len(t, sol.created, 1)
	assert.Equal(t, uint64(10000), sol.created[0].Amount)
	assert.Equal(t, d.WithdrawalID, sol.created[0].Proposal)
	sol.mu.Unlock()

	sol.setProposal(&types.SolanaProposal{Address: d.WithdrawalID, Signers: 0, Required: 2})
	require.ErrorIs(t, p.Release(context.Background()), ErrNotReady)

	sol.setProposal(&types.SolanaProposal{Address: d.WithdrawalID, Signers: 2, Required: 2})
	require.NoError(t, p.Release(context.Background()))
	sol.mu.Lock()
	assert.Len(t, sol.executed, 1)
	sol.mu.Unlock()

	sol.setProposal(&types.SolanaProposal{Address: d.WithdrawalID, Signers: 2, Required: 2, Executed: true})
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
}

// solana -> tvm

func TestSolanaToTVMSettles(t *testing.T) {
	defer goleak.VerifyNone(t)

	const (
		signature = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
		mint      = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
		sender    = "So11111111111111111111111111111111111111112"
	)
	var recipient [32]byte
	for i := range recipient {
		recipient[i] = 0x11
	}
	sol := &fakeSolana{proposals: map[string]*types.SolanaProposal{}, slot: 1000}
	sol.deposit = &types.SolanaDeposit{
		Signature:     signature,
		Slot:          1000,
		BlockTime:     time.Now(),
		Sender:        sender,
		Mint:          mint,
		Amount:        1500000,
		RecipientAddr: recipient,
	}
	tvm := newFakeTVM()
	tvm.defaultEvent = confirmedEvent()
	descriptor := &types.PipelineDescriptor{
		From:                   "solana-1",
		To:                     "tvm-42",
		TVMTokenRoot:           tvmTokenRoot,
		EverscaleConfiguration: configuration,
		SolanaMint:             mint,
	}
	solUSDT := types.Asset{Root: mint, ChainID: "1", Kind: types.NetworkSolana, Name: "Tether", Symbol: "USDT", Decimals: 6}
	deps := testDeps(t, newFakeEVM(), tvm, newFakeAssets(descriptor, solUSDT))
	deps.Solana = sol

	p, err := New(types.TransferIdentity{
		SourceChainID: "1",
		SourceKind:    types.NetworkSolana,
		DestChainID:   "42",
		DestKind:      types.NetworkTVM,
		Source:        signature,
	}, deps)
	require.NoError(t, err)
	defer p.Dispose()
	require.Equal(t, types.KindSolanaToTVM, p.Kind())

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseAwaitingSourceFinality), waitFor, time.Millisecond)
	require.Eventually(t, func() bool { return p.Snapshot().State.Transfer.EventBlocksToConfirm == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(0), p.Snapshot().State.Transfer.ConfirmedBlocksCount)

	sol.mu.Lock()
	sol.slot = 1002
	sol.mu.Unlock()
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)

	snap := p.Snapshot()
	assert.Equal(t, "1.5", snap.Data.Amount)
	assert.Equal(t, "1500000", snap.Data.RawAmount)
	assert.Equal(t, sender, snap.Data.LeftAddress)
	assert.Equal(t, tvmRecipient, snap.Data.RightAddress)
	assert.Equal(t, uint64(1000), snap.Data.SourceBlockNumber)
	assert.NotEmpty(t, snap.Data.EventVoteData)
	assert.True(t, strings.HasPrefix(snap.Data.DeriveEventAddress, "0:"))
	assert.Equal(t, uint64(2), snap.State.Transfer.ConfirmedBlocksCount)
	assert.Equal(t, types.StatusConfirmed, snap.State.Event.Status)
}

// evm -> evm through the TVM proxy

func TestEVMToEVMSpawnedEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.defaultEvent = confirmedEvent()
	tvm.setEvent(outgoingEvent, &types.EventDetails{
		Status:             types.EventStatusConfirmed,
		Confirms:           []string{"relay1"},
		RequiredVotes:      1,
		Configuration:      configuration,
		EventTransactionLt: 5,
		EventTimestamp:     1700000000,
		Round:              4,
		Data: types.EventData{
			TokenRoot: tvmTokenRoot,
			BaseToken: usdtToken.Hex(),
			Amount:    "10000",
			Recipient: evmRecipient.Hex(),
			ChainID:   "56",
		},
	})
	descriptor := evmToTVMDescriptor()
	descriptor.To = "evm-56"
	descriptor.BridgeAddress = bridge.Hex()
	writer := &fakeEVMWriter{}
	deps := testDeps(t, evm, tvm, newFakeAssets(descriptor, usdtAsset))
	deps.EVMWriter = writer

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkEVM, "56", types.VariantDefault), deps)
	require.NoError(t, err)
	defer p.Dispose()
	require.Equal(t, types.KindEVMToEVM, p.Kind())

	p.Init()
	require.Eventually(t, func() bool { return p.Snapshot().State.Event.Status == types.StatusConfirmed }, waitFor, time.Millisecond)
	// the proxy has not spawned the outgoing event yet
	time.Sleep(20 * time.Millisecond)
	snap := p.Snapshot()
	assert.Empty(t, snap.Data.SecondEventAddress)
	assert.NotEqual(t, types.PhaseReadyToRelease, snap.State.Phase)

	tvm.mu.Lock()
	tvm.spawned = outgoingEvent
	tvm.mu.Unlock()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)

	snap = p.Snapshot()
	assert.Equal(t, outgoingEvent, snap.Data.SecondEventAddress)
	assert.NotEmpty(t, snap.Data.SecondEncodedEvent)
	assert.NotEmpty(t, snap.Data.SecondWithdrawalID)
	assert.Equal(t, uint32(4), snap.Data.SecondRound)
	assert.Equal(t, types.StatusConfirmed, snap.State.SecondEvent.Status)

	evm.setWithdrawn(true)
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
	assert.Empty(t, writer.sent())
}

func TestPrepareDisabledOnceOutdated(t *testing.T) {
	defer goleak.VerifyNone(t)

	clock := newFakeClock()
	dep := newEVMDeposit(t, nil)
	evm := newFakeEVM()
	evm.addDeposit(dep)
	evm.setHead(105)
	tvm := newFakeTVM()
	tvm.defaultEvent = confirmedEvent()
	tvm.setHidden(true)
	writer := &fakeTVMWriter{}
	deps := testDeps(t, evm, tvm, newFakeAssets(evmToTVMDescriptor(), usdtAsset))
	deps.Clock = clock
	deps.TVMWriter = writer

	p, err := New(evmIdentity(dep.tx.Hash(), types.NetworkTVM, "42", types.VariantDefault), deps)
	require.NoError(t, err)
	defer p.Dispose()

	ctx := context.Background()
	p.Init()
	require.Eventually(t, func() bool { return p.Snapshot().State.Transfer.Status == types.StatusConfirmed }, waitFor, time.Millisecond)
	// relays still have time to deploy the event themselves
	require.ErrorIs(t, p.Prepare(ctx), ErrNotReady)

	clock.advance(2 * time.Hour)
	require.Eventually(t, func() bool { return p.Snapshot().State.Prepare.Status == types.StatusDisabled }, waitFor, time.Millisecond)
	prep := p.Snapshot().State.Prepare
	assert.True(t, prep.IsOutdated)
	assert.False(t, prep.IsDeployed)

	require.NoError(t, p.Prepare(ctx))
	calls := writer.sent()
	require.Len(t, calls, 1)
	assert.Equal(t, deployEventMethod, calls[0].Method)
	assert.Equal(t, configuration, calls[0].To)
	prep = p.Snapshot().State.Prepare
	assert.Equal(t, types.StatusPending, prep.Status)
	assert.True(t, prep.IsDeploying)
	require.ErrorIs(t, p.Prepare(ctx), ErrAlreadyInProgress)

	tvm.setHidden(false)
	require.Eventually(t, phaseIs(p, types.PhaseReleased), waitFor, time.Millisecond)
	prep = p.Snapshot().State.Prepare
	assert.Equal(t, types.StatusConfirmed, prep.Status)
	assert.True(t, prep.IsOutdated)
	assert.False(t, prep.IsDeploying)
	assert.Len(t, writer.sent(), 1)
}

func TestReleaseFailureDisablesRelease(t *testing.T) {
	defer goleak.VerifyNone(t)

	evm, tvm := newFakeEVM(), newFakeTVM()
	writer := &fakeEVMWriter{errs: []error{errors.New("insufficient funds for gas")}}
	p := tvmToEVM(t, evm, tvm, writer)
	defer p.Dispose()

	p.Init()
	require.Eventually(t, phaseIs(p, types.PhaseReadyToRelease), waitFor, time.Millisecond)
	details, err := tvm.EventDetails(context.Background(), outgoingEvent)
	require.NoError(t, err)
	details.Signatures = signPayload(t, p.Snapshot().Data.EncodedEvent, 2)
	tvm.setEvent(outgoingEvent, details)

	require.ErrorContains(t, p.Release(context.Background()), "insufficient funds")
	// not a fee type refusal, so no legacy retry
	assert.Len(t, writer.sent(), 1)
	snap := p.Snapshot()
	assert.Equal(t, types.StatusDisabled, snap.State.Release.Status)
	assert.False(t, snap.State.Release.UserRejected)
	assert.False(t, snap.State.Release.IsReleasing)
	assert.Contains(t, snap.State.Release.ErrorMessage, "insufficient funds")
	assert.Equal(t, types.PhaseReadyToRelease, snap.State.Phase)

	// a manual retry reopens the release
	require.NoError(t, p.Release(context.Background()))
	assert.Len(t, writer.sent(), 2)
	assert.Equal(t, types.StatusPending, p.Snapshot().State.Release.Status)
}
