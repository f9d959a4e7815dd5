package workers

import (
	"bufio"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"goeverbridge/logger"
	"goeverbridge/pipeline/pipelinetest"
	"goeverbridge/sessions"
	"goeverbridge/types"
	"goeverbridge/workers/handlers"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	eventAddr = "0:" + strings.Repeat("ab", 32)
	sender    = "0:" + strings.Repeat("cd", 32)
	wallet    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memKV) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type fixedBalance struct{ v *big.Int }

func (f fixedBalance) BalanceAt(context.Context, common.Address) (*big.Int, error) { return f.v, nil }

type testAPI struct {
	mgr     *sessions.Manager
	tvm     *pipelinetest.TVM
	handler http.Handler
}

func newTestAPI(t *testing.T) *testAPI {
	deps, tvm := pipelinetest.Deps(logger.Test(t))
	mgr := sessions.NewManager(deps, &memKV{values: map[string]string{}}, logger.Test(t))
	t.Cleanup(mgr.Close)
	api := &handlers.API{
		Sessions: mgr,
		Balances: handlers.Balances{
			EVM:       map[string]handlers.EVMBalanceReader{"1": fixedBalance{big.NewInt(7)}},
			EVMWallet: wallet,
			TVM:       tvm,
			TVMWallet: sender,
		},
		Lggr: logger.Test(t),
	}
	return &testAPI{mgr: mgr, tvm: tvm, handler: NewRouter(api)}
}

func (a *testAPI) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func identityJSON(source string) string {
	return `{"sourceChainId":"42","sourceKind":"tvm","destChainId":"1","destKind":"evm","source":"` + source + `"}`
}

func TestCreateAndGetTransfer(t *testing.T) {
	a := newTestAPI(t)

	var created handlers.APITransferResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), &created))
	assert.Equal(t, types.KindTVMToEVM, created.Transfer.Kind)
	assert.Equal(t, types.VariantDefault, created.Transfer.Identity.Variant)

	var again handlers.APITransferResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), &again))
	assert.Equal(t, created.ID, again.ID)

	var got handlers.APITransferResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/transfers/"+created.ID, "", &got))
	assert.Equal(t, eventAddr, got.Transfer.Identity.Source)

	var state handlers.APIStateResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/state", "", &state))
	assert.Equal(t, 1, state.Sessions)
}

func TestCreateTransferValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{`, ""},
		{"evm hash too short", `{"sourceChainId":"1","sourceKind":"evm","destChainId":"42","destKind":"tvm","source":"0x1234"}`, "source"},
		{"bad tvm address", identityJSON("0:zz"), "source"},
		{"bad solana signature", `{"sourceChainId":"1","sourceKind":"solana","destChainId":"42","destKind":"tvm","source":"0OIl"}`, "source"},
		{"unsupported corridor", `{"sourceChainId":"1","sourceKind":"evm","destChainId":"1","destKind":"solana","source":"0x` + strings.Repeat("12", 32) + `"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp handlers.APIResponse
			require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/transfers", tt.body, &resp))
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.field, resp.Field)
		})
	}
	assert.Empty(t, a.mgr.List(""))
}

func TestTransferActions(t *testing.T) {
	a := newTestAPI(t)

	var created handlers.APITransferResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), &created))
	path := "/transfers/" + created.ID

	var resp handlers.APIResponse
	// nothing is on chain yet
	require.Equal(t, http.StatusConflict, a.do(t, http.MethodPost, path+"/release", "", &resp))
	// no credit processor on this route
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path+"/process", "", &resp))
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path+"/explode", "", &resp))
	assert.Equal(t, "action", resp.Field)
	require.Equal(t, http.StatusOK, a.do(t, http.MethodPost, path+"/check", "", nil))

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path+"/withdraw/tokens", `{"amount":"-1"}`, &resp))
	assert.Equal(t, "amount", resp.Field)
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, path+"/withdraw/gold", `{"amount":"1"}`, &resp))

	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/transfers/6f1c4a52-1a1e-4c1d-9a55-4e3c1a3f0b11/release", "", &resp))
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/transfers/nope", "", &resp))
}

func TestDeleteTransfer(t *testing.T) {
	a := newTestAPI(t)

	var created handlers.APITransferResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), &created))
	require.Equal(t, http.StatusOK, a.do(t, http.MethodDelete, "/transfers/"+created.ID, "", nil))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/transfers/"+created.ID, "", nil))
	require.Equal(t, http.StatusNotFound, a.do(t, http.MethodDelete, "/transfers/"+created.ID, "", nil))
}

func TestListTransfersByOwner(t *testing.T) {
	a := newTestAPI(t)
	a.tvm.SetEvent(eventAddr, pipelinetest.RejectedEvent(sender))

	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), nil))
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(sender), nil))

	require.Eventually(t, func() bool {
		var list handlers.APITransferListResponse
		a.do(t, http.MethodGet, "/transfers?owner="+sender, "", &list)
		return len(list.Transfers) == 1
	}, 5*time.Second, time.Millisecond)

	var all handlers.APITransferListResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/transfers", "", &all))
	assert.Len(t, all.Transfers, 2)

	var evm handlers.APITransferListResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/transfers?owner=0x00000000000000000000000000000000000000AA", "", &evm))
	require.Len(t, evm.Transfers, 1)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", evm.Transfers[0].Transfer.Data.RightAddress)

	var resp handlers.APIResponse
	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/transfers?owner=0x123", "", &resp))
	assert.Equal(t, "owner", resp.Field)
}

func TestBalances(t *testing.T) {
	a := newTestAPI(t)

	var evm handlers.APIBalanceResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/balance/evm/1", "", &evm))
	assert.Equal(t, "7", evm.Balance)
	assert.Equal(t, wallet.Hex(), evm.Address)

	require.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/balance/evm/56", "", nil))

	var tvm handlers.APIBalanceResponse
	require.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/balance/tvm", "", &tvm))
	assert.Equal(t, "0", tvm.Balance)
}

func TestTransferEventsStream(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	var created handlers.APITransferResponse
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/transfers", identityJSON(eventAddr), &created))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/transfers/"+created.ID+"/events", nil)
	require.NoError(t, err)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	// the relays reject the event, the stream reports it
	a.tvm.SetEvent(eventAddr, pipelinetest.RejectedEvent(sender))
	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var snap struct {
			State types.PipelineState `json:"state"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &snap))
		if snap.State.Phase == types.PhaseRejected {
			return
		}
	}
	t.Fatalf("stream ended before the rejection: %v", scanner.Err())
}
