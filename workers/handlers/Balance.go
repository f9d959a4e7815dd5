package handlers

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi"
)

type EVMBalanceReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

type TVMBalanceReader interface {
	Balance(ctx context.Context, addr string) (*big.Int, error)
}

// Balances are the relay wallets the service pays gas from.
type Balances struct {
	EVM       map[string]EVMBalanceReader // by chain id
	EVMWallet common.Address
	TVM       TVMBalanceReader
	TVMWallet string
}

// BalanceEVM reports the release wallet balance on /balance/evm/{chainId}.
func (a *API) BalanceEVM(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chainId")
	reader, ok := a.Balances.EVM[chainID]
	if !ok || a.Balances.EVMWallet == (common.Address{}) {
		responseError(w, fmt.Errorf("%w: no wallet on chain %s", errBadRequest, chainID), "chainId")
		return
	}

	balance, err := reader.BalanceAt(r.Context(), a.Balances.EVMWallet)
	if err != nil {
		a.Lggr.Warnw("Error getting balance", "chainId", chainID, "err", err)
		responseError(w, err, "")
		return
	}
	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		Address: a.Balances.EVMWallet.Hex(),
		Balance: balance.String(),
	}, http.StatusOK)
}

// BalanceTVM reports the balance of the wallet deploying events and driving
// credit processors.
func (a *API) BalanceTVM(w http.ResponseWriter, r *http.Request) {
	if a.Balances.TVM == nil || a.Balances.TVMWallet == "" {
		responseError(w, fmt.Errorf("%w: no TVM wallet configured", errBadRequest), "")
		return
	}

	balance, err := a.Balances.TVM.Balance(r.Context(), a.Balances.TVMWallet)
	if err != nil {
		a.Lggr.Warnw("Error getting balance", "address", a.Balances.TVMWallet, "err", err)
		responseError(w, err, "")
		return
	}
	if balance == nil {
		balance = new(big.Int)
	}
	responseJSON(w, &APIBalanceResponse{
		Status:  "ok",
		Address: a.Balances.TVMWallet,
		Balance: balance.String(),
	}, http.StatusOK)
}
