package TVMRPC

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"goeverbridge/logger"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
)

// Wallet sends internal messages from the configured seed wallet.
type Wallet struct {
	w    *wallet.Wallet
	lggr logger.Logger
}

func walletVersion(version string) (wallet.VersionConfig, error) {
	switch strings.ToLower(version) {
	case "v3", "v3r2":
		return wallet.V3R2, nil
	case "", "v4", "v4r2":
		return wallet.V4R2, nil
	}
	return nil, fmt.Errorf("unsupported wallet version %q", version)
}

func NewWallet(api ton.APIClientWrapped, seed, version string, lggr logger.Logger) (*Wallet, error) {
	words := strings.Fields(seed)
	if len(words) == 0 {
		return nil, fmt.Errorf("tvm wallet seed is empty")
	}
	cfg, err := walletVersion(version)
	if err != nil {
		return nil, err
	}
	w, err := wallet.FromSeed(api, words, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init TVM wallet: %w", err)
	}
	return &Wallet{w: w, lggr: lggr.Named("TVMWallet")}, nil
}

func (w *Wallet) Address() string {
	return tvmcell.Raw(w.w.WalletAddress())
}

// Call sends call and waits until the wallet transaction is included.
func (w *Wallet) Call(ctx context.Context, call types.TVMCall) error {
	to, err := tvmcell.ParseAddress(call.To)
	if err != nil {
		return err
	}
	body, err := tvmcell.Body(call.Method, call.Params)
	if err != nil {
		return err
	}
	amount := call.Amount
	if amount == nil {
		amount = new(big.Int)
	}

	msg := &wallet.Message{
		Mode: 1,
		InternalMessage: &tlb.InternalMessage{
			IHRDisabled: true,
			Bounce:      call.Bounce,
			DstAddr:     to,
			Amount:      tlb.FromNanoTON(amount),
			Body:        body,
		},
	}
	if err := w.w.Send(ctx, msg, true); err != nil {
		return fmt.Errorf("%s on %s: %w", call.Method, call.To, err)
	}
	w.lggr.Infow("Message sent", "to", call.To, "method", call.Method, "amount", amount.String())
	return nil
}
