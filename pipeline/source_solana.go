package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"goeverbridge/amounts"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/gagliardetto/solana-go"
)

func (p *Pipeline) resolveSolana(ctx context.Context) (*resolution, error) {
	dep, err := p.deps.Solana.Deposit(ctx, p.id.Source)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, ErrNotReady
	}
	if dep.Failed {
		return &resolution{rejected: true}, nil
	}

	// Solana tokens are never imported, the mint must be listed
	asset, ok := p.deps.Assets.Get(types.NetworkSolana, p.id.SourceChainID, dep.Mint)
	if !ok {
		return nil, fmt.Errorf("%w: mint %s is not listed", ErrNoRoute, dep.Mint)
	}
	descriptor, err := p.deps.Assets.Pipeline(ctx, asset.Root, p.id.SourceCorridor(), p.id.DestCorridor(), p.id.Variant)
	if err != nil {
		return nil, err
	}
	if descriptor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, asset.Root)
	}

	raw := strconv.FormatUint(dep.Amount, 10)
	amount, err := amounts.Shift(raw, asset.Decimals)
	if err != nil {
		return nil, err
	}

	cfg, err := p.deps.TVM.EventConfigDetails(ctx, descriptor.EverscaleConfiguration)
	if err != nil {
		return nil, fmt.Errorf("event configuration: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("event configuration %s is not deployed", descriptor.EverscaleConfiguration)
	}

	recipient := tvmcell.JoinAddress(dep.RecipientWid, new(big.Int).SetBytes(dep.RecipientAddr[:]))
	voteData, err := solanaVoteData(dep, recipient)
	if err != nil {
		return nil, err
	}

	return &resolution{
		data: types.TransferData{
			Amount:            amount.String(),
			RawAmount:         raw,
			Token:             &asset,
			Pipeline:          descriptor,
			LeftAddress:       dep.Sender,
			RightAddress:      recipient,
			DepositType:       types.DepositAlien,
			TokenRoot:         dep.Mint,
			SourceBlockNumber: dep.Slot,
			SourceTimestamp:   dep.BlockTime,
			EventVoteData:     voteData,
		},
		blocksToConfirm: cfg.EventBlocksToConfirm,
	}, nil
}

func solanaVoteData(dep *types.SolanaDeposit, recipient string) ([]byte, error) {
	mint, err := solana.PublicKeyFromBase58(dep.Mint)
	if err != nil {
		return nil, fmt.Errorf("mint: %w", err)
	}
	to, err := tvmcell.ParseAddress(recipient)
	if err != nil {
		return nil, err
	}
	eventData, err := tvmcell.TransferEventData{
		Token:     mint.Bytes(),
		Amount:    new(big.Int).SetUint64(dep.Amount),
		Recipient: to,
	}.Cell()
	if err != nil {
		return nil, err
	}
	var blockTime uint64
	if !dep.BlockTime.IsZero() {
		blockTime = uint64(dep.BlockTime.Unix())
	}
	vote, err := tvmcell.SolanaVoteData{
		AccountSeed: dep.Seed,
		Slot:        dep.Slot,
		BlockTime:   blockTime,
		TxSignature: dep.Signature,
		EventData:   eventData,
	}.Cell()
	if err != nil {
		return nil, err
	}
	return vote.ToBOC(), nil
}
