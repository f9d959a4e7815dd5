package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"goeverbridge/amounts"
	"goeverbridge/types"
)

// resolveTVM reads the outgoing event contract the transfer started with.
func (p *Pipeline) resolveTVM(ctx context.Context) (*resolution, error) {
	details, err := p.deps.TVM.EventDetails(ctx, p.id.Source)
	if err != nil {
		return nil, err
	}
	if details == nil {
		return nil, ErrNotReady
	}
	ev := details.Data

	asset, ok := p.deps.Assets.Get(types.NetworkTVM, p.id.SourceChainID, ev.TokenRoot)
	if !ok {
		meta, err := p.deps.TVM.TokenMeta(ctx, ev.TokenRoot)
		if err != nil {
			return nil, fmt.Errorf("token %s metadata: %w", ev.TokenRoot, err)
		}
		if meta == nil {
			return nil, fmt.Errorf("token root %s is not deployed", ev.TokenRoot)
		}
		asset = types.Asset{
			Root:     ev.TokenRoot,
			ChainID:  p.id.SourceChainID,
			Kind:     types.NetworkTVM,
			Name:     meta.Name,
			Symbol:   meta.Symbol,
			Decimals: meta.Decimals,
		}
		if err := p.deps.Assets.Add(asset); err != nil {
			p.lggr.Warnw("Failed to import asset", "token", ev.TokenRoot, "err", err)
		}
	}

	descriptor, err := p.deps.Assets.Pipeline(ctx, asset.Root, p.id.SourceCorridor(), p.id.DestCorridor(), p.id.Variant)
	if err != nil {
		return nil, err
	}
	if descriptor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, asset.Root)
	}

	amount, err := amounts.Shift(ev.Amount, asset.Decimals)
	if err != nil {
		return nil, err
	}

	depositType := types.DepositAlien
	if ev.Native {
		depositType = types.DepositNative
	}
	recipient := ev.Recipient
	if p.id.DestKind == types.NetworkEVM {
		recipient = strings.ToLower(recipient)
	}

	return &resolution{
		data: types.TransferData{
			Amount:          amount.String(),
			RawAmount:       ev.Amount,
			Token:           &asset,
			Pipeline:        descriptor,
			LeftAddress:     ev.Sender,
			RightAddress:    recipient,
			DepositType:     depositType,
			TokenRoot:       ev.TokenRoot,
			SourceTimestamp: time.Unix(int64(details.EventTimestamp), 0),
			Round:           details.Round,
		},
	}, nil
}
