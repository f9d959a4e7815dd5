package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"goeverbridge/indexer"
	"goeverbridge/types"
)

// lookupTick finds the outgoing event of a two-hop transfer.
func (p *Pipeline) lookupTick(ctx context.Context) (bool, error) {
	d := p.store.Data()
	if d.SecondEventAddress != "" {
		p.advance(stageLookup)
		return true, nil
	}

	var (
		addr string
		err  error
	)
	switch p.variant.lookup {
	case lookupSpawned:
		addr, err = p.deps.TVM.FindSpawnedEvent(ctx, d.DeriveEventAddress)
	case lookupIndexer:
		addr, err = p.burnCallbackEvent(ctx, d)
	default:
		return true, nil
	}
	if err != nil || addr == "" {
		return false, err
	}

	p.lggr.Infow("Second event found", "event", addr)
	p.store.SetData(func(d types.TransferData) types.TransferData {
		d.SecondEventAddress = addr
		return d
	})
	p.advance(stageLookup)
	return true, nil
}

// burnCallbackEvent asks the indexer for the event the credit processor's
// swap output was burned into.
func (p *Pipeline) burnCallbackEvent(ctx context.Context, d types.TransferData) (string, error) {
	chainID, err := strconv.ParseInt(p.id.DestChainID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("destination chain id: %w", err)
	}
	found, err := p.deps.Indexer.SearchBurnCallbacks(ctx, indexer.BurnCallbackQuery{
		ChainID:                chainID,
		CreditProcessorAddress: d.CreditProcessorAddress,
		Limit:                  1,
	})
	if err != nil || len(found) == 0 {
		return "", err
	}
	return found[0].TonEventContractAddress, nil
}
