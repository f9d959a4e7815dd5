package TVMRPC

import (
	"context"
	"fmt"

	"goeverbridge/tvmcell"

	"github.com/xssnick/tonutils-go/tlb"
)

// how many message hops a spawned event may be away from its origin
const maxTraceDepth = 3

// FindSpawnedEvent follows the outgoing messages of the event contract at addr
// until one deploys a new contract, and returns that contract's address. The
// proxy of a confirmed incoming event deploys the outgoing event through its
// configuration, so the deployment is at most a few hops away. Returns "" while
// the chain has not produced it yet.
func (c *Client) FindSpawnedEvent(ctx context.Context, addr string) (string, error) {
	origin, err := tvmcell.Normalize(addr)
	if err != nil {
		return "", err
	}
	txs, err := c.transactions(ctx, origin, 16)
	if err != nil {
		return "", err
	}

	frontier := txs
	for depth := 0; depth < maxTraceDepth && len(frontier) > 0; depth++ {
		var next []*tlb.Transaction
		for _, tx := range frontier {
			if tx.IO.Out == nil {
				continue
			}
			msgs, err := tx.IO.Out.ToSlice()
			if err != nil {
				return "", fmt.Errorf("out messages: %w", err)
			}
			for _, msg := range msgs {
				internal, ok := msg.Msg.(*tlb.InternalMessage)
				if !ok || internal.DstAddr == nil {
					continue
				}
				dst := tvmcell.Raw(internal.DstAddr)
				if internal.StateInit != nil && dst != origin {
					return dst, nil
				}

				msgCell, err := tlb.ToCell(internal)
				if err != nil {
					return "", fmt.Errorf("message cell: %w", err)
				}
				dstTx, err := c.dstTransaction(ctx, msgCell.Hash())
				if err != nil {
					return "", err
				}
				if dstTx != nil {
					next = append(next, dstTx)
				}
			}
		}
		frontier = next
	}
	return "", nil
}
