package TVMRPC

import (
	"context"
	"time"

	"goeverbridge/tvmcell"

	"github.com/xssnick/tonutils-go/tlb"
)

// minWatchInterval keeps the JRPC fallback watcher from hammering the endpoint.
const minWatchInterval = 250 * time.Millisecond

// SubscribeDeployed signals once when addr becomes deployed. With liteservers
// it follows the account's transactions until one leaves it active. Without
// them it polls at a quarter of the pipeline interval, so a deploy wakes the
// pipeline well before its own next poll. The returned cancel func stops the
// watcher and is safe to call more than once.
func (c *Client) SubscribeDeployed(ctx context.Context, addr string) (<-chan struct{}, func(), error) {
	account, err := tvmcell.ParseAddress(addr)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan struct{}, 1)

	if c.api != nil {
		txs := make(chan *tlb.Transaction)
		go c.api.SubscribeOnTransactions(ctx, account, 0, txs)
		go func() {
			// the subscription closes txs once ctx is done
			for tx := range txs {
				if tx.EndStatus == tlb.AccountStatusActive {
					out <- struct{}{}
					cancel()
					for range txs {
					}
					return
				}
			}
		}()
		return out, cancel, nil
	}

	go func() {
		ticker := time.NewTicker(c.watchInterval())
		defer ticker.Stop()
		for {
			if c.signalDeployed(ctx, addr, out) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, cancel, nil
}

func (c *Client) watchInterval() time.Duration {
	if d := c.pollInterval / 4; d > minWatchInterval {
		return d
	}
	return minWatchInterval
}

func (c *Client) signalDeployed(ctx context.Context, addr string, out chan<- struct{}) bool {
	deployed, err := c.IsDeployed(ctx, addr)
	if err != nil && ctx.Err() == nil {
		c.lggr.Debugw("Deploy watch failed", "address", addr, "err", err)
	}
	if !deployed {
		return false
	}
	out <- struct{}{}
	return true
}
