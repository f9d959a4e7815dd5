package TVMRPC

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/tvmcell"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"github.com/ybbus/jsonrpc"
)

// Client reads the TVM network: account state and transactions over JRPC,
// contract get-methods over liteservers.
type Client struct {
	jrpc jsonrpc.RPCClient
	api  ton.APIClientWrapped
	lggr logger.Logger

	pollInterval time.Duration
}

func NewClient(jrpc jsonrpc.RPCClient, api ton.APIClientWrapped, pollInterval time.Duration, lggr logger.Logger) *Client {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Client{
		jrpc:         jrpc,
		api:          api,
		lggr:         lggr.Named("TVMRPC"),
		pollInterval: pollInterval,
	}
}

// Dial connects to the JRPC endpoint and the liteservers listed in the global config.
func Dial(ctx context.Context, cfg config.TVMConfig, pollInterval time.Duration, lggr logger.Logger) (*Client, error) {
	if cfg.JRPCURL == "" {
		return nil, fmt.Errorf("tvm jrpc url is empty")
	}
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, cfg.LiteserverConfigURL); err != nil {
		return nil, fmt.Errorf("failed to retrieve tvm network config: %w", err)
	}
	api := ton.NewAPIClient(pool, ton.ProofCheckPolicyFast).WithRetry()
	return NewClient(jsonrpc.NewClient(cfg.JRPCURL), api, pollInterval, lggr), nil
}

// API exposes the liteserver client, the wallet sends through it.
func (c *Client) API() ton.APIClientWrapped {
	return c.api
}

type contractState struct {
	Type              string `json:"type"`
	Account           string `json:"account"`
	LastTransactionID *struct {
		IsExact bool   `json:"isExact"`
		Lt      string `json:"lt"`
		Hash    string `json:"hash"`
	} `json:"lastTransactionId"`
}

func (c *Client) contractState(ctx context.Context, addr string) (*contractState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := tvmcell.Normalize(addr)
	if err != nil {
		return nil, err
	}
	var state contractState
	if err := c.jrpc.CallFor(&state, "getContractState", map[string]any{"address": raw}); err != nil {
		return nil, fmt.Errorf("getContractState %s: %w", raw, err)
	}
	return &state, nil
}

// transactions returns up to limit latest transactions of addr, newest first.
func (c *Client) transactions(ctx context.Context, addr string, limit int) ([]*tlb.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := tvmcell.Normalize(addr)
	if err != nil {
		return nil, err
	}
	var bocs []string
	if err := c.jrpc.CallFor(&bocs, "getTransactionsList", map[string]any{"account": raw, "limit": limit}); err != nil {
		return nil, fmt.Errorf("getTransactionsList %s: %w", raw, err)
	}
	txs := make([]*tlb.Transaction, 0, len(bocs))
	for _, boc := range bocs {
		tx, err := decodeTransaction(boc)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// dstTransaction returns the transaction that processed the message with the given hash, nil if none yet.
func (c *Client) dstTransaction(ctx context.Context, msgHash []byte) (*tlb.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var boc *string
	params := map[string]any{"messageHash": base64.StdEncoding.EncodeToString(msgHash)}
	if err := c.jrpc.CallFor(&boc, "getDstTransaction", params); err != nil {
		return nil, fmt.Errorf("getDstTransaction: %w", err)
	}
	if boc == nil {
		return nil, nil
	}
	return decodeTransaction(*boc)
}

// SendMessage broadcasts an external message BOC through JRPC.
func (c *Client) SendMessage(ctx context.Context, boc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := map[string]any{"message": base64.StdEncoding.EncodeToString(boc)}
	resp, err := c.jrpc.Call("sendMessage", params)
	if err != nil {
		return fmt.Errorf("sendMessage: %w", err)
	}
	if resp.Error != nil {
		return fmt.Errorf("sendMessage: %w", resp.Error)
	}
	return nil
}

func decodeTransaction(boc string) (*tlb.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(boc)
	if err != nil {
		return nil, fmt.Errorf("transaction boc: %w", err)
	}
	root, err := cell.FromBOC(data)
	if err != nil {
		return nil, fmt.Errorf("transaction boc: %w", err)
	}
	var tx tlb.Transaction
	if err := tlb.LoadFromCell(&tx, root.BeginParse()); err != nil {
		return nil, fmt.Errorf("transaction: %w", err)
	}
	return &tx, nil
}
