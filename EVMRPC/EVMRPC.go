package EVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"goeverbridge/config"
	"goeverbridge/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// WithClient runs f against the chain's RPC endpoints in order until one succeeds.
func WithClient[T any](ctx context.Context, chain config.ChainConfig, lggr logger.Logger, f func(client *ethclient.Client) (T, error)) (res T, err error) {
	if len(chain.RPCList) == 0 {
		return res, fmt.Errorf("chain %s has no rpc endpoints", chain.ChainID)
	}
	var client *ethclient.Client
	for _, url := range chain.RPCList {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		client, err = ethclient.DialContext(ctx, url)
		if err != nil {
			lggr.Warnw("Error connecting to rpc", "url", url, "err", err)
			continue
		}

		res, err = f(client)
		client.Close()
		if err == nil || errors.Is(err, ethereum.NotFound) {
			return
		}
	}
	return
}

// Client reads one EVM chain.
type Client struct {
	chain config.ChainConfig
	lggr  logger.Logger
}

func NewClient(chain config.ChainConfig, lggr logger.Logger) *Client {
	return &Client{chain: chain, lggr: lggr.Named("EVMRPC").With("chainId", chain.ChainID)}
}

// TransactionReceipt returns nil without error while the transaction is unknown or pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	receipt, err := WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) (*ethtypes.Receipt, error) {
		return client.TransactionReceipt(ctx, hash)
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return receipt, err
}

func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	tx, err := WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) (*ethtypes.Transaction, error) {
		tx, _, err := client.TransactionByHash(ctx, hash)
		return tx, err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return tx, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) (uint64, error) {
		return client.BlockNumber(ctx)
	})
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	header, err := WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) (*ethtypes.Header, error) {
		return client.HeaderByNumber(ctx, number)
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return header, err
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	return WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) ([]byte, error) {
		return client.CallContract(ctx, msg, block)
	})
}

// BalanceAt is the native coin balance of addr at the latest block.
func (c *Client) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return WithClient(ctx, c.chain, c.lggr, func(client *ethclient.Client) (*big.Int, error) {
		return client.BalanceAt(ctx, addr, nil)
	})
}
