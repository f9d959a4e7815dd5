package TVMRPC

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

func (c *Client) runGetMethod(ctx context.Context, addr string, method string, params ...any) (*ton.ExecutionResult, error) {
	account, err := tvmcell.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("masterchain info: %w", err)
	}
	res, err := c.api.RunGetMethod(ctx, block, account, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, addr, err)
	}
	return res, nil
}

func (c *Client) IsDeployed(ctx context.Context, addr string) (bool, error) {
	state, err := c.contractState(ctx, addr)
	if err != nil {
		return false, err
	}
	return state.Type == "exists", nil
}

func (c *Client) Balance(ctx context.Context, addr string) (*big.Int, error) {
	account, err := tvmcell.ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("masterchain info: %w", err)
	}
	acc, err := c.api.GetAccount(ctx, block, account)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", addr, err)
	}
	if !acc.IsActive || acc.State == nil {
		return new(big.Int), nil
	}
	return acc.State.Balance.Nano(), nil
}

// LastTransactionTime returns the zero time for accounts without transactions.
func (c *Client) LastTransactionTime(ctx context.Context, addr string) (time.Time, error) {
	txs, err := c.transactions(ctx, addr, 1)
	if err != nil {
		return time.Time{}, err
	}
	if len(txs) == 0 {
		return time.Time{}, nil
	}
	return time.Unix(int64(txs[0].Now), 0), nil
}

// EventDetails returns nil while the event contract is not deployed.
func (c *Client) EventDetails(ctx context.Context, addr string) (*types.EventDetails, error) {
	deployed, err := c.IsDeployed(ctx, addr)
	if err != nil || !deployed {
		return nil, err
	}

	res, err := c.runGetMethod(ctx, addr, "get_event_details")
	if err != nil {
		return nil, err
	}
	var details types.EventDetails
	status, err := res.Int(0)
	if err != nil {
		return nil, err
	}
	details.Status = int(status.Int64())
	required, err := res.Int(1)
	if err != nil {
		return nil, err
	}
	details.RequiredVotes = int(required.Int64())

	if details.Confirms, err = addressList(res, 2); err != nil {
		return nil, fmt.Errorf("confirms: %w", err)
	}
	if details.Rejects, err = addressList(res, 3); err != nil {
		return nil, fmt.Errorf("rejects: %w", err)
	}
	if sigs, err := res.Cell(4); err == nil {
		err = walkList(sigs, func(s *cell.Slice) error {
			sig, err := s.LoadSlice(65 * 8)
			if err != nil {
				return err
			}
			details.Signatures = append(details.Signatures, sig)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("signatures: %w", err)
		}
	}
	if details.Balance, err = res.Int(5); err != nil {
		return nil, err
	}
	round, err := res.Int(6)
	if err != nil {
		return nil, err
	}
	details.Round = uint32(round.Uint64())
	cfg, err := res.Slice(7)
	if err != nil {
		return nil, err
	}
	cfgAddr, err := cfg.LoadAddr()
	if err != nil {
		return nil, err
	}
	details.Configuration = tvmcell.Raw(cfgAddr)
	lt, err := res.Int(8)
	if err != nil {
		return nil, err
	}
	details.EventTransactionLt = lt.Uint64()
	ts, err := res.Int(9)
	if err != nil {
		return nil, err
	}
	details.EventTimestamp = uint32(ts.Uint64())

	data, err := c.decodedData(ctx, addr)
	if err != nil {
		return nil, err
	}
	details.Data = *data
	return &details, nil
}

func (c *Client) decodedData(ctx context.Context, addr string) (*types.EventData, error) {
	res, err := c.runGetMethod(ctx, addr, "get_decoded_data")
	if err != nil {
		return nil, err
	}
	var data types.EventData
	if root, err := res.Slice(0); err == nil {
		tokenRoot, err := root.LoadAddr()
		if err != nil {
			return nil, err
		}
		data.TokenRoot = tvmcell.Raw(tokenRoot)
	}
	base, err := res.Int(1)
	if err != nil {
		return nil, err
	}
	if base.Sign() > 0 {
		data.BaseToken = fmt.Sprintf("0x%040x", base)
	}
	native, err := res.Int(2)
	if err != nil {
		return nil, err
	}
	data.Native = native.Sign() != 0
	amount, err := res.Int(3)
	if err != nil {
		return nil, err
	}
	data.Amount = amount.String()
	sender, err := res.Slice(4)
	if err != nil {
		return nil, err
	}
	senderAddr, err := sender.LoadAddr()
	if err != nil {
		return nil, err
	}
	data.Sender = tvmcell.Raw(senderAddr)
	recipient, err := res.Int(5)
	if err != nil {
		return nil, err
	}
	// 20 byte EVM recipient or 32 byte Solana owner
	if recipient.BitLen() <= 160 {
		data.Recipient = fmt.Sprintf("0x%040x", recipient)
	} else {
		data.Recipient = fmt.Sprintf("%064x", recipient)
	}
	chainID, err := res.Int(6)
	if err != nil {
		return nil, err
	}
	data.ChainID = chainID.String()
	if raw, err := res.Cell(7); err == nil {
		data.Raw = raw.ToBOC()
	}
	return &data, nil
}

func (c *Client) EventConfigDetails(ctx context.Context, addr string) (*types.EventConfigDetails, error) {
	res, err := c.runGetMethod(ctx, addr, "get_details")
	if err != nil {
		return nil, err
	}
	code, err := res.Cell(0)
	if err != nil {
		return nil, fmt.Errorf("event code: %w", err)
	}
	blocks, err := res.Int(1)
	if err != nil {
		return nil, err
	}
	proxy, err := res.Slice(2)
	if err != nil {
		return nil, err
	}
	proxyAddr, err := proxy.LoadAddr()
	if err != nil {
		return nil, err
	}
	emitter, err := res.Int(3)
	if err != nil {
		return nil, err
	}
	start, err := res.Int(4)
	if err != nil {
		return nil, err
	}
	end, err := res.Int(5)
	if err != nil {
		return nil, err
	}
	return &types.EventConfigDetails{
		EventCode:            code.ToBOC(),
		EventBlocksToConfirm: blocks.Uint64(),
		Proxy:                tvmcell.Raw(proxyAddr),
		EventEmitter:         fmt.Sprintf("0x%040x", emitter),
		StartBlock:           start.Uint64(),
		EndBlock:             end.Uint64(),
	}, nil
}

func (c *Client) TokenMeta(ctx context.Context, root string) (*types.TokenMeta, error) {
	res, err := c.runGetMethod(ctx, root, "get_token_meta")
	if err != nil {
		return nil, err
	}
	name, err := snakeString(res, 0)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	symbol, err := snakeString(res, 1)
	if err != nil {
		return nil, fmt.Errorf("symbol: %w", err)
	}
	decimals, err := res.Int(2)
	if err != nil {
		return nil, err
	}
	return &types.TokenMeta{Name: name, Symbol: symbol, Decimals: int32(decimals.Int64())}, nil
}

// CreditProcessorAddress asks the factory where the processor for voteData lives.
func (c *Client) CreditProcessorAddress(ctx context.Context, factory, configuration string, voteData []byte) (string, error) {
	cfg, err := tvmcell.ParseAddress(configuration)
	if err != nil {
		return "", err
	}
	vote, err := cell.FromBOC(voteData)
	if err != nil {
		return "", fmt.Errorf("vote data: %w", err)
	}
	cfgSlice := cell.BeginCell().MustStoreAddr(cfg).EndCell().BeginParse()
	res, err := c.runGetMethod(ctx, factory, "get_credit_processor_address", cfgSlice, vote)
	if err != nil {
		return "", err
	}
	return loadAddress(res, 0)
}

// CreditProcessorDetails returns nil while the processor is not deployed.
func (c *Client) CreditProcessorDetails(ctx context.Context, addr string) (*types.CreditProcessorDetails, error) {
	deployed, err := c.IsDeployed(ctx, addr)
	if err != nil || !deployed {
		return nil, err
	}
	res, err := c.runGetMethod(ctx, addr, "get_details")
	if err != nil {
		return nil, err
	}
	state, err := res.Int(0)
	if err != nil {
		return nil, err
	}
	var details types.CreditProcessorDetails
	details.State = types.ProcessorState(state.Uint64())
	if details.Debt, err = res.Int(1); err != nil {
		return nil, err
	}
	if details.Amount, err = res.Int(2); err != nil {
		return nil, err
	}
	if details.SwapAmount, err = res.Int(3); err != nil {
		return nil, err
	}
	if details.TokenRoot, err = loadAddress(res, 4); err != nil {
		return nil, err
	}
	if details.EventAddress, err = loadAddress(res, 5); err != nil {
		return nil, err
	}
	if details.Owner, err = loadAddress(res, 6); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) TokenWalletAddress(ctx context.Context, root, owner string) (string, error) {
	ownerAddr, err := tvmcell.ParseAddress(owner)
	if err != nil {
		return "", err
	}
	param := cell.BeginCell().MustStoreAddr(ownerAddr).EndCell().BeginParse()
	res, err := c.runGetMethod(ctx, root, "get_wallet_address", param)
	if err != nil {
		return "", err
	}
	return loadAddress(res, 0)
}

// TokenBalance is zero for wallets that are not deployed.
func (c *Client) TokenBalance(ctx context.Context, wallet string) (*big.Int, error) {
	deployed, err := c.IsDeployed(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if !deployed {
		return new(big.Int), nil
	}
	res, err := c.runGetMethod(ctx, wallet, "get_wallet_data")
	if err != nil {
		return nil, err
	}
	return res.Int(0)
}

func loadAddress(res *ton.ExecutionResult, index uint) (string, error) {
	s, err := res.Slice(index)
	if err != nil {
		return "", err
	}
	addr, err := s.LoadAddr()
	if err != nil {
		return "", err
	}
	return tvmcell.Raw(addr), nil
}

func snakeString(res *ton.ExecutionResult, index uint) (string, error) {
	c, err := res.Cell(index)
	if err != nil {
		return "", err
	}
	return c.BeginParse().LoadStringSnake()
}

// addressList reads a list of addresses, a missing list is empty.
func addressList(res *ton.ExecutionResult, index uint) ([]string, error) {
	root, err := res.Cell(index)
	if err != nil {
		return nil, nil
	}
	var out []string
	err = walkList(root, func(s *cell.Slice) error {
		addr, err := s.LoadAddr()
		if err != nil {
			return err
		}
		out = append(out, tvmcell.Raw(addr))
		return nil
	})
	return out, err
}

var errListTooLong = errors.New("list is too long")

// walkList visits a chain of cells, each holding one item and an optional ref to the next.
func walkList(root *cell.Cell, visit func(s *cell.Slice) error) error {
	cur := root
	for i := 0; cur != nil; i++ {
		if i > 1024 {
			return errListTooLong
		}
		s := cur.BeginParse()
		if s.BitsLeft() == 0 && s.RefsNum() == 0 {
			return nil
		}
		if err := visit(s); err != nil {
			return err
		}
		if s.RefsNum() == 0 {
			return nil
		}
		next, err := s.LoadRefCell()
		if err != nil {
			return err
		}
		cur = next
	}
	return nil
}
