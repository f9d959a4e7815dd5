package SOLRPC

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"goeverbridge/logger"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
)

// instruction discriminators of the bridge program
const (
	ixDeposit         uint8 = 1
	ixCreateProposal  uint8 = 2
	ixExecuteProposal uint8 = 3
)

type depositInstruction struct {
	Discriminator uint8
	Seed          [16]byte
	Amount        uint64
	RecipientWid  int8
	RecipientAddr [32]byte
}

type proposalAccount struct {
	Initialized bool
	Executed    bool
	Round       uint32
	Required    uint32
	// one byte per relay: 0 no vote, 1 confirm, 2 reject
	Votes []uint8
}

// Client reads bridge deposits and withdrawal proposals.
type Client struct {
	rpc     *solrpc.Client
	program solana.PublicKey
	lggr    logger.Logger
}

func NewClient(rpcURL, program string, lggr logger.Logger) (*Client, error) {
	programID, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}
	return &Client{
		rpc:     solrpc.New(rpcURL),
		program: programID,
		lggr:    lggr.Named("SOLRPC"),
	}, nil
}

// Deposit returns nil while the transaction is not available yet.
func (c *Client) Deposit(ctx context.Context, signature string) (*types.SolanaDeposit, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	ver := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &solrpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     solrpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &ver,
	})
	if errors.Is(err, solrpc.ErrNotFound) || (err == nil && out == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	deposit := &types.SolanaDeposit{Signature: signature, Slot: out.Slot}
	if out.BlockTime != nil {
		deposit.BlockTime = out.BlockTime.Time()
	}
	if out.Meta != nil && out.Meta.Err != nil {
		deposit.Failed = true
		return deposit, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decoding transaction: %w", err)
	}
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(c.program) {
			continue
		}
		if len(ix.Data) == 0 || ix.Data[0] != ixDeposit || len(ix.Accounts) < 2 {
			continue
		}
		var decoded depositInstruction
		if err := bin.NewBorshDecoder(ix.Data).Decode(&decoded); err != nil {
			return nil, fmt.Errorf("decoding deposit: %w", err)
		}
		deposit.Sender = keys[ix.Accounts[0]].String()
		deposit.Mint = keys[ix.Accounts[1]].String()
		deposit.Amount = decoded.Amount
		deposit.Seed = decoded.Seed
		deposit.RecipientWid = decoded.RecipientWid
		deposit.RecipientAddr = decoded.RecipientAddr
		return deposit, nil
	}
	return nil, fmt.Errorf("transaction %s has no bridge deposit", signature)
}

func (c *Client) Slot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, solrpc.CommitmentFinalized)
}

// Proposal returns nil while the proposal account does not exist.
func (c *Client) Proposal(ctx context.Context, pda string) (*types.SolanaProposal, error) {
	key, err := solana.PublicKeyFromBase58(pda)
	if err != nil {
		return nil, fmt.Errorf("invalid proposal address: %w", err)
	}
	out, err := c.rpc.GetAccountInfo(ctx, key)
	if errors.Is(err, solrpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}

	var acc proposalAccount
	if err := bin.NewBorshDecoder(out.Value.Data.GetBinary()).Decode(&acc); err != nil {
		return nil, fmt.Errorf("decoding proposal: %w", err)
	}
	if !acc.Initialized {
		return nil, nil
	}
	signers := 0
	for _, v := range acc.Votes {
		if v == 1 {
			signers++
		}
	}
	return &types.SolanaProposal{
		Address:  pda,
		Executed: acc.Executed,
		Signers:  signers,
		Required: int(acc.Required),
	}, nil
}

// ProposalAddress derives the withdrawal proposal PDA for an outgoing TVM event.
func ProposalAddress(program string, round, eventTimestamp uint32, eventLt uint64, configuration string) (string, error) {
	programID, err := solana.PublicKeyFromBase58(program)
	if err != nil {
		return "", fmt.Errorf("invalid program id: %w", err)
	}
	_, cfg, err := tvmcell.SplitAddress(configuration)
	if err != nil {
		return "", err
	}
	cfgBytes := make([]byte, 32)
	cfg.FillBytes(cfgBytes)

	roundLE := binary.LittleEndian.AppendUint32(nil, round)
	tsLE := binary.LittleEndian.AppendUint32(nil, eventTimestamp)
	ltLE := binary.LittleEndian.AppendUint64(nil, eventLt)

	pda, _, err := solana.FindProgramAddress([][]byte{
		[]byte("proposal"),
		roundLE,
		tsLE,
		ltLE,
		cfgBytes,
	}, programID)
	if err != nil {
		return "", err
	}
	return pda.String(), nil
}
