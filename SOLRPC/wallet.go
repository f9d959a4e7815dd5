package SOLRPC

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"goeverbridge/logger"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/avast/retry-go/v4"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

type createProposalInstruction struct {
	Discriminator      uint8
	Round              uint32
	EventTimestamp     uint32
	EventTransactionLt uint64
	Configuration      [32]byte
	Amount             uint64
	EventData          []byte
}

// Wallet submits proposal instructions signed by the configured key.
type Wallet struct {
	rpc           *solrpc.Client
	key           solana.PrivateKey
	lggr          logger.Logger
	retryAttempts uint
	retryDelay    time.Duration
}

func NewWallet(rpcURL, privateKey string, lggr logger.Logger) (*Wallet, error) {
	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}
	return &Wallet{
		rpc:           solrpc.New(rpcURL),
		key:           key,
		lggr:          lggr.Named("SOLWallet"),
		retryAttempts: 3,
		retryDelay:    500 * time.Millisecond,
	}, nil
}

func (w *Wallet) CreateProposal(ctx context.Context, req types.ProposalRequest) error {
	program, proposal, err := proposalKeys(req)
	if err != nil {
		return err
	}
	_, cfg, err := tvmcell.SplitAddress(req.Configuration)
	if err != nil {
		return err
	}
	data := createProposalInstruction{
		Discriminator:      ixCreateProposal,
		Round:              req.Round,
		EventTimestamp:     req.EventTimestamp,
		EventTransactionLt: req.EventTransactionLt,
		Amount:             req.Amount,
		EventData:          req.EventData,
	}
	cfg.FillBytes(data.Configuration[:])

	buf := new(bytes.Buffer)
	if err := bin.NewBorshEncoder(buf).Encode(data); err != nil {
		return fmt.Errorf("encoding proposal: %w", err)
	}
	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(w.key.PublicKey()).WRITE().SIGNER(),
		solana.Meta(proposal).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, buf.Bytes())
	return w.send(ctx, ix)
}

func (w *Wallet) ExecuteProposal(ctx context.Context, req types.ProposalRequest) error {
	program, proposal, err := proposalKeys(req)
	if err != nil {
		return err
	}
	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return fmt.Errorf("invalid mint: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	recipientTokenAccount, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return err
	}
	ix := solana.NewInstruction(program, solana.AccountMetaSlice{
		solana.Meta(w.key.PublicKey()).WRITE().SIGNER(),
		solana.Meta(proposal).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(recipientTokenAccount).WRITE(),
		solana.Meta(solana.TokenProgramID),
	}, []byte{ixExecuteProposal})
	return w.send(ctx, ix)
}

func proposalKeys(req types.ProposalRequest) (solana.PublicKey, solana.PublicKey, error) {
	program, err := solana.PublicKeyFromBase58(req.Program)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("invalid program id: %w", err)
	}
	proposal, err := solana.PublicKeyFromBase58(req.Proposal)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("invalid proposal address: %w", err)
	}
	return program, proposal, nil
}

func (w *Wallet) send(ctx context.Context, ix solana.Instruction) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(w.retryAttempts),
		retry.Delay(w.retryDelay),
		retry.DelayType(retry.FixedDelay),
	}

	var sig solana.Signature
	err := retry.Do(func() error {
		latest, err := w.rpc.GetLatestBlockhash(ctx, solrpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		tx, err := solana.NewTransaction([]solana.Instruction{ix}, latest.Value.Blockhash, solana.TransactionPayer(w.key.PublicKey()))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(w.key.PublicKey()) {
				return &w.key
			}
			return nil
		}); err != nil {
			return retry.Unrecoverable(err)
		}

		sig, err = w.rpc.SendTransactionWithOpts(ctx, tx, solrpc.TransactionOpts{
			PreflightCommitment: solrpc.CommitmentConfirmed,
		})
		if err != nil {
			var rpcErr *jsonrpc.RPCError
			if errors.As(err, &rpcErr) && !strings.Contains(rpcErr.Message, "Blockhash not found") {
				return retry.Unrecoverable(fmt.Errorf("will not retry: %w", err))
			}
			return err
		}
		return nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("error sending transaction: %w", err)
	}
	w.lggr.Infow("Transaction sent", "signature", sig.String())
	return nil
}
