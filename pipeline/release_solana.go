package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"goeverbridge/types"
)

func (p *Pipeline) observeSolanaRelease(ctx context.Context, d types.TransferData) (bool, error) {
	if d.WithdrawalID == "" {
		return false, ErrNotReady
	}
	proposal, err := p.deps.Solana.Proposal(ctx, d.WithdrawalID)
	if err != nil {
		return false, err
	}
	return proposal != nil && proposal.Executed, nil
}

// releaseSolana creates the withdrawal proposal relays vote on, and executes
// it once enough of them signed.
func (p *Pipeline) releaseSolana(ctx context.Context, d types.TransferData) error {
	if d.WithdrawalID == "" {
		return ErrNotReady
	}
	proposal, err := p.deps.Solana.Proposal(ctx, d.WithdrawalID)
	if err != nil {
		return err
	}
	if proposal != nil && proposal.Executed {
		p.markReleased()
		return nil
	}

	details, err := p.deps.TVM.EventDetails(ctx, p.id.Source)
	if err != nil {
		return err
	}
	if details == nil {
		return ErrNotReady
	}
	amount, err := strconv.ParseUint(d.RawAmount, 10, 64)
	if err != nil {
		return fmt.Errorf("amount %q does not fit a Solana token amount: %w", d.RawAmount, err)
	}
	req := types.ProposalRequest{
		Program:            d.Pipeline.SolanaProgram,
		Proposal:           d.WithdrawalID,
		Round:              d.Round,
		EventTimestamp:     details.EventTimestamp,
		EventTransactionLt: details.EventTransactionLt,
		Configuration:      details.Configuration,
		Recipient:          d.RightAddress,
		Mint:               d.Pipeline.SolanaMint,
		Amount:             amount,
		EventData:          d.EncodedEvent,
	}

	switch {
	case proposal == nil:
		if err := p.deps.SolanaWriter.CreateProposal(ctx, req); err != nil {
			return err
		}
		p.lggr.Infow("Withdrawal proposal created", "proposal", d.WithdrawalID)
	case proposal.Signers >= proposal.Required:
		if err := p.deps.SolanaWriter.ExecuteProposal(ctx, req); err != nil {
			return err
		}
		p.lggr.Infow("Withdrawal proposal executed", "proposal", d.WithdrawalID)
	default:
		return fmt.Errorf("%w: proposal has %d of %d votes", ErrNotReady, proposal.Signers, proposal.Required)
	}
	return nil
}
