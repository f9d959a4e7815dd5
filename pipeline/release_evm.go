package pipeline

import (
	"context"
	"fmt"

	"goeverbridge/EVMRPC"
	"goeverbridge/signatures"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum/common"
)

// evmWithdrawal is the withdrawal the destination vault settles.
type evmWithdrawal struct {
	event   string
	encoded []byte
	id      common.Hash
	round   uint32
}

func (p *Pipeline) withdrawal(d types.TransferData) (evmWithdrawal, error) {
	w := evmWithdrawal{event: p.id.Source, encoded: d.EncodedEvent, round: d.Round}
	id := d.WithdrawalID
	if p.variant.secondEvent {
		w = evmWithdrawal{event: d.SecondEventAddress, encoded: d.SecondEncodedEvent, round: d.SecondRound}
		id = d.SecondWithdrawalID
	}
	if len(w.encoded) == 0 || id == "" {
		return w, ErrNotReady
	}
	w.id = common.HexToHash(id)
	return w, nil
}

func (p *Pipeline) observeEVMRelease(ctx context.Context, d types.TransferData, st types.PipelineState) (bool, error) {
	w, err := p.withdrawal(d)
	if err != nil {
		return false, err
	}
	reader := p.deps.EVM[p.id.DestChainID]

	if st.Release.TTL == 0 && d.Pipeline.BridgeAddress != "" {
		ttl, err := roundTTL(ctx, reader, common.HexToAddress(d.Pipeline.BridgeAddress), w.round)
		if err != nil {
			p.lggr.Debugw("Round ttl unavailable", "round", w.round, "err", err)
		} else {
			p.store.SetState(func(s types.PipelineState) types.PipelineState {
				s.Release = ReleaseTTL(s.Release, ttl)
				return s
			})
		}
	}
	return isWithdrawn(ctx, reader, common.HexToAddress(d.Pipeline.VaultAddress), w.id)
}

// releaseEVM submits the withdrawal with the relay signatures ordered by
// signer. A dynamic fee transaction the chain refuses is resent as legacy.
func (p *Pipeline) releaseEVM(ctx context.Context, d types.TransferData) error {
	w, err := p.withdrawal(d)
	if err != nil {
		return err
	}
	reader := p.deps.EVM[p.id.DestChainID]
	vault := common.HexToAddress(d.Pipeline.VaultAddress)

	withdrawn, err := isWithdrawn(ctx, reader, vault, w.id)
	if err != nil {
		return err
	}
	if withdrawn {
		p.lggr.Infow("Withdrawal already settled", "withdrawalId", w.id.Hex())
		p.markReleased()
		return nil
	}

	details, err := p.deps.TVM.EventDetails(ctx, w.event)
	if err != nil {
		return err
	}
	if details == nil || len(details.Signatures) == 0 {
		return fmt.Errorf("%w: event %s has no signatures", ErrNotReady, w.event)
	}
	sigs, err := signatures.Ordered(signatures.PayloadDigest(w.encoded), details.Signatures)
	if err != nil {
		return fmt.Errorf("relay signatures: %w", err)
	}
	calldata, err := withdrawCalldata(d.Pipeline.IsMultiVault, details.Data.Native, w.encoded, sigs)
	if err != nil {
		return err
	}

	txType := types.TxTypeDynamicFee
	var hash common.Hash
	err = WithRetry(ctx, p.deps.Config.ReleaseAttempts,
		func(int) error {
			h, sendErr := p.deps.EVMWriter.SendTransaction(ctx, p.id.DestChainID, types.TxRequest{
				To:   vault,
				Data: calldata,
				Type: txType,
			})
			hash = h
			return sendErr
		},
		func(n int, err error) bool {
			if txType == types.TxTypeDynamicFee && EVMRPC.IsTxTypeRejection(err) {
				p.lggr.Infow("Dynamic fee transaction refused, retrying as legacy", "attempt", n)
				txType = types.TxTypeLegacy
				return true
			}
			return false
		})
	if err != nil {
		return err
	}
	p.lggr.Infow("Release submitted", "hash", hash.Hex(), "withdrawalId", w.id.Hex())
	return nil
}
