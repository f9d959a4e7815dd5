package pipeline

import (
	"context"
	"fmt"
	"math/big"

	"goeverbridge/SOLRPC"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum/common"
)

// eventTick follows the vote tally of the outgoing TVM event. A confirmed
// event is turned into the withdrawal the release stage submits before the
// confirmation is recorded, so release never sees a confirmed event without it.
func (p *Pipeline) eventTick(ctx context.Context) (bool, error) {
	d, st := p.store.Snapshot()
	addr, cur := p.id.Source, st.Event
	if p.variant.secondEvent {
		addr, cur = d.SecondEventAddress, st.SecondEvent
	}
	if cur.Status.Terminal() {
		return true, nil
	}
	if addr == "" {
		return false, ErrNotReady
	}

	details, err := p.deps.TVM.EventDetails(ctx, addr)
	if err != nil {
		return false, err
	}
	if details == nil {
		return false, nil
	}
	next := EventTally(cur, *details)

	if next.Status == types.StatusConfirmed {
		if err := p.prepareWithdrawal(addr, d, details); err != nil {
			return false, fmt.Errorf("preparing withdrawal: %w", err)
		}
	}
	p.store.SetState(func(s types.PipelineState) types.PipelineState {
		if p.variant.secondEvent {
			s.SecondEvent = EventTally(s.SecondEvent, *details)
		} else {
			s.Event = EventTally(s.Event, *details)
		}
		return s
	})

	switch next.Status {
	case types.StatusConfirmed:
		p.advance(stageEvent)
		return true, nil
	case types.StatusRejected:
		p.lggr.Infow("Event rejected by relays", "event", addr)
		p.setPhase(types.PhaseRejected)
		return true, nil
	}
	return false, nil
}

// prepareWithdrawal records what the destination needs to release the
// transfer: the encoded event and its withdrawal id on EVM, the proposal
// account on Solana.
func (p *Pipeline) prepareWithdrawal(addr string, d types.TransferData, details *types.EventDetails) error {
	switch p.variant.releaser {
	case types.NetworkEVM:
		encoded, err := p.encodeEVMEvent(addr, d, details)
		if err != nil {
			return err
		}
		id := tvmcell.WithdrawalID(encoded).Hex()
		p.store.SetData(func(d types.TransferData) types.TransferData {
			if p.variant.secondEvent {
				d.SecondEncodedEvent, d.SecondWithdrawalID, d.SecondRound = encoded, id, details.Round
			} else {
				d.EncodedEvent, d.WithdrawalID, d.Round = encoded, id, details.Round
			}
			return d
		})
	case types.NetworkSolana:
		pda, err := SOLRPC.ProposalAddress(d.Pipeline.SolanaProgram, details.Round, details.EventTimestamp, details.EventTransactionLt, details.Configuration)
		if err != nil {
			return err
		}
		p.store.SetData(func(d types.TransferData) types.TransferData {
			d.EncodedEvent = details.Data.Raw
			d.WithdrawalID = pda
			d.Round = details.Round
			return d
		})
	}
	return nil
}

func (p *Pipeline) encodeEVMEvent(addr string, d types.TransferData, details *types.EventDetails) ([]byte, error) {
	ev := details.Data
	amount, ok := new(big.Int).SetString(ev.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid event amount %q", ev.Amount)
	}
	if !common.IsHexAddress(ev.Recipient) {
		return nil, fmt.Errorf("invalid EVM recipient %q", ev.Recipient)
	}
	recipient := common.HexToAddress(ev.Recipient)
	chainID := chainIDBig(p.id.DestChainID)

	var data []byte
	var err error
	if ev.Native {
		data, err = tvmcell.EncodeNativeEventData(ev.TokenRoot, amount, recipient, chainID)
	} else {
		data, err = tvmcell.EncodeAlienEventData(common.HexToAddress(ev.BaseToken), amount, recipient, chainID)
	}
	if err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}

	event, err := tvmcell.EventFromDetails(addr, details.Configuration, details.EventTransactionLt, details.EventTimestamp,
		details.Round, common.HexToAddress(d.Pipeline.VaultAddress), data)
	if err != nil {
		return nil, err
	}
	return tvmcell.EncodeEverscaleEvent(event)
}
