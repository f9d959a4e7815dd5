package tvmcell

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// EthereumVoteData proves an EVM log to TVM relays.
type EthereumVoteData struct {
	TxHash      [32]byte
	LogIndex    uint32
	EventData   *cell.Cell
	BlockNumber uint32
	BlockHash   [32]byte
}

func (v EthereumVoteData) Cell() (*cell.Cell, error) {
	if v.EventData == nil {
		return nil, fmt.Errorf("vote data has no event data")
	}
	b := cell.BeginCell()
	if err := b.StoreBigUInt(new(big.Int).SetBytes(v.TxHash[:]), 256); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(uint64(v.LogIndex), 32); err != nil {
		return nil, err
	}
	if err := b.StoreRef(v.EventData); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(uint64(v.BlockNumber), 32); err != nil {
		return nil, err
	}
	if err := b.StoreBigUInt(new(big.Int).SetBytes(v.BlockHash[:]), 256); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// SolanaVoteData proves a Solana deposit to TVM relays.
type SolanaVoteData struct {
	AccountSeed [16]byte
	Slot        uint64
	BlockTime   uint64
	TxSignature string
	EventData   *cell.Cell
}

func (v SolanaVoteData) Cell() (*cell.Cell, error) {
	if v.EventData == nil {
		return nil, fmt.Errorf("vote data has no event data")
	}
	sig := cell.BeginCell()
	if err := sig.StoreSlice([]byte(v.TxSignature), uint(len(v.TxSignature))*8); err != nil {
		return nil, err
	}

	b := cell.BeginCell()
	if err := b.StoreBigUInt(new(big.Int).SetBytes(v.AccountSeed[:]), 128); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(v.Slot, 64); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(v.BlockTime, 64); err != nil {
		return nil, err
	}
	if err := b.StoreRef(sig.EndCell()); err != nil {
		return nil, err
	}
	if err := b.StoreRef(v.EventData); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// TransferEventData is the cell payload of an incoming transfer event.
type TransferEventData struct {
	Token     []byte // 20 byte EVM token or 32 byte Solana mint
	Amount    *big.Int
	Recipient *address.Address
	ChainID   *big.Int
	Payload   []byte
}

func (d TransferEventData) Cell() (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreBigUInt(new(big.Int).SetBytes(d.Token), 256); err != nil {
		return nil, err
	}
	if err := b.StoreBigUInt(d.Amount, 128); err != nil {
		return nil, err
	}
	if err := b.StoreAddr(d.Recipient); err != nil {
		return nil, err
	}
	chainID := d.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	if err := b.StoreBigUInt(chainID, 256); err != nil {
		return nil, err
	}
	payload := cell.BeginCell()
	if len(d.Payload) > 0 {
		if err := payload.StoreSlice(d.Payload, uint(len(d.Payload))*8); err != nil {
			return nil, fmt.Errorf("payload too large: %w", err)
		}
	}
	if err := b.StoreRef(payload.EndCell()); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// DeriveEventAddress computes the address an event configuration deploys the
// event contract for voteData to. code and voteData are BOCs.
func DeriveEventAddress(code []byte, configuration string, voteData []byte) (string, error) {
	codeCell, err := cell.FromBOC(code)
	if err != nil {
		return "", fmt.Errorf("event code: %w", err)
	}
	voteCell, err := cell.FromBOC(voteData)
	if err != nil {
		return "", fmt.Errorf("vote data: %w", err)
	}
	cfg, err := ParseAddress(configuration)
	if err != nil {
		return "", err
	}

	// static variables: key 0 is the zero pubkey, key 1 the event init data
	pubkey := cell.BeginCell()
	if err := pubkey.StoreBigUInt(new(big.Int), 256); err != nil {
		return "", err
	}
	initData := cell.BeginCell()
	if err := initData.StoreRef(voteCell); err != nil {
		return "", err
	}
	if err := initData.StoreAddr(cfg); err != nil {
		return "", err
	}

	data := cell.NewDict(64)
	if err := data.SetIntKey(big.NewInt(0), pubkey.EndCell()); err != nil {
		return "", err
	}
	if err := data.SetIntKey(big.NewInt(1), initData.EndCell()); err != nil {
		return "", err
	}
	dataCell := cell.BeginCell()
	if err := dataCell.StoreMaybeRef(data.AsCell()); err != nil {
		return "", err
	}

	stateInit, err := tlb.ToCell(&tlb.StateInit{
		Code: codeCell,
		Data: dataCell.EndCell(),
	})
	if err != nil {
		return "", fmt.Errorf("state init: %w", err)
	}

	return Raw(address.NewAddress(0, 0, stateInit.Hash())), nil
}

// FunctionID is the 32 bit id of an internal call, as the TVM Solidity ABI derives it.
func FunctionID(signature string) uint32 {
	h := sha256.Sum256([]byte(signature))
	return binary.BigEndian.Uint32(h[:4]) & 0x7fffffff
}

// Body builds an internal message body calling signature with params (a BOC, may be empty).
func Body(signature string, params []byte) (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(FunctionID(signature)), 32); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		p, err := cell.FromBOC(params)
		if err != nil {
			return nil, fmt.Errorf("params: %w", err)
		}
		if err := b.StoreBuilder(p.ToBuilder()); err != nil {
			return nil, err
		}
	}
	return b.EndCell(), nil
}
