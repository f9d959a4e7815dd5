package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"goeverbridge/amounts"
	"goeverbridge/tvmcell"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

type alienTransferLog struct {
	BaseChainID   *big.Int `abi:"base_chainId"`
	BaseToken     *big.Int `abi:"base_token"`
	Name          string   `abi:"name"`
	Symbol        string   `abi:"symbol"`
	Decimals      uint8    `abi:"decimals"`
	Amount        *big.Int `abi:"amount"`
	RecipientWid  int8     `abi:"recipient_wid"`
	RecipientAddr *big.Int `abi:"recipient_addr"`
	Value         *big.Int `abi:"value"`
	ExpectedEvers *big.Int `abi:"expected_evers"`
	Payload       []byte   `abi:"payload"`
}

type nativeTransferLog struct {
	NativeWid     int8     `abi:"native_wid"`
	NativeAddr    *big.Int `abi:"native_addr"`
	Amount        *big.Int `abi:"amount"`
	RecipientWid  int8     `abi:"recipient_wid"`
	RecipientAddr *big.Int `abi:"recipient_addr"`
	Value         *big.Int `abi:"value"`
	ExpectedEvers *big.Int `abi:"expected_evers"`
	Payload       []byte   `abi:"payload"`
}

type multiVaultDepositLog struct {
	Type          uint8          `abi:"_type"`
	Sender        common.Address `abi:"sender"`
	Token         common.Address `abi:"token"`
	RecipientWid  int8           `abi:"recipient_wid"`
	RecipientAddr *big.Int       `abi:"recipient_addr"`
	Amount        *big.Int       `abi:"amount"`
	Fee           *big.Int       `abi:"fee"`
}

type vaultDepositLog struct {
	Amount *big.Int `abi:"amount"`
	Wid    *big.Int `abi:"wid"`
	Addr   *big.Int `abi:"addr"`
}

type factoryDeposit struct {
	Amount              *big.Int `abi:"amount"`
	Wid                 int8     `abi:"wid"`
	User                *big.Int `abi:"user"`
	Creditor            *big.Int `abi:"creditor"`
	Recipient           *big.Int `abi:"recipient"`
	TokenAmount         *big.Int `abi:"tokenAmount"`
	TonAmount           *big.Int `abi:"tonAmount"`
	SwapType            uint8    `abi:"swapType"`
	SlippageNumerator   *big.Int `abi:"slippageNumerator"`
	SlippageDenominator *big.Int `abi:"slippageDenominator"`
	Level3              []byte   `abi:"level3"`
}

// evmDeposit is the canonical form of every EVM deposit shape.
type evmDeposit struct {
	depositType types.DepositType
	// zero for single token vaults until asked
	token     common.Address
	vault     common.Address
	amount    *big.Int
	fee       *big.Int
	recipient string // TVM
	logIndex  uint
	payload   []byte
	meta      *types.TokenMeta
	credit    *types.CreditEvent
	// destination of a hidden swap
	evmRecipient common.Address
}

func evmHash(s string) common.Hash {
	return common.HexToHash(s)
}

// decodeEVMDeposit finds the deposit in a receipt. Multivault alien transfers
// take precedence over native transfers, which take precedence over plain
// vault deposits. Credit deposits are recognised by the transaction input.
func decodeEVMDeposit(receipt *ethtypes.Receipt, input []byte, credit bool) (*evmDeposit, error) {
	var (
		alien   *evmDeposit
		native  *evmDeposit
		vault   *evmDeposit
		feeLogs []multiVaultDepositLog
	)

	for _, l := range receipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case multiVaultABI.Events["AlienTransfer"].ID:
			var ev alienTransferLog
			if err := multiVaultABI.UnpackIntoInterface(&ev, "AlienTransfer", l.Data); err != nil {
				return nil, fmt.Errorf("decoding AlienTransfer: %w", err)
			}
			if alien != nil {
				continue
			}
			alien = &evmDeposit{
				depositType: types.DepositAlien,
				token:       bigToAddress(ev.BaseToken),
				vault:       l.Address,
				amount:      ev.Amount,
				recipient:   tvmcell.JoinAddress(ev.RecipientWid, ev.RecipientAddr),
				logIndex:    l.Index,
				payload:     ev.Payload,
				meta:        &types.TokenMeta{Name: ev.Name, Symbol: ev.Symbol, Decimals: int32(ev.Decimals)},
			}
		case multiVaultABI.Events["NativeTransfer"].ID:
			var ev nativeTransferLog
			if err := multiVaultABI.UnpackIntoInterface(&ev, "NativeTransfer", l.Data); err != nil {
				return nil, fmt.Errorf("decoding NativeTransfer: %w", err)
			}
			if native != nil {
				continue
			}
			native = &evmDeposit{
				depositType: types.DepositNative,
				vault:       l.Address,
				amount:      ev.Amount,
				recipient:   tvmcell.JoinAddress(ev.RecipientWid, ev.RecipientAddr),
				logIndex:    l.Index,
				payload:     ev.Payload,
			}
		case multiVaultABI.Events["Deposit"].ID:
			var ev multiVaultDepositLog
			if err := multiVaultABI.UnpackIntoInterface(&ev, "Deposit", l.Data); err != nil {
				return nil, fmt.Errorf("decoding multivault Deposit: %w", err)
			}
			feeLogs = append(feeLogs, ev)
		case vaultABI.Events["Deposit"].ID:
			var ev vaultDepositLog
			if err := vaultABI.UnpackIntoInterface(&ev, "Deposit", l.Data); err != nil {
				return nil, fmt.Errorf("decoding vault Deposit: %w", err)
			}
			if vault != nil {
				continue
			}
			vault = &evmDeposit{
				depositType: types.DepositVault,
				vault:       l.Address,
				amount:      ev.Amount,
				recipient:   tvmcell.JoinAddress(int8(ev.Wid.Int64()), ev.Addr),
				logIndex:    l.Index,
			}
		}
	}

	var dep *evmDeposit
	switch {
	case alien != nil:
		dep = alien
	case native != nil:
		dep = native
	case vault != nil:
		dep = vault
	default:
		return nil, fmt.Errorf("transaction %s has no bridge deposit", receipt.TxHash.Hex())
	}

	// the multivault reports the fee and the EVM token in its own Deposit log
	if len(feeLogs) > 0 && dep.depositType != types.DepositVault {
		dep.fee = feeLogs[0].Fee
		if dep.depositType == types.DepositNative {
			dep.token = feeLogs[0].Token
		}
	}
	if dep.depositType == types.DepositNative && dep.token == (common.Address{}) {
		return nil, fmt.Errorf("native transfer without multivault Deposit log")
	}

	if credit {
		fd, err := decodeFactoryDeposit(input)
		if err != nil {
			return nil, err
		}
		dep.depositType = types.DepositCredit
		dep.recipient = tvmcell.JoinAddress(fd.Wid, fd.Recipient)
		dep.credit = &types.CreditEvent{
			User:          tvmcell.JoinAddress(fd.Wid, fd.User),
			Recipient:     tvmcell.JoinAddress(fd.Wid, fd.Recipient),
			Creditor:      tvmcell.JoinAddress(fd.Wid, fd.Creditor),
			ExpectedEvers: fd.TonAmount.String(),
			TokenAmount:   fd.TokenAmount.String(),
			SwapType:      fd.SwapType,
			Numerator:     fd.SlippageNumerator.Uint64(),
			Denominator:   fd.SlippageDenominator.Uint64(),
			Payload:       fd.Level3,
		}
		// level3 of a hidden swap starts with the ABI encoded EVM recipient
		if len(fd.Level3) >= 32 {
			dep.evmRecipient = common.BytesToAddress(fd.Level3[12:32])
		}
	}
	return dep, nil
}

func decodeFactoryDeposit(input []byte) (*factoryDeposit, error) {
	method := vaultABI.Methods["depositToFactory"]
	if len(input) < 4 || !bytes.Equal(input[:4], method.ID) {
		return nil, fmt.Errorf("transaction is not a depositToFactory call")
	}
	values, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("decoding depositToFactory: %w", err)
	}
	var fd factoryDeposit
	if err := method.Inputs.Copy(&fd, values); err != nil {
		return nil, fmt.Errorf("decoding depositToFactory: %w", err)
	}
	return &fd, nil
}

func (p *Pipeline) resolveEVM(ctx context.Context) (*resolution, error) {
	reader := p.deps.EVM[p.id.SourceChainID]
	hash := evmHash(p.id.Source)

	receipt, err := reader.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, ErrNotReady
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return &resolution{rejected: true}, nil
	}
	tx, err := reader.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrNotReady
	}
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("recovering sender: %w", err)
	}
	header, err := reader.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	if header == nil {
		return nil, ErrNotReady
	}

	dep, err := decodeEVMDeposit(receipt, tx.Data(), p.variant.credit)
	if err != nil {
		return nil, err
	}
	if dep.token == (common.Address{}) {
		if dep.token, err = vaultToken(ctx, reader, dep.vault); err != nil {
			return nil, err
		}
	}

	asset, err := p.evmAsset(ctx, reader, dep)
	if err != nil {
		return nil, err
	}
	descriptor, err := p.deps.Assets.Pipeline(ctx, asset.Root, p.id.SourceCorridor(), p.id.DestCorridor(), p.id.Variant)
	if err != nil {
		return nil, err
	}
	if descriptor == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, asset.Root)
	}

	amount, err := amounts.Shift(dep.amount.String(), asset.Decimals)
	if err != nil {
		return nil, err
	}
	var fee *int64
	if dep.fee != nil {
		bps, ok, err := amounts.FeeBasisPointsRaw(dep.fee.String(), dep.amount.String())
		if err != nil {
			return nil, err
		}
		if ok {
			fee = &bps
		}
	}

	cfg, err := p.deps.TVM.EventConfigDetails(ctx, descriptor.EverscaleConfiguration)
	if err != nil {
		return nil, fmt.Errorf("event configuration: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("event configuration %s is not deployed", descriptor.EverscaleConfiguration)
	}

	voteData, err := evmVoteData(hash, receipt, dep, chainIDBig(p.id.SourceChainID))
	if err != nil {
		return nil, err
	}

	data := types.TransferData{
		Amount:            amount.String(),
		RawAmount:         dep.amount.String(),
		Token:             &asset,
		Pipeline:          descriptor,
		LeftAddress:       strings.ToLower(sender.Hex()),
		RightAddress:      strings.ToLower(dep.recipient),
		DepositType:       dep.depositType,
		DepositFee:        fee,
		TokenRoot:         strings.ToLower(dep.token.Hex()),
		SourceBlockNumber: receipt.BlockNumber.Uint64(),
		SourceTimestamp:   time.Unix(int64(header.Time), 0),
		EventVoteData:     voteData,
		CreditEvent:       dep.credit,
	}
	if p.variant.kind == types.KindEVMToEVMHidden {
		recipient := dep.evmRecipient
		if recipient == (common.Address{}) {
			recipient = sender
		}
		data.RightAddress = strings.ToLower(recipient.Hex())
	}
	return &resolution{data: data, blocksToConfirm: cfg.EventBlocksToConfirm}, nil
}

// evmAsset looks the deposited token up and imports it when unknown.
func (p *Pipeline) evmAsset(ctx context.Context, reader EVMReader, dep *evmDeposit) (types.Asset, error) {
	root := dep.token.Hex()
	if a, ok := p.deps.Assets.Get(types.NetworkEVM, p.id.SourceChainID, root); ok {
		return a, nil
	}

	meta := dep.meta
	if meta == nil {
		name, symbol, decimals, err := erc20Meta(ctx, reader, dep.token)
		if err != nil {
			return types.Asset{}, fmt.Errorf("token %s metadata: %w", root, err)
		}
		meta = &types.TokenMeta{Name: name, Symbol: symbol, Decimals: int32(decimals)}
	}
	asset := types.Asset{
		Root:     root,
		ChainID:  p.id.SourceChainID,
		Kind:     types.NetworkEVM,
		Name:     meta.Name,
		Symbol:   meta.Symbol,
		Decimals: meta.Decimals,
	}
	if err := p.deps.Assets.Add(asset); err != nil {
		p.lggr.Warnw("Failed to import asset", "token", root, "err", err)
	}
	return asset, nil
}

func evmVoteData(hash common.Hash, receipt *ethtypes.Receipt, dep *evmDeposit, chainID *big.Int) ([]byte, error) {
	recipient, err := tvmcell.ParseAddress(dep.recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	eventData, err := tvmcell.TransferEventData{
		Token:     dep.token.Bytes(),
		Amount:    dep.amount,
		Recipient: recipient,
		ChainID:   chainID,
		Payload:   dep.payload,
	}.Cell()
	if err != nil {
		return nil, err
	}
	vote, err := tvmcell.EthereumVoteData{
		TxHash:      hash,
		LogIndex:    uint32(dep.logIndex),
		EventData:   eventData,
		BlockNumber: uint32(receipt.BlockNumber.Uint64()),
		BlockHash:   receipt.BlockHash,
	}.Cell()
	if err != nil {
		return nil, err
	}
	return vote.ToBOC(), nil
}

func chainIDBig(chainID string) *big.Int {
	v, ok := new(big.Int).SetString(chainID, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
