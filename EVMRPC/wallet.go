package EVMRPC

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"goeverbridge/config"
	"goeverbridge/logger"
	"goeverbridge/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var ErrTxTypeNotSupported = errors.New("transaction type not supported")

var ErrUnknownChain = errors.New("unknown evm chain")

// fragments of node errors returned for typed transactions on chains that only take legacy ones
var txTypeRejections = []string{
	"transaction type not supported",
	"tx type not supported",
	"invalid transaction type",
	"eip-1559 not supported",
	"eip1559 not supported",
}

// IsTxTypeRejection reports whether err means the node refused the transaction envelope type.
func IsTxTypeRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxTypeNotSupported) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range txTypeRejections {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// Wallet signs and submits transactions with the configured key on any known chain.
type Wallet struct {
	chains  map[string]config.ChainConfig
	key     *ecdsa.PrivateKey
	address common.Address
	lggr    logger.Logger
}

func NewWallet(chains map[string]config.ChainConfig, privateKey string, lggr logger.Logger) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("error instantiating private key: %w", err)
	}
	return &Wallet{
		chains:  chains,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		lggr:    lggr.Named("EVMWallet"),
	}, nil
}

func (w *Wallet) Address() common.Address {
	return w.address
}

// SendTransaction builds, signs and broadcasts req. A node refusing a dynamic fee
// transaction surfaces ErrTxTypeNotSupported so the caller can retry as legacy.
func (w *Wallet) SendTransaction(ctx context.Context, chainID string, req types.TxRequest) (common.Hash, error) {
	chain, ok := w.chains[chainID]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	id, ok := new(big.Int).SetString(chain.ChainID, 10)
	if !ok {
		return common.Hash{}, fmt.Errorf("chain id %q is not numeric", chain.ChainID)
	}
	if chain.LegacyOnly {
		req.Type = types.TxTypeLegacy
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	return WithClient(ctx, chain, w.lggr, func(client *ethclient.Client) (common.Hash, error) {
		nonce, err := client.PendingNonceAt(ctx, w.address)
		if err != nil {
			return common.Hash{}, fmt.Errorf("error getting nonce for wallet: %w", err)
		}

		to := req.To
		gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: req.Data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("error estimating gas: %w", err)
		}
		// leave room for state changes between estimation and inclusion
		gasLimit = gasLimit * 12 / 10

		var txData ethtypes.TxData
		switch req.Type {
		case types.TxTypeDynamicFee:
			tip, err := client.SuggestGasTipCap(ctx)
			if err != nil {
				return common.Hash{}, wrapTypeRejection(fmt.Errorf("error getting tip cap: %w", err))
			}
			head, err := client.HeaderByNumber(ctx, nil)
			if err != nil {
				return common.Hash{}, fmt.Errorf("error getting head: %w", err)
			}
			if head.BaseFee == nil {
				return common.Hash{}, ErrTxTypeNotSupported
			}
			feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
			txData = &ethtypes.DynamicFeeTx{
				ChainID:   id,
				Nonce:     nonce,
				GasTipCap: tip,
				GasFeeCap: feeCap,
				Gas:       gasLimit,
				To:        &to,
				Value:     value,
				Data:      req.Data,
			}
		default:
			gasPrice, err := client.SuggestGasPrice(ctx)
			if err != nil {
				return common.Hash{}, fmt.Errorf("error getting suggested gas price: %w", err)
			}
			txData = &ethtypes.LegacyTx{
				Nonce:    nonce,
				GasPrice: gasPrice,
				Gas:      gasLimit,
				To:       &to,
				Value:    value,
				Data:     req.Data,
			}
		}

		signed, err := ethtypes.SignNewTx(w.key, ethtypes.LatestSignerForChainID(id), txData)
		if err != nil {
			return common.Hash{}, fmt.Errorf("error signing transaction: %w", err)
		}
		if err := client.SendTransaction(ctx, signed); err != nil {
			return common.Hash{}, wrapTypeRejection(err)
		}
		w.lggr.Infow("Transaction sent", "chainId", chainID, "hash", signed.Hash().Hex(), "type", req.Type)
		return signed.Hash(), nil
	})
}

func wrapTypeRejection(err error) error {
	if IsTxTypeRejection(err) && !errors.Is(err, ErrTxTypeNotSupported) {
		return fmt.Errorf("%w: %s", ErrTxTypeNotSupported, err.Error())
	}
	return err
}
