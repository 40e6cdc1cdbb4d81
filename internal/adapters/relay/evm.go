package relay

import (
	"context"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/swarm/internal/account"
)

// ChainClient is the part of ethclient.Client the bridge needs.
type ChainClient interface {
	bind.DeployBackend
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	Close()
}

// Dialer opens a ChainClient for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (ChainClient, error)

// DialEthclient is the production Dialer.
func DialEthclient(ctx context.Context, rpcURL string) (ChainClient, error) {
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// sendStep signs data as an EIP-1559 transaction, sends it and waits until
// it is mined.
func (e *Executor) sendStep(ctx context.Context, client ChainClient, acc *account.Account, chainID int64, data TxData) (string, error) {
	if !common.IsHexAddress(data.To) {
		return "", fmt.Errorf("invalid destination %q", data.To)
	}
	to := common.HexToAddress(data.To)

	value := new(big.Int)
	if data.Value != "" {
		if _, ok := value.SetString(data.Value, 0); !ok {
			return "", fmt.Errorf("invalid value %q", data.Value)
		}
	}
	var input []byte
	if data.Data != "" && data.Data != "0x" {
		b, err := hexutil.Decode(data.Data)
		if err != nil {
			return "", fmt.Errorf("invalid calldata: %w", err)
		}
		input = b
	}

	nonce, err := client.PendingNonceAt(ctx, acc.EVMAddress)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("gas tip: %w", err)
	}
	head, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	var gas uint64
	if data.Gas != "" {
		gas, err = strconv.ParseUint(data.Gas, 0, 64)
		if err != nil {
			return "", fmt.Errorf("invalid gas %q: %w", data.Gas, err)
		}
	} else {
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{From: acc.EVMAddress, To: &to, Value: value, Data: input})
		if err != nil {
			return "", fmt.Errorf("estimate gas: %w", err)
		}
	}

	id := big.NewInt(chainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   id,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(id), acc.EVMKey)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	log.Info().
		Str("account", acc.Label()).
		Str("tx", signed.Hash().Hex()).
		Int64("chain_id", chainID).
		Msg("relay: step sent, waiting to be mined")

	waitCtx := ctx
	if e.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.config.WaitTimeout)
		defer cancel()
	}
	receipt, err := bind.WaitMined(waitCtx, client, signed)
	if err != nil {
		return "", fmt.Errorf("wait mined %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}
