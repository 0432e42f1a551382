package swap

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quayside-labs/swapsentinel/internal/config"
	"github.com/quayside-labs/swapsentinel/internal/domain"
)

// routerABI covers the single router method the executor calls.
const routerABI = `[{
	"name": "swapExactTokensForTokens",
	"type": "function",
	"inputs": [
		{"name": "amountIn", "type": "uint256"},
		{"name": "amountOutMin", "type": "uint256"},
		{"name": "path", "type": "address[]"},
		{"name": "to", "type": "address"},
		{"name": "deadline", "type": "uint256"}
	],
	"outputs": [{"name": "amounts", "type": "uint256[]"}]
}]`

// txDeadline is how far in the future the router deadline is set.
const txDeadline = 5 * time.Minute

// EVMExecutor executes swaps through an on-chain router contract.
type EVMExecutor struct {
	client   *ethclient.Client
	router   common.Address
	routerAB abi.ABI
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	assets   map[string]config.AssetConfig
	logger   *slog.Logger
}

// NewEVMExecutor dials the RPC endpoint and prepares the router binding.
// key is the hex-encoded wallet private key, already decrypted by the caller.
func NewEVMExecutor(ctx context.Context, cfg config.ExecutorConfig, keyHex string, logger *slog.Logger) (*EVMExecutor, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("swap: dial rpc: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("swap: parse router abi: %w", err)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("swap: parse wallet key: %w", err)
	}

	if !common.IsHexAddress(cfg.RouterAddr) {
		client.Close()
		return nil, fmt.Errorf("swap: invalid router address %q", cfg.RouterAddr)
	}

	return &EVMExecutor{
		client:   client,
		router:   common.HexToAddress(cfg.RouterAddr),
		routerAB: parsed,
		key:      key,
		from:     ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID:  big.NewInt(cfg.ChainID),
		gasLimit: cfg.GasLimit,
		assets:   cfg.Assets,
		logger:   logger.With(slog.String("component", "evm_executor")),
	}, nil
}

// Close releases the RPC connection.
func (e *EVMExecutor) Close() error {
	e.client.Close()
	return nil
}

// Execute submits the swap transaction and waits for its receipt. A reverted
// transaction is reported as an unsuccessful result carrying the tx hash, not
// an error: the attempt reached the chain and must not be retried blindly.
func (e *EVMExecutor) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	fromAsset, ok := e.assets[req.FromAsset]
	if !ok {
		return domain.SwapResult{}, fmt.Errorf("swap: unknown asset %q", req.FromAsset)
	}
	toAsset, ok := e.assets[req.ToAsset]
	if !ok {
		return domain.SwapResult{}, fmt.Errorf("swap: unknown asset %q", req.ToAsset)
	}

	amountIn := toWei(req.AmountIn, fromAsset.Decimals)

	// Minimum acceptable output from the quote and the slippage bound.
	minOut := req.AmountIn * req.QuotedPrice * (1 - req.MaxSlippageBps/10_000)
	amountOutMin := toWei(minOut, toAsset.Decimals)

	path := []common.Address{
		common.HexToAddress(fromAsset.Address),
		common.HexToAddress(toAsset.Address),
	}
	deadline := big.NewInt(time.Now().Add(txDeadline).Unix())

	data, err := e.routerAB.Pack("swapExactTokensForTokens",
		amountIn, amountOutMin, path, e.from, deadline)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: pack calldata: %w", err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: pending nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, e.router, big.NewInt(0), e.gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(e.chainID), e.key)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: sign tx: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: send tx: %w", err)
	}

	e.logger.InfoContext(ctx, "swap submitted",
		slog.String("order_id", req.OrderID),
		slog.String("tx", signed.Hash().Hex()),
		slog.String("pair", req.FromAsset+"/"+req.ToAsset),
	)

	receipt, err := bind.WaitMined(ctx, e.client, signed)
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: wait mined %s: %w", signed.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.SwapResult{
			Success:   false,
			Reference: signed.Hash().Hex(),
			Message:   "transaction reverted",
		}, nil
	}

	return domain.SwapResult{
		Success:        true,
		Reference:      signed.Hash().Hex(),
		ExecutedAmount: minOut,
		Message:        "mined in block " + receipt.BlockNumber.String(),
	}, nil
}

// toWei converts a human amount into the token's smallest unit.
func toWei(amount float64, decimals int) *big.Int {
	f := new(big.Float).SetFloat64(amount)
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	f.Mul(f, scale)
	out, _ := f.Int(nil)
	return out
}

// Compile-time interface check.
var _ domain.SwapExecutor = (*EVMExecutor)(nil)
