// Package chain provides the on-chain side of the DataHaven client: a thin
// adapter over an Ethereum-compatible JSON-RPC backend bound to at most one
// connected account, plus bindings for the DataHaven FileSystem contract.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend combines the go-ethereum interfaces needed for contract
// interaction, receipt retrieval and balance reads.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Dial connects to an Ethereum-compatible JSON-RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// FeeParams holds the EIP-1559 fee fields for a single transaction.
type FeeParams struct {
	// TipCap is the priority fee paid to the block producer.
	TipCap *big.Int
	// FeeCap is the maximum total fee per gas the client will pay.
	FeeCap *big.Int
}

// priorityPremium is the fixed tip added on top of the network base fee.
var priorityPremium = big.NewInt(1_500_000_000) // 1.5 gwei

// baseFeeMargin is the safety multiplier applied to the base fee when
// computing the fee cap.
const baseFeeMargin = 2

// Adapter is a stateful holder of a read-only backend and, once an account
// is bound, a write path signing with the wallet-supplied signer.
type Adapter struct {
	backend Backend
	chainID int64
	log     *slog.Logger

	account common.Address
	signer  bind.SignerFn
	bound   bool
}

// NewAdapter creates an Adapter over the given backend. No account is bound
// until Bind is called.
func NewAdapter(backend Backend, chainID int64, log *slog.Logger) *Adapter {
	return &Adapter{backend: backend, chainID: chainID, log: log}
}

// Bind attaches the connected account and its transaction signer,
// establishing the authorized write path.
func (a *Adapter) Bind(account common.Address, signer bind.SignerFn) {
	a.account = account
	a.signer = signer
	a.bound = true
}

// Unbind drops the write path. Read operations remain available.
func (a *Adapter) Unbind() {
	a.account = common.Address{}
	a.signer = nil
	a.bound = false
}

// Account returns the bound account, if any.
func (a *Adapter) Account() (common.Address, bool) {
	return a.account, a.bound
}

// ChainID returns the network identifier the adapter is configured for.
func (a *Adapter) ChainID() int64 {
	return a.chainID
}

// Backend exposes the underlying backend for read-only collaborators.
func (a *Adapter) Backend() Backend {
	return a.backend
}

// Balance reads the bound account's balance. Best effort: callers treat a
// nil result as unknown rather than failing their primary operation.
func (a *Adapter) Balance(ctx context.Context) (*big.Int, error) {
	if !a.bound {
		return nil, fmt.Errorf("chain: balance read: %w", ErrNoAccountBound)
	}
	bal, err := a.backend.BalanceAt(ctx, a.account, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balance of %s: %w", a.account.Hex(), err)
	}
	return bal, nil
}

// SuggestFees builds fee parameters from the latest block's base fee plus a
// fixed priority premium. Networks without a base fee yield ErrFeeUnavailable.
func (a *Adapter) SuggestFees(ctx context.Context) (*FeeParams, error) {
	header, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: read latest header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, fmt.Errorf("chain: latest block carries no base fee: %w", ErrFeeUnavailable)
	}

	feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(baseFeeMargin))
	feeCap.Add(feeCap, priorityPremium)
	a.log.Debug("fee parameters derived",
		"base_fee", header.BaseFee.String(),
		"fee_cap", feeCap.String())
	return &FeeParams{
		TipCap: new(big.Int).Set(priorityPremium),
		FeeCap: feeCap,
	}, nil
}

// TransactOpts creates signed transaction options for the bound account.
func (a *Adapter) TransactOpts(ctx context.Context, fees *FeeParams) (*bind.TransactOpts, error) {
	if !a.bound {
		return nil, fmt.Errorf("chain: transact opts: %w", ErrNoAccountBound)
	}
	opts := &bind.TransactOpts{
		From:    a.account,
		Signer:  a.signer,
		Context: ctx,
	}
	if fees != nil {
		opts.GasTipCap = fees.TipCap
		opts.GasFeeCap = fees.FeeCap
	}
	return opts, nil
}

// WaitMined blocks until the transaction is mined and verifies the receipt
// reports success.
func (a *Adapter) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, a.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("chain: wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("chain: tx %s reverted: %w", tx.Hash().Hex(), ErrTxReverted)
	}
	return receipt, nil
}
