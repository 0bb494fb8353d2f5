// Package wallet abstracts the external wallet as a capability interface:
// account access, network switching and message signing. Private-key
// handling stays behind the Provider implementation.
package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for wallet operations.
var (
	ErrUnavailable       = errors.New("wallet: no wallet provider available")
	ErrNoAccounts        = errors.New("wallet: wallet exposes no accounts")
	ErrUnrecognizedChain = errors.New("wallet: chain not known to wallet")
	ErrUnknownAccount    = errors.New("wallet: account not held by wallet")
)

// ChainDefinition describes a network for AddChain registration.
type ChainDefinition struct {
	ChainID  int64
	Name     string
	RPCURL   string
	Currency string
}

// Provider is the wallet capability surface the orchestrator drives.
// Implementations own key material; callers never see it.
type Provider interface {
	// RequestAccounts prompts for account access and returns the accounts
	// the user exposed. ErrUnavailable if no provider is present or access
	// is denied; ErrNoAccounts if access is granted with zero accounts.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Accounts returns the currently authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)

	// SwitchChain asks the wallet to switch to the given chain id.
	// ErrUnrecognizedChain when the wallet does not know the chain.
	SwitchChain(ctx context.Context, chainID int64) error

	// AddChain registers a chain definition with the wallet.
	AddChain(ctx context.Context, def ChainDefinition) error

	// SignMessage signs an EIP-191 personal message with the given account.
	SignMessage(ctx context.Context, account common.Address, message []byte) ([]byte, error)

	// Signer returns a transaction signer for the given account, for use as
	// the write path of a chain adapter.
	Signer(account common.Address, chainID int64) (bind.SignerFn, error)
}
