package orchestrator

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/datahaven-labs/datahaven-go/internal/msp"
)

// Sentinel errors for the connection handshake. Each maps to the stage that
// failed; completed stages stay valid for retry.
var (
	ErrWalletUnavailable    = errors.New("orchestrator: wallet unavailable or access denied")
	ErrNoAccounts           = errors.New("orchestrator: wallet exposed no accounts")
	ErrNetworkSwitchFailed  = errors.New("orchestrator: network switch failed")
	ErrProviderUnavailable  = errors.New("orchestrator: storage provider unavailable")
	ErrAuthenticationFailed = errors.New("orchestrator: provider sign-in failed")
	ErrBusy                 = errors.New("orchestrator: connection attempt already in flight")
)

// Stage is the orchestrator's position in the strictly ordered handshake.
type Stage int

const (
	StageDisconnected Stage = iota
	StageWalletAuthorized
	StageNetworkVerified
	StageProviderConnected
	StageAuthenticated
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "disconnected"
	case StageWalletAuthorized:
		return "wallet-authorized"
	case StageNetworkVerified:
		return "network-verified"
	case StageProviderConnected:
		return "provider-connected"
	case StageAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// Identity is the fully connected identity returned by
// EnsureFullyConnected.
type Identity struct {
	Address common.Address
	Profile *msp.Profile
}

// Config holds the orchestrator's network parameters.
type Config struct {
	// ChainID is the target network id the wallet must be on.
	ChainID int64
	// ChainName and Currency describe the network for wallet registration.
	ChainName string
	Currency  string
	// RPCURL is the network's JSON-RPC endpoint, registered with the wallet
	// when it does not know the chain.
	RPCURL string
}
