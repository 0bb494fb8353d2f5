package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyWallet is a Provider backed by a locally held private key. It serves
// headless clients and tests; a browser-extension wallet would satisfy the
// same interface.
type KeyWallet struct {
	mu          sync.Mutex
	key         *ecdsa.PrivateKey
	address     common.Address
	knownChains map[int64]ChainDefinition
	authorized  bool

	// DenyAccess simulates the user rejecting the account prompt.
	DenyAccess bool
}

// NewKeyWallet builds a KeyWallet from a hex-encoded private key. The wallet
// initially knows only the chains passed in.
func NewKeyWallet(hexKey string, known ...ChainDefinition) (*KeyWallet, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid private key: %w", err)
	}
	chains := make(map[int64]ChainDefinition, len(known))
	for _, def := range known {
		chains[def.ChainID] = def
	}
	return &KeyWallet{
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		knownChains: chains,
	}, nil
}

// Address returns the wallet's single account address.
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// Revoke drops the authorization granted by RequestAccounts, simulating the
// user disconnecting the site from the wallet.
func (w *KeyWallet) Revoke() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.authorized = false
}

func (w *KeyWallet) RequestAccounts(_ context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.DenyAccess {
		return nil, fmt.Errorf("wallet: account access denied: %w", ErrUnavailable)
	}
	w.authorized = true
	return []common.Address{w.address}, nil
}

func (w *KeyWallet) Accounts(_ context.Context) ([]common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.authorized {
		return nil, nil
	}
	return []common.Address{w.address}, nil
}

func (w *KeyWallet) SwitchChain(_ context.Context, chainID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.knownChains[chainID]; !ok {
		return fmt.Errorf("wallet: switch to chain %d: %w", chainID, ErrUnrecognizedChain)
	}
	return nil
}

func (w *KeyWallet) AddChain(_ context.Context, def ChainDefinition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.knownChains[def.ChainID] = def
	return nil
}

// SignMessage signs with the EIP-191 personal-message prefix, matching what
// browser wallets produce for personal_sign.
func (w *KeyWallet) SignMessage(_ context.Context, account common.Address, message []byte) ([]byte, error) {
	if account != w.address {
		return nil, fmt.Errorf("wallet: sign for %s: %w", account.Hex(), ErrUnknownAccount)
	}
	digest := personalDigest(message)
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (w *KeyWallet) Signer(account common.Address, chainID int64) (bind.SignerFn, error) {
	if account != w.address {
		return nil, fmt.Errorf("wallet: signer for %s: %w", account.Hex(), ErrUnknownAccount)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, big.NewInt(chainID))
	if err != nil {
		return nil, fmt.Errorf("wallet: create signer: %w", err)
	}
	return opts.Signer, nil
}

// personalDigest hashes a message with the EIP-191 prefix.
func personalDigest(message []byte) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverSigner recovers the address that produced an EIP-191 personal
// signature over message. Used by provider-side verification in tests.
func RecoverSigner(message, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("wallet: signature must be 65 bytes, got %d", len(sig))
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := crypto.SigToPub(personalDigest(message), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("wallet: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
