// Package orchestrator drives the connection handshake: wallet
// authorization, network verification, provider connection and cryptographic
// sign-in, as a strictly ordered state machine with idempotent retry and
// persisted resumption.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/datahaven-labs/datahaven-go/internal/chain"
	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/session"
	"github.com/datahaven-labs/datahaven-go/internal/wallet"
)

// Orchestrator owns the session state and sequences the sub-clients through
// the handshake. It is the session's single writer; a second call while one
// is in flight is rejected with ErrBusy.
type Orchestrator struct {
	cfg      Config
	wallet   wallet.Provider
	adapter  *chain.Adapter
	provider *msp.Client
	sess     *session.Session
	log      *slog.Logger

	busy  atomic.Bool
	stage Stage
}

// New creates an Orchestrator in the Disconnected stage.
func New(cfg Config, w wallet.Provider, adapter *chain.Adapter, provider *msp.Client, sess *session.Session, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		wallet:   w,
		adapter:  adapter,
		provider: provider,
		sess:     sess,
		log:      log,
	}
}

// Stage returns the current handshake stage.
func (o *Orchestrator) Stage() Stage {
	return o.stage
}

// Session exposes the session object the orchestrator writes.
func (o *Orchestrator) Session() *session.Session {
	return o.sess
}

// EnsureFullyConnected runs the handshake up to Authenticated. Idempotent:
// when already authenticated it returns the current identity without any
// network call. Stage failures leave completed stages intact so a retry
// resumes where it failed.
func (o *Orchestrator) EnsureFullyConnected(ctx context.Context) (*Identity, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	if o.stage == StageAuthenticated {
		return o.identity(), nil
	}

	o.sess.ClearError()
	identity, err := o.connect(ctx)
	if err != nil {
		o.sess.SetError(err)
		return nil, err
	}
	return identity, nil
}

func (o *Orchestrator) connect(ctx context.Context) (*Identity, error) {
	if o.stage < StageWalletAuthorized {
		if err := o.authorizeWallet(ctx); err != nil {
			return nil, err
		}
		o.stage = StageWalletAuthorized
	}
	if o.stage < StageNetworkVerified {
		if err := o.verifyNetwork(ctx); err != nil {
			return nil, err
		}
		o.stage = StageNetworkVerified
	}
	if o.stage < StageProviderConnected {
		if err := o.connectProvider(ctx); err != nil {
			return nil, err
		}
		o.stage = StageProviderConnected
	}
	if o.stage < StageAuthenticated {
		if err := o.authenticate(ctx); err != nil {
			return nil, err
		}
		o.stage = StageAuthenticated
	}

	o.log.Info("fully connected",
		"address", o.sess.State().Address.Hex(),
		"stage", o.stage.String())
	return o.identity(), nil
}

// authorizeWallet runs Disconnected → WalletAuthorized.
func (o *Orchestrator) authorizeWallet(ctx context.Context) error {
	accounts, err := o.wallet.RequestAccounts(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	if err := o.sess.SetAddress(accounts[0]); err != nil {
		return fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
	}
	return nil
}

// verifyNetwork runs WalletAuthorized → NetworkVerified. An unrecognized
// chain is registered and the switch retried once; any other failure is
// fatal for this stage.
func (o *Orchestrator) verifyNetwork(ctx context.Context) error {
	err := o.wallet.SwitchChain(ctx, o.cfg.ChainID)
	if errors.Is(err, wallet.ErrUnrecognizedChain) {
		def := wallet.ChainDefinition{
			ChainID:  o.cfg.ChainID,
			Name:     o.cfg.ChainName,
			RPCURL:   o.cfg.RPCURL,
			Currency: o.cfg.Currency,
		}
		if addErr := o.wallet.AddChain(ctx, def); addErr != nil {
			return fmt.Errorf("%w: add chain: %w", ErrNetworkSwitchFailed, addErr)
		}
		err = o.wallet.SwitchChain(ctx, o.cfg.ChainID)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkSwitchFailed, err)
	}
	if err := o.sess.SetNetworkVerified(); err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkSwitchFailed, err)
	}

	if err := o.bindWriteClient(); err != nil {
		return fmt.Errorf("%w: %w", ErrNetworkSwitchFailed, err)
	}
	o.refreshBalance(ctx)
	return nil
}

// connectProvider runs NetworkVerified → ProviderConnected.
func (o *Orchestrator) connectProvider(ctx context.Context) error {
	if err := o.provider.Health(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return nil
}

// authenticate runs ProviderConnected → Authenticated. A token already held
// is reused as-is; only its rejection forces a new challenge on the next
// attempt. Failure here does not roll back earlier stages.
func (o *Orchestrator) authenticate(ctx context.Context) error {
	addr := *o.sess.State().Address

	if o.sess.Token() != "" {
		profile, err := o.provider.Profile(ctx)
		if err == nil {
			if err := o.sess.SetProfile(profile); err != nil {
				return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
			}
			return nil
		}
		if !errors.Is(err, msp.ErrUnauthorized) {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		// Stale token: drop it and fall through to a fresh challenge.
		o.log.Info("held session token rejected, re-authenticating", "address", addr.Hex())
		if err := o.sess.SetToken(""); err != nil {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
	}

	message, err := o.provider.Nonce(ctx, addr.Hex(), o.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("%w: challenge: %w", ErrAuthenticationFailed, err)
	}
	signature, err := o.wallet.SignMessage(ctx, addr, []byte(message))
	if err != nil {
		return fmt.Errorf("%w: sign challenge: %w", ErrAuthenticationFailed, err)
	}
	sess, err := o.provider.Verify(ctx, message, signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if err := o.sess.SetToken(sess.Token); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	profile, err := o.provider.Profile(ctx)
	if err != nil {
		// Degrade to the profile returned by verification.
		profile = &sess.Profile
	}
	if err := o.sess.SetProfile(profile); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	return nil
}

// Disconnect tears down all sub-clients and clears persisted state.
// It never fails.
func (o *Orchestrator) Disconnect(_ context.Context) {
	o.adapter.Unbind()
	o.sess.Reset()
	o.stage = StageDisconnected
	o.log.Info("disconnected")
}

// Restore attempts silent resumption from persisted state: it re-verifies
// the wallet still authorizes the stored address without prompting, and
// re-establishes the write client. A held session token is reused as-is;
// the authentication challenge is never re-run here. When the wallet no
// longer authorizes the address, everything is cleared and the machine
// resets to Disconnected.
func (o *Orchestrator) Restore(ctx context.Context) error {
	restored, err := o.sess.Restore()
	if err != nil {
		return fmt.Errorf("orchestrator: restore: %w", err)
	}
	if !restored {
		return nil
	}
	addr := *o.sess.State().Address

	accounts, err := o.wallet.Accounts(ctx)
	if err != nil || !containsAddress(accounts, addr) {
		o.log.Info("persisted address no longer authorized, resetting", "address", addr.Hex())
		o.Disconnect(ctx)
		return nil
	}

	if err := o.bindWriteClient(); err != nil {
		o.Disconnect(ctx)
		return fmt.Errorf("orchestrator: restore write client: %w", err)
	}
	o.stage = StageWalletAuthorized
	o.log.Info("session restored", "address", addr.Hex(), "token_held", o.sess.Token() != "")
	return nil
}

func (o *Orchestrator) bindWriteClient() error {
	addr := *o.sess.State().Address
	signer, err := o.wallet.Signer(addr, o.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("orchestrator: wallet signer: %w", err)
	}
	o.adapter.Bind(addr, signer)
	return nil
}

// refreshBalance is best effort: failures degrade to an unknown balance.
func (o *Orchestrator) refreshBalance(ctx context.Context) {
	bal, err := o.adapter.Balance(ctx)
	if err != nil {
		o.log.Debug("balance refresh failed", "error", err)
		return
	}
	o.log.Debug("balance refreshed", "wei", bal.String())
}

func (o *Orchestrator) identity() *Identity {
	state := o.sess.State()
	return &Identity{Address: *state.Address, Profile: state.Profile}
}

func containsAddress(accounts []common.Address, addr common.Address) bool {
	for _, a := range accounts {
		if a == addr {
			return true
		}
	}
	return false
}
