package orchestrator_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/datahaven-labs/datahaven-go/internal/chain"
	"github.com/datahaven-labs/datahaven-go/internal/chain/chaintest"
	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/msp/msptest"
	"github.com/datahaven-labs/datahaven-go/internal/orchestrator"
	"github.com/datahaven-labs/datahaven-go/internal/session"
	"github.com/datahaven-labs/datahaven-go/internal/wallet"
)

const (
	testKey     = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	testChainID = 55931
)

type fixture struct {
	orch    *orchestrator.Orchestrator
	wallet  *wallet.KeyWallet
	srv     *msptest.Server
	sess    *session.Session
	adapter *chain.Adapter
}

// newFixture wires an orchestrator against a fake provider and a mock chain
// backend. The wallet starts without knowledge of the target chain, so a
// full handshake also exercises chain registration.
func newFixture(t *testing.T, store session.Store) *fixture {
	t.Helper()
	w, err := wallet.NewKeyWallet(testKey)
	if err != nil {
		t.Fatal(err)
	}
	srv := msptest.New(t)
	sess := session.New(store)
	log := slog.New(slog.DiscardHandler)
	adapter := chain.NewAdapter(&chaintest.MockBackend{}, testChainID, log)
	provider := msp.NewClient(msp.ClientConfig{BaseURL: srv.URL()}, sess.Token, log)

	cfg := orchestrator.Config{
		ChainID:   testChainID,
		ChainName: "DataHaven Testnet",
		Currency:  "HAVE",
		RPCURL:    "http://localhost:8545",
	}
	return &fixture{
		orch:    orchestrator.New(cfg, w, adapter, provider, sess, log),
		wallet:  w,
		srv:     srv,
		sess:    sess,
		adapter: adapter,
	}
}

func TestEnsureFullyConnected(t *testing.T) {
	f := newFixture(t, nil)

	identity, err := f.orch.EnsureFullyConnected(context.Background())
	if err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if identity.Address != f.wallet.Address() {
		t.Errorf("identity address = %s, want %s", identity.Address.Hex(), f.wallet.Address().Hex())
	}
	if identity.Profile == nil || identity.Profile.Address != f.wallet.Address().Hex() {
		t.Errorf("identity profile = %+v", identity.Profile)
	}
	if f.orch.Stage() != orchestrator.StageAuthenticated {
		t.Errorf("stage = %s, want authenticated", f.orch.Stage())
	}

	state := f.sess.State()
	if !state.NetworkVerified || state.Token == "" {
		t.Errorf("session state incomplete: %+v", state)
	}
	if _, bound := f.adapter.Account(); !bound {
		t.Error("write client should be bound after the handshake")
	}
}

func TestEnsureFullyConnected_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.orch.EnsureFullyConnected(ctx)
	if err != nil {
		t.Fatal(err)
	}
	hits := f.srv.Hits()

	second, err := f.orch.EnsureFullyConnected(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.srv.Hits() != hits {
		t.Errorf("repeat call made %d extra provider requests, want 0", f.srv.Hits()-hits)
	}
	if first.Address != second.Address {
		t.Errorf("identity changed between calls: %s vs %s", first.Address.Hex(), second.Address.Hex())
	}
}

func TestEnsureFullyConnected_WalletDenied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f := newFixture(t, session.NewFileStore(path))
	f.wallet.DenyAccess = true

	_, err := f.orch.EnsureFullyConnected(context.Background())
	if !errors.Is(err, orchestrator.ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}
	if f.orch.Stage() != orchestrator.StageDisconnected {
		t.Errorf("stage = %s, want disconnected", f.orch.Stage())
	}
	if f.sess.State().Address != nil {
		t.Error("no address should be recorded on denial")
	}
	if !errors.Is(f.sess.LastError(), orchestrator.ErrWalletUnavailable) {
		t.Errorf("session last error = %v", f.sess.LastError())
	}

	// Nothing persisted either.
	fresh := session.New(session.NewFileStore(path))
	if ok, _ := fresh.Restore(); ok {
		t.Error("denied handshake must not persist state")
	}
}

func TestEnsureFullyConnected_ProviderDownThenRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.Healthy = false
	ctx := context.Background()

	_, err := f.orch.EnsureFullyConnected(ctx)
	if !errors.Is(err, orchestrator.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if f.orch.Stage() != orchestrator.StageNetworkVerified {
		t.Errorf("stage = %s, want network-verified kept for retry", f.orch.Stage())
	}
	if f.sess.State().Address == nil {
		t.Fatal("completed wallet stage should survive a provider failure")
	}

	f.srv.Healthy = true
	if _, err := f.orch.EnsureFullyConnected(ctx); err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if f.orch.Stage() != orchestrator.StageAuthenticated {
		t.Errorf("stage = %s, want authenticated", f.orch.Stage())
	}
	if f.sess.LastError() != nil {
		t.Errorf("successful retry should clear the held error, got %v", f.sess.LastError())
	}
}

func TestEnsureFullyConnected_AuthFailureThenRetry(t *testing.T) {
	f := newFixture(t, nil)
	f.srv.FailVerify = true
	ctx := context.Background()

	_, err := f.orch.EnsureFullyConnected(ctx)
	if !errors.Is(err, orchestrator.ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if f.orch.Stage() != orchestrator.StageProviderConnected {
		t.Errorf("stage = %s, want provider-connected kept for retry", f.orch.Stage())
	}

	f.srv.FailVerify = false
	identity, err := f.orch.EnsureFullyConnected(ctx)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if identity.Profile == nil {
		t.Error("retry should produce an authenticated profile")
	}
}

// gatedWallet blocks RequestAccounts until released, to hold a handshake in
// flight.
type gatedWallet struct {
	*wallet.KeyWallet
	entered sync.Once
	gate    chan struct{}
	release chan struct{}
}

func (g *gatedWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	g.entered.Do(func() { close(g.gate) })
	<-g.release
	return g.KeyWallet.RequestAccounts(ctx)
}

func TestEnsureFullyConnected_Busy(t *testing.T) {
	f := newFixture(t, nil)
	gw := &gatedWallet{
		KeyWallet: f.wallet,
		gate:      make(chan struct{}),
		release:   make(chan struct{}),
	}
	sess := session.New(nil)
	log := slog.New(slog.DiscardHandler)
	provider := msp.NewClient(msp.ClientConfig{BaseURL: f.srv.URL()}, sess.Token, log)
	orch := orchestrator.New(orchestrator.Config{ChainID: testChainID}, gw, f.adapter, provider, sess, log)

	done := make(chan error, 1)
	go func() {
		_, err := orch.EnsureFullyConnected(context.Background())
		done <- err
	}()

	<-gw.gate
	if _, err := orch.EnsureFullyConnected(context.Background()); !errors.Is(err, orchestrator.ErrBusy) {
		t.Fatalf("expected ErrBusy while a handshake is in flight, got %v", err)
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("released handshake failed: %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f := newFixture(t, session.NewFileStore(path))
	ctx := context.Background()

	if _, err := f.orch.EnsureFullyConnected(ctx); err != nil {
		t.Fatal(err)
	}
	f.orch.Disconnect(ctx)

	if f.orch.Stage() != orchestrator.StageDisconnected {
		t.Errorf("stage = %s, want disconnected", f.orch.Stage())
	}
	if f.sess.State().Address != nil || f.sess.Token() != "" {
		t.Error("session state should be cleared")
	}
	if _, bound := f.adapter.Account(); bound {
		t.Error("write client should be unbound")
	}
	fresh := session.New(session.NewFileStore(path))
	if ok, _ := fresh.Restore(); ok {
		t.Error("persisted state should be cleared on disconnect")
	}
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	first := newFixture(t, session.NewFileStore(path))
	ctx := context.Background()

	if _, err := first.orch.EnsureFullyConnected(ctx); err != nil {
		t.Fatal(err)
	}
	token := first.sess.Token()

	// A new orchestrator over the same wallet and store resumes silently.
	sess := session.New(session.NewFileStore(path))
	log := slog.New(slog.DiscardHandler)
	adapter := chain.NewAdapter(&chaintest.MockBackend{}, testChainID, log)
	provider := msp.NewClient(msp.ClientConfig{BaseURL: first.srv.URL()}, sess.Token, log)
	orch := orchestrator.New(orchestrator.Config{ChainID: testChainID}, first.wallet, adapter, provider, sess, log)

	if err := orch.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if orch.Stage() != orchestrator.StageWalletAuthorized {
		t.Errorf("stage = %s, want wallet-authorized", orch.Stage())
	}
	state := sess.State()
	if state.Address == nil || *state.Address != first.wallet.Address() {
		t.Errorf("restored address = %v", state.Address)
	}
	if sess.Token() != token {
		t.Error("held session token should be restored")
	}
	if _, bound := adapter.Account(); !bound {
		t.Error("restore should re-establish the write client")
	}
}

func TestRestore_WalletRevoked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	f := newFixture(t, session.NewFileStore(path))
	ctx := context.Background()

	if _, err := f.orch.EnsureFullyConnected(ctx); err != nil {
		t.Fatal(err)
	}
	f.wallet.Revoke()

	sess := session.New(session.NewFileStore(path))
	log := slog.New(slog.DiscardHandler)
	adapter := chain.NewAdapter(&chaintest.MockBackend{}, testChainID, log)
	provider := msp.NewClient(msp.ClientConfig{BaseURL: f.srv.URL()}, sess.Token, log)
	orch := orchestrator.New(orchestrator.Config{ChainID: testChainID}, f.wallet, adapter, provider, sess, log)

	if err := orch.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if orch.Stage() != orchestrator.StageDisconnected {
		t.Errorf("stage = %s, want disconnected after revocation", orch.Stage())
	}
	if sess.State().Address != nil {
		t.Error("revoked session should be fully cleared")
	}
}
