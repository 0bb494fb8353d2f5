package bucket_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/datahaven-labs/datahaven-go/internal/bucket"
	"github.com/datahaven-labs/datahaven-go/internal/chain"
	"github.com/datahaven-labs/datahaven-go/internal/chain/chaintest"
	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/msp/msptest"
	"github.com/datahaven-labs/datahaven-go/internal/session"
	"github.com/datahaven-labs/datahaven-go/internal/wallet"
)

const (
	testKey      = "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	testContract = "0x0000000000000000000000000000000000000404"
)

type fixture struct {
	owner    common.Address
	sim      *chaintest.FileSystemSim
	backend  *chaintest.MockBackend
	srv      *msptest.Server
	sess     *session.Session
	adapter  *chain.Adapter
	resolver *bucket.Resolver
}

func newFixture(t *testing.T, cfg bucket.Config) *fixture {
	t.Helper()
	w, err := wallet.NewKeyWallet(testKey)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := w.Signer(w.Address(), 55931)
	if err != nil {
		t.Fatal(err)
	}

	sim := chaintest.NewFileSystemSim(w.Address())
	backend := sim.Backend()
	log := slog.New(slog.DiscardHandler)

	adapter := chain.NewAdapter(backend, 55931, log)
	adapter.Bind(w.Address(), signer)
	fs := chain.NewFileSystem(testContract, backend)

	srv := msptest.New(t)
	sess := session.New(nil)
	token := srv.GrantSession(w.Address().Hex())
	provider := msp.NewClient(msp.ClientConfig{BaseURL: srv.URL()}, func() string { return token }, log)

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return &fixture{
		owner:    w.Address(),
		sim:      sim,
		backend:  backend,
		srv:      srv,
		sess:     sess,
		adapter:  adapter,
		resolver: bucket.NewResolver(adapter, fs, provider, sess, cfg, log),
	}
}

func TestEnsureBucket_CreatesAndWaitsForIndex(t *testing.T) {
	f := newFixture(t, bucket.Config{})
	id := common.Hash(chain.DeriveBucketID(f.owner, "proofs"))

	// The provider's index catches up shortly after the transaction mines.
	timer := time.AfterFunc(25*time.Millisecond, func() {
		f.srv.IndexBucket(id.Hex(), "proofs")
	})
	defer timer.Stop()

	res, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	if res.AlreadyExists {
		t.Error("fresh bucket reported as already existing")
	}
	if res.ID != id {
		t.Errorf("bucket id = %s, want %s", res.ID.Hex(), id.Hex())
	}
	if f.sim.TxCount() != 1 {
		t.Errorf("tx count = %d, want exactly one create", f.sim.TxCount())
	}
	if cached, ok := f.sess.ActiveBucket(); !ok || common.Hash(cached) != id {
		t.Error("resolved bucket should be cached on the session")
	}
}

func TestEnsureBucket_OnChainShortCircuit(t *testing.T) {
	f := newFixture(t, bucket.Config{})
	id := common.Hash(chain.DeriveBucketID(f.owner, "proofs"))
	f.sim.SetBucket(id)

	res, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyExists {
		t.Error("existing bucket not reported as such")
	}
	if f.sim.TxCount() != 0 {
		t.Errorf("existing bucket must not cost a transaction, got %d", f.sim.TxCount())
	}
}

func TestEnsureBucket_ProviderIndexMatch(t *testing.T) {
	f := newFixture(t, bucket.Config{})
	id := common.Hash(chain.DeriveBucketID(f.owner, "proofs"))
	f.srv.IndexBucket(id.Hex(), "proofs")

	res, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyExists || res.ID != id {
		t.Errorf("resolution = %+v", res)
	}
	if f.sim.TxCount() != 0 {
		t.Errorf("indexed bucket must not cost a transaction, got %d", f.sim.TxCount())
	}
}

func TestEnsureBucket_SessionCache(t *testing.T) {
	f := newFixture(t, bucket.Config{})
	id := common.Hash(chain.DeriveBucketID(f.owner, "proofs"))
	f.sess.SetActiveBucket(id)
	hits := f.srv.Hits()

	res, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyExists || res.ID != id {
		t.Errorf("resolution = %+v", res)
	}
	if f.srv.Hits() != hits {
		t.Error("cached bucket must not touch the provider")
	}
	if f.sim.TxCount() != 0 {
		t.Error("cached bucket must not touch the chain")
	}
}

func TestEnsureBucket_IndexTimeout(t *testing.T) {
	f := newFixture(t, bucket.Config{PollInterval: time.Millisecond, PollAttempts: 3})

	_, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if !errors.Is(err, bucket.ErrIndexTimeout) {
		t.Fatalf("expected ErrIndexTimeout, got %v", err)
	}
	// The on-chain create did happen; only indexing lagged.
	if f.sim.TxCount() != 1 {
		t.Errorf("tx count = %d, want 1", f.sim.TxCount())
	}
}

func TestEnsureBucket_SingleFlight(t *testing.T) {
	f := newFixture(t, bucket.Config{PollInterval: time.Millisecond, PollAttempts: 2})

	inner := f.backend.CallFn
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.CallFn = func(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
		once.Do(func() { close(entered) })
		<-release
		return inner(ctx, call)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.EnsureBucket(context.Background(), "proofs")
		done <- err
	}()

	<-entered
	_, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if !errors.Is(err, bucket.ErrBusy) {
		t.Fatalf("expected ErrBusy while a resolution is in flight, got %v", err)
	}

	close(release)
	// The released resolution still times out on the unindexed bucket;
	// only the busy rejection is under test here.
	if err := <-done; !errors.Is(err, bucket.ErrIndexTimeout) {
		t.Fatalf("released resolution: %v", err)
	}
}

func TestEnsureBucket_RequiresBoundAccount(t *testing.T) {
	f := newFixture(t, bucket.Config{})
	f.adapter.Unbind()

	_, err := f.resolver.EnsureBucket(context.Background(), "proofs")
	if !errors.Is(err, chain.ErrNoAccountBound) {
		t.Fatalf("expected ErrNoAccountBound, got %v", err)
	}
}
