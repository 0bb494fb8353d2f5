// Package bucket ensures a namespaced storage container exists on-chain and
// is indexed by the storage provider before any upload, idempotently.
package bucket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/datahaven-labs/datahaven-go/internal/chain"
	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/session"
)

// Sentinel errors for bucket resolution.
var (
	// ErrIndexTimeout reports that the provider's index did not reflect a
	// newly created bucket within the poll budget.
	ErrIndexTimeout = errors.New("bucket: provider index did not catch up")

	// ErrBusy reports a second resolution attempted while one is running.
	ErrBusy = errors.New("bucket: a resolution is already in flight")
)

// Config holds the resolver's polling parameters.
type Config struct {
	// Private marks created buckets private on-chain.
	Private bool

	// PollInterval is the fixed delay between provider index polls.
	// Defaults to 2s if zero.
	PollInterval time.Duration

	// PollAttempts bounds index polling. Defaults to 15 if zero.
	PollAttempts int
}

// Resolution is the outcome of EnsureBucket.
type Resolution struct {
	ID            common.Hash
	Name          string
	AlreadyExists bool
}

// Resolver resolves buckets for the session's connected owner. Resolutions
// are single-flight; a concurrent EnsureBucket is rejected with ErrBusy.
type Resolver struct {
	adapter  *chain.Adapter
	fs       *chain.FileSystem
	provider *msp.Client
	sess     *session.Session
	cfg      Config
	log      *slog.Logger

	busy atomic.Bool
}

// NewResolver creates a Resolver.
func NewResolver(adapter *chain.Adapter, fs *chain.FileSystem, provider *msp.Client, sess *session.Session, cfg Config, log *slog.Logger) *Resolver {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 15
	}
	return &Resolver{adapter: adapter, fs: fs, provider: provider, sess: sess, cfg: cfg, log: log}
}

// EnsureBucket returns the bucket id for name, creating the bucket on-chain
// only when neither the session cache, the provider index nor the chain
// already knows it. Creation waits for the provider's index to catch up,
// since on-chain confirmation and off-chain indexing are not synchronized.
func (r *Resolver) EnsureBucket(ctx context.Context, name string) (*Resolution, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("bucket: context cancelled: %w", err)
	}

	owner, bound := r.adapter.Account()
	if !bound {
		return nil, fmt.Errorf("bucket: %w", chain.ErrNoAccountBound)
	}

	if id, ok := r.sess.ActiveBucket(); ok {
		return &Resolution{ID: common.Hash(id), Name: name, AlreadyExists: true}, nil
	}

	id := chain.DeriveBucketID(owner, name)

	// Best-effort provider listing; a failure degrades to an empty list
	// rather than failing the resolution.
	if buckets, err := r.provider.ListBuckets(ctx); err != nil {
		r.log.Debug("bucket listing unavailable", "error", err)
	} else {
		for _, b := range buckets {
			if b.Name == name {
				r.sess.SetActiveBucket(id)
				return &Resolution{ID: common.Hash(id), Name: name, AlreadyExists: true}, nil
			}
		}
	}

	exists, err := r.fs.BucketExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("bucket: existence check: %w", err)
	}
	if exists {
		r.sess.SetActiveBucket(id)
		return &Resolution{ID: common.Hash(id), Name: name, AlreadyExists: true}, nil
	}

	if err := r.create(ctx, id, name); err != nil {
		return nil, err
	}
	if err := r.waitIndexed(ctx, id); err != nil {
		return nil, err
	}

	r.sess.SetActiveBucket(id)
	r.log.Info("bucket created", "bucket", common.Hash(id).Hex(), "name", name)
	return &Resolution{ID: common.Hash(id), Name: name, AlreadyExists: false}, nil
}

func (r *Resolver) create(ctx context.Context, id [32]byte, name string) error {
	fees, err := r.adapter.SuggestFees(ctx)
	if err != nil {
		return fmt.Errorf("bucket: fee parameters: %w", err)
	}
	opts, err := r.adapter.TransactOpts(ctx, fees)
	if err != nil {
		return fmt.Errorf("bucket: transact opts: %w", err)
	}
	tx, err := r.fs.CreateBucket(opts, id, name, r.cfg.Private)
	if err != nil {
		return fmt.Errorf("bucket: create %q: %w", name, err)
	}
	if _, err := r.adapter.WaitMined(ctx, tx); err != nil {
		return fmt.Errorf("bucket: create %q: %w", name, err)
	}
	return nil
}

func (r *Resolver) waitIndexed(ctx context.Context, id [32]byte) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= r.cfg.PollAttempts; attempt++ {
		_, err := r.provider.GetBucket(ctx, common.Hash(id).Hex())
		if err == nil {
			return nil
		}
		if !errors.Is(err, msp.ErrBucketUnknown) {
			return fmt.Errorf("bucket: index poll: %w", err)
		}

		if attempt == r.cfg.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bucket: context cancelled while polling index: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return fmt.Errorf("bucket: %s after %d attempts: %w",
		common.Hash(id).Hex(), r.cfg.PollAttempts, ErrIndexTimeout)
}
