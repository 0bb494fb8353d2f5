// Package upload implements the proof upload workflow: fingerprint locally,
// anchor a storage request on-chain, push the bytes to the storage provider
// and return a verifiable receipt. Provider confirmation is a separate,
// explicitly polled follow-up.
package upload

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
)

// Workflow drives proof uploads against one bound account. Uploads are
// single-flight: a second UploadProof while one is running is rejected
// with ErrBusy.
type Workflow struct {
	adapter  *chain.Adapter
	fs       *chain.FileSystem
	provider *msp.Client
	cfg      Config
	log      *slog.Logger

	busy atomic.Bool
}

// NewWorkflow creates a Workflow. The adapter must have an account bound
// before UploadProof is called.
func NewWorkflow(adapter *chain.Adapter, fs *chain.FileSystem, provider *msp.Client, cfg Config, log *slog.Logger) *Workflow {
	if cfg.ReplicaCount == 0 {
		cfg.ReplicaCount = 1
	}
	if cfg.ConfirmInterval == 0 {
		cfg.ConfirmInterval = 2 * time.Second
	}
	if cfg.ConfirmAttempts == 0 {
		cfg.ConfirmAttempts = 30
	}
	return &Workflow{adapter: adapter, fs: fs, provider: provider, cfg: cfg, log: log}
}

// UploadProof commits payload under (bucketID, fileName): exactly one ledger
// transaction and one off-chain byte transfer on success. Failures before
// the transaction leave no side effects; failures after it may leave an
// on-chain request without bytes, which callers must reconcile manually.
func (w *Workflow) UploadProof(ctx context.Context, bucketID [32]byte, fileName string, payload []byte) (*Receipt, error) {
	if !w.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer w.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload: context cancelled before upload: %w", err)
	}

	owner, bound := w.adapter.Account()
	if !bound {
		return nil, fmt.Errorf("upload: %w", chain.ErrNoAccountBound)
	}

	// 1. Local fingerprint and size, no network involved.
	fingerprint := Fingerprint(payload)
	size := uint64(len(payload))

	// 2. Provider connection parameters, with the degraded self-id fallback.
	addrs, err := w.provider.ResolveAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: resolve provider addresses: %w", err)
	}
	info, err := w.provider.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: provider info: %w", err)
	}

	// 3. Fee parameters from the current base fee.
	fees, err := w.adapter.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: fee parameters: %w", err)
	}

	// 4. On-chain storage request.
	opts, err := w.adapter.TransactOpts(ctx, fees)
	if err != nil {
		return nil, fmt.Errorf("upload: transact opts: %w", err)
	}
	tx, err := w.fs.IssueStorageRequest(opts, chain.StorageRequestParams{
		BucketID:         bucketID,
		FileName:         fileName,
		Fingerprint:      fingerprint,
		Size:             size,
		MSPID:            info.ID,
		PeerIDs:          addrs.PeerIDs,
		ReplicationLevel: chain.ReplicationCustom,
		ReplicaCount:     w.cfg.ReplicaCount,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: submit storage request: %w", err)
	}
	if _, err := w.adapter.WaitMined(ctx, tx); err != nil {
		if errors.Is(err, chain.ErrTxReverted) {
			return nil, fmt.Errorf("upload: storage request tx %s: %w", tx.Hash().Hex(), ErrTransactionFailed)
		}
		return nil, fmt.Errorf("upload: storage request receipt: %w", err)
	}

	// 5. Read-your-write check on the ledger.
	fileKey := chain.DeriveFileKey(owner, bucketID, fileName)
	if _, err := w.fs.StorageRequest(ctx, fileKey); err != nil {
		if errors.Is(err, chain.ErrRequestNotFound) {
			return nil, fmt.Errorf("upload: request %s absent after mined tx: %w",
				common.Hash(fileKey).Hex(), ErrConsistency)
		}
		return nil, fmt.Errorf("upload: verify storage request: %w", err)
	}

	// 6. Off-chain bytes.
	if err := w.provider.UploadFile(ctx, common.Hash(bucketID).Hex(), common.Hash(fileKey).Hex(), fileName, payload); err != nil {
		return nil, fmt.Errorf("upload: push bytes for %s: %w: %w",
			common.Hash(fileKey).Hex(), err, ErrUploadFailed)
	}

	receipt := &Receipt{
		FileKey:     common.Hash(fileKey),
		FileName:    fileName,
		BucketID:    common.Hash(bucketID),
		Fingerprint: common.Hash(fingerprint),
		TxHash:      tx.Hash(),
		ExplorerURL: w.cfg.ExplorerBaseURL + "/tx/" + tx.Hash().Hex(),
		Timestamp:   time.Now().UTC(),
	}
	w.log.Info("proof uploaded",
		"file_key", receipt.FileKey.Hex(),
		"bucket", receipt.BucketID.Hex(),
		"tx", receipt.TxHash.Hex(),
		"size", size)
	return receipt, nil
}

// WaitForProviderConfirmation polls the on-chain request's provider status
// at a fixed interval up to a bounded attempt count. The provider drives the
// transition; this only observes it. A request that disappears before
// confirmation is ErrRequestVanished, distinct from ErrConfirmationTimeout.
func (w *Workflow) WaitForProviderConfirmation(ctx context.Context, fileKey [32]byte) (chain.MSPFileStatus, error) {
	ticker := time.NewTicker(w.cfg.ConfirmInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= w.cfg.ConfirmAttempts; attempt++ {
		req, err := w.fs.StorageRequest(ctx, fileKey)
		if err != nil {
			if errors.Is(err, chain.ErrRequestNotFound) {
				return chain.MSPStatusPending, fmt.Errorf("upload: request %s: %w",
					common.Hash(fileKey).Hex(), ErrRequestVanished)
			}
			return chain.MSPStatusPending, fmt.Errorf("upload: poll confirmation: %w", err)
		}
		if req.MSPStatus.Accepted() {
			w.log.Info("provider confirmed file",
				"file_key", common.Hash(fileKey).Hex(),
				"status", req.MSPStatus.String(),
				"attempts", attempt)
			return req.MSPStatus, nil
		}

		if attempt == w.cfg.ConfirmAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return chain.MSPStatusPending, fmt.Errorf("upload: context cancelled while polling %s: %w",
				common.Hash(fileKey).Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
	return chain.MSPStatusPending, fmt.Errorf("upload: %s after %d attempts: %w",
		common.Hash(fileKey).Hex(), w.cfg.ConfirmAttempts, ErrConfirmationTimeout)
}
