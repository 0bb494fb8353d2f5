package upload

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for the proof upload workflow.
var (
	ErrBusy                = errors.New("upload: an upload is already in flight")
	ErrTransactionFailed   = errors.New("upload: storage request transaction failed")
	ErrConsistency         = errors.New("upload: storage request missing after successful transaction")
	ErrUploadFailed        = errors.New("upload: off-chain byte upload failed")
	ErrConfirmationTimeout = errors.New("upload: provider confirmation not reached in time")
	ErrRequestVanished     = errors.New("upload: storage request vanished before confirmation")
)

// Receipt is the durable artifact of a successful upload. Immutable once
// produced; the session keeps them most recent first.
type Receipt struct {
	FileKey     common.Hash `json:"file_key"`
	FileName    string      `json:"file_name"`
	BucketID    common.Hash `json:"bucket_id"`
	Fingerprint common.Hash `json:"fingerprint"`
	TxHash      common.Hash `json:"tx_hash"`
	ExplorerURL string      `json:"explorer_url"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Config holds the workflow's fixed parameters.
type Config struct {
	// ExplorerBaseURL prefixes transaction hashes in receipt links.
	ExplorerBaseURL string

	// ReplicaCount is the replica count requested on-chain.
	// Defaults to 1 if zero.
	ReplicaCount uint32

	// ConfirmInterval is the fixed delay between confirmation polls.
	// Defaults to 2s if zero.
	ConfirmInterval time.Duration

	// ConfirmAttempts bounds confirmation polling. Defaults to 30 if zero.
	ConfirmAttempts int
}

// Fingerprint computes the content-derived digest of the exact bytes to be
// stored, before any network call.
func Fingerprint(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// MarshalPayload serializes an arbitrary payload to the exact bytes that
// will be fingerprinted and stored.
func MarshalPayload(v any) ([]byte, error) {
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("upload: serialize payload: %w", err)
	}
	return raw, nil
}
