package chain

import "errors"

// Sentinel errors for chain operations.
var (
	ErrNoAccountBound     = errors.New("chain: no account bound to adapter")
	ErrFeeUnavailable     = errors.New("chain: network does not expose a base fee")
	ErrTxReverted         = errors.New("chain: transaction reverted")
	ErrBucketNotFound     = errors.New("chain: bucket not found")
	ErrRequestNotFound    = errors.New("chain: storage request not found")
	ErrUnexpectedCallData = errors.New("chain: unexpected contract call result")
)

// MSPFileStatus is the storage provider's confirmation status recorded on a
// storage request. The transition out of Pending is driven by the provider's
// own background process; clients only observe it.
type MSPFileStatus uint8

const (
	MSPStatusPending          MSPFileStatus = 0
	MSPStatusAcceptedNewFile  MSPFileStatus = 1
	MSPStatusAcceptedExisting MSPFileStatus = 2
	MSPStatusRejected         MSPFileStatus = 3
)

// Accepted reports whether the status is one of the acceptance variants.
func (s MSPFileStatus) Accepted() bool {
	return s == MSPStatusAcceptedNewFile || s == MSPStatusAcceptedExisting
}

func (s MSPFileStatus) String() string {
	switch s {
	case MSPStatusPending:
		return "pending"
	case MSPStatusAcceptedNewFile:
		return "accepted-new"
	case MSPStatusAcceptedExisting:
		return "accepted-existing"
	case MSPStatusRejected:
		return "rejected"
	}
	return "unknown"
}

// ReplicationLevel selects how a storage request's replica count is chosen.
type ReplicationLevel uint8

const (
	ReplicationBasic  ReplicationLevel = 0
	ReplicationCustom ReplicationLevel = 1
)

// StorageRequestParams are the on-chain parameters for issueStorageRequest.
type StorageRequestParams struct {
	BucketID         [32]byte
	FileName         string
	Fingerprint      [32]byte
	Size             uint64
	MSPID            string
	PeerIDs          []string
	ReplicationLevel ReplicationLevel
	ReplicaCount     uint32
}

// StorageRequest is the on-chain record observed for a file key.
type StorageRequest struct {
	FileKey     [32]byte
	Fingerprint [32]byte
	Size        uint64
	MSPStatus   MSPFileStatus
}
