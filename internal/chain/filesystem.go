package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const fileSystemABIJSON = `[
  {
    "name": "createBucket",
    "type": "function",
    "inputs": [
      {"name": "bucketId", "type": "bytes32"},
      {"name": "name", "type": "string"},
      {"name": "isPrivate", "type": "bool"}
    ],
    "outputs": []
  },
  {
    "name": "deleteBucket",
    "type": "function",
    "inputs": [
      {"name": "bucketId", "type": "bytes32"}
    ],
    "outputs": []
  },
  {
    "name": "bucketExists",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "bucketId", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "exists", "type": "bool"}
    ]
  },
  {
    "name": "issueStorageRequest",
    "type": "function",
    "inputs": [
      {"name": "bucketId", "type": "bytes32"},
      {"name": "fileName", "type": "string"},
      {"name": "fingerprint", "type": "bytes32"},
      {"name": "size", "type": "uint256"},
      {"name": "mspId", "type": "string"},
      {"name": "peerIds", "type": "string[]"},
      {"name": "replicationLevel", "type": "uint8"},
      {"name": "replicaCount", "type": "uint32"}
    ],
    "outputs": []
  },
  {
    "name": "storageRequests",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "fileKey", "type": "bytes32"}
    ],
    "outputs": [
      {"name": "fingerprint", "type": "bytes32"},
      {"name": "size", "type": "uint256"},
      {"name": "mspStatus", "type": "uint8"},
      {"name": "exists", "type": "bool"}
    ]
  },
  {
    "name": "NewBucket",
    "type": "event",
    "inputs": [
      {"name": "owner", "type": "address", "indexed": true},
      {"name": "bucketId", "type": "bytes32", "indexed": true}
    ]
  },
  {
    "name": "NewStorageRequest",
    "type": "event",
    "inputs": [
      {"name": "owner", "type": "address", "indexed": true},
      {"name": "fileKey", "type": "bytes32", "indexed": true}
    ]
  }
]`

var fileSystemABI = mustParseABI(fileSystemABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}

// FileSystemABI exposes the parsed contract ABI for test harnesses that need
// to encode call results.
func FileSystemABI() abi.ABI {
	return fileSystemABI
}

// DeriveBucketID computes the deterministic bucket identifier for an owner
// and bucket name. The same pair always yields the same id.
func DeriveBucketID(owner common.Address, name string) [32]byte {
	return crypto.Keccak256Hash(owner.Bytes(), []byte(name))
}

// DeriveFileKey computes the deterministic file key for a file within a
// bucket.
func DeriveFileKey(owner common.Address, bucketID [32]byte, fileName string) [32]byte {
	return crypto.Keccak256Hash(owner.Bytes(), bucketID[:], []byte(fileName))
}

// FileSystem wraps the DataHaven FileSystem contract: bucket lifecycle and
// storage request issuance/observation.
type FileSystem struct {
	backend  Backend
	contract *bind.BoundContract
}

// NewFileSystem binds the FileSystem contract at the given address.
func NewFileSystem(contractAddress string, backend Backend) *FileSystem {
	addr := common.HexToAddress(contractAddress)
	return &FileSystem{
		backend:  backend,
		contract: bind.NewBoundContract(addr, fileSystemABI, backend, backend, backend),
	}
}

// BucketExists reports whether a bucket is already recorded at the given id.
func (f *FileSystem) BucketExists(ctx context.Context, bucketID [32]byte) (bool, error) {
	var results []interface{}
	err := f.contract.Call(&bind.CallOpts{Context: ctx}, &results, "bucketExists", bucketID)
	if err != nil {
		return false, fmt.Errorf("chain: bucketExists call: %w", err)
	}
	if len(results) != 1 {
		return false, fmt.Errorf("chain: bucketExists returned %d values: %w", len(results), ErrUnexpectedCallData)
	}
	exists, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: bucketExists result type: %w", ErrUnexpectedCallData)
	}
	return exists, nil
}

// CreateBucket submits the bucket-creation transaction.
func (f *FileSystem) CreateBucket(opts *bind.TransactOpts, bucketID [32]byte, name string, private bool) (*types.Transaction, error) {
	tx, err := f.contract.Transact(opts, "createBucket", bucketID, name, private)
	if err != nil {
		return nil, fmt.Errorf("chain: createBucket tx: %w", err)
	}
	return tx, nil
}

// DeleteBucket submits the bucket-deletion transaction.
func (f *FileSystem) DeleteBucket(opts *bind.TransactOpts, bucketID [32]byte) (*types.Transaction, error) {
	tx, err := f.contract.Transact(opts, "deleteBucket", bucketID)
	if err != nil {
		return nil, fmt.Errorf("chain: deleteBucket tx: %w", err)
	}
	return tx, nil
}

// IssueStorageRequest submits the storage-request transaction for a file.
func (f *FileSystem) IssueStorageRequest(opts *bind.TransactOpts, params StorageRequestParams) (*types.Transaction, error) {
	tx, err := f.contract.Transact(opts, "issueStorageRequest",
		params.BucketID,
		params.FileName,
		params.Fingerprint,
		new(big.Int).SetUint64(params.Size),
		params.MSPID,
		params.PeerIDs,
		uint8(params.ReplicationLevel),
		params.ReplicaCount,
	)
	if err != nil {
		return nil, fmt.Errorf("chain: issueStorageRequest tx: %w", err)
	}
	return tx, nil
}

// StorageRequest reads the on-chain record for a file key. A missing record
// is ErrRequestNotFound.
func (f *FileSystem) StorageRequest(ctx context.Context, fileKey [32]byte) (*StorageRequest, error) {
	var results []interface{}
	err := f.contract.Call(&bind.CallOpts{Context: ctx}, &results, "storageRequests", fileKey)
	if err != nil {
		return nil, fmt.Errorf("chain: storageRequests call: %w", err)
	}
	if len(results) != 4 {
		return nil, fmt.Errorf("chain: storageRequests returned %d values: %w", len(results), ErrUnexpectedCallData)
	}

	fingerprint, ok := results[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("chain: storageRequests fingerprint type: %w", ErrUnexpectedCallData)
	}
	size, ok := results[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: storageRequests size type: %w", ErrUnexpectedCallData)
	}
	status, ok := results[2].(uint8)
	if !ok {
		return nil, fmt.Errorf("chain: storageRequests status type: %w", ErrUnexpectedCallData)
	}
	exists, ok := results[3].(bool)
	if !ok {
		return nil, fmt.Errorf("chain: storageRequests exists type: %w", ErrUnexpectedCallData)
	}
	if !exists {
		return nil, fmt.Errorf("chain: storage request %s: %w", common.Hash(fileKey).Hex(), ErrRequestNotFound)
	}

	return &StorageRequest{
		FileKey:     fileKey,
		Fingerprint: fingerprint,
		Size:        size.Uint64(),
		MSPStatus:   MSPFileStatus(status),
	}, nil
}
