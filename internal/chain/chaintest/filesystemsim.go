package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/datahaven-labs/datahaven-go/internal/chain"
)

// SimRequest is the simulator's view of an on-chain storage request.
type SimRequest struct {
	Fingerprint [32]byte
	Size        uint64
	Status      chain.MSPFileStatus
}

// FileSystemSim emulates the FileSystem contract over a MockBackend:
// transactions mutate in-memory bucket and storage-request state, and view
// calls read it back ABI-encoded. Tests inspect TxCount to assert how many
// transactions a flow submitted.
type FileSystemSim struct {
	mu sync.Mutex

	// Owner is the account the sim attributes submitted transactions to;
	// file keys are derived against it.
	Owner common.Address

	// AcceptStatus is the MSP status assigned to newly issued requests.
	AcceptStatus chain.MSPFileStatus

	buckets  map[common.Hash]bool
	requests map[common.Hash]SimRequest
	failAll  bool
	failedTx map[common.Hash]bool
	txCount  int
}

// NewFileSystemSim creates a simulator that attributes transactions to owner.
func NewFileSystemSim(owner common.Address) *FileSystemSim {
	return &FileSystemSim{
		Owner:    owner,
		buckets:  make(map[common.Hash]bool),
		requests: make(map[common.Hash]SimRequest),
		failedTx: make(map[common.Hash]bool),
	}
}

// Backend returns a MockBackend wired to this simulator.
func (s *FileSystemSim) Backend() *MockBackend {
	return &MockBackend{
		CallFn:    s.handleCall,
		SendTxFn:  s.handleTx,
		ReceiptFn: s.handleReceipt,
	}
}

// FailTransactions makes every subsequent transaction mine with a failed
// receipt and leave state untouched.
func (s *FileSystemSim) FailTransactions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = true
}

// SetBucket records a bucket as existing without a transaction.
func (s *FileSystemSim) SetBucket(bucketID [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucketID] = true
}

// SetRequestStatus updates the MSP status of an existing request.
func (s *FileSystemSim) SetRequestStatus(fileKey [32]byte, status chain.MSPFileStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[fileKey]
	if !ok {
		return
	}
	req.Status = status
	s.requests[fileKey] = req
}

// DropRequest removes a request entirely, as if it vanished on-chain.
func (s *FileSystemSim) DropRequest(fileKey [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, common.Hash(fileKey))
}

// Request returns the simulated request for a file key.
func (s *FileSystemSim) Request(fileKey [32]byte) (SimRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[fileKey]
	return req, ok
}

// TxCount reports how many transactions were submitted.
func (s *FileSystemSim) TxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCount
}

func (s *FileSystemSim) handleCall(_ context.Context, call ethereum.CallMsg) ([]byte, error) {
	if len(call.Data) < 4 {
		return nil, fmt.Errorf("chaintest: short calldata")
	}
	fsABI := chain.FileSystemABI()
	method, err := fsABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, fmt.Errorf("chaintest: unknown method: %w", err)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("chaintest: unpack %s: %w", method.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch method.Name {
	case "bucketExists":
		id := args[0].([32]byte)
		return method.Outputs.Pack(s.buckets[common.Hash(id)])
	case "storageRequests":
		key := args[0].([32]byte)
		req, ok := s.requests[common.Hash(key)]
		return method.Outputs.Pack(req.Fingerprint, new(big.Int).SetUint64(req.Size), uint8(req.Status), ok)
	}
	return nil, fmt.Errorf("chaintest: unhandled view %s", method.Name)
}

func (s *FileSystemSim) handleTx(_ context.Context, tx *types.Transaction) error {
	data := tx.Data()
	if len(data) < 4 {
		return fmt.Errorf("chaintest: short tx data")
	}
	fsABI := chain.FileSystemABI()
	method, err := fsABI.MethodById(data[:4])
	if err != nil {
		return fmt.Errorf("chaintest: unknown tx method: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return fmt.Errorf("chaintest: unpack tx %s: %w", method.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	if s.failAll {
		s.failedTx[tx.Hash()] = true
		return nil
	}

	switch method.Name {
	case "createBucket":
		id := args[0].([32]byte)
		s.buckets[common.Hash(id)] = true
	case "deleteBucket":
		id := args[0].([32]byte)
		delete(s.buckets, common.Hash(id))
	case "issueStorageRequest":
		bucketID := args[0].([32]byte)
		fileName := args[1].(string)
		fingerprint := args[2].([32]byte)
		size := args[3].(*big.Int)
		fileKey := chain.DeriveFileKey(s.Owner, bucketID, fileName)
		s.requests[common.Hash(fileKey)] = SimRequest{
			Fingerprint: fingerprint,
			Size:        size.Uint64(),
			Status:      s.AcceptStatus,
		}
	}
	return nil
}

func (s *FileSystemSim) handleReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := types.ReceiptStatusSuccessful
	if s.failedTx[txHash] {
		status = types.ReceiptStatusFailed
	}
	return &types.Receipt{
		Status: status,
		TxHash: txHash,
		Logs:   []*types.Log{},
	}, nil
}
