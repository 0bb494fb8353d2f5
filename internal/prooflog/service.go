// Package prooflog builds tamper-evident receipts for inference metadata.
// A receipt's verification block is a deterministic hash chain over the
// entry (content hash → leaf → root) plus an HMAC signature under a
// server-held secret; everything but the signature is independently
// recomputable by any holder of the entry.
package prooflog

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service derives proof log receipts. Pure deterministic derivation except
// for the log id and timestamp, both injectable for tests.
type Service struct {
	secret []byte
	now    func() time.Time
	newID  func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides capture-time stamping.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides log id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a Service signing with secret.
func NewService(secret []byte, opts ...Option) *Service {
	s := &Service{
		secret: secret,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LogInference validates the entry, applies defaults and derives the
// receipt. Rejects with ErrMissingField when request id, route or provider
// is absent.
func (s *Service) LogInference(entry Entry) (*Receipt, error) {
	if entry.RequestID == "" {
		return nil, fmt.Errorf("prooflog: request_id: %w", ErrMissingField)
	}
	if entry.Route == "" {
		return nil, fmt.Errorf("prooflog: route: %w", ErrMissingField)
	}
	if entry.Provider == "" {
		return nil, fmt.Errorf("prooflog: provider: %w", ErrMissingField)
	}
	if entry.UserID == "" {
		entry.UserID = "anonymous"
	}

	logID := s.newID()
	ts := s.now().UTC()
	return s.derive(logID, ts, entry), nil
}

// canonicalEntry fixes the field order hashed into the content hash.
type canonicalEntry struct {
	LogID        string  `json:"log_id"`
	RequestID    string  `json:"request_id"`
	UserID       string  `json:"user_id"`
	Route        string  `json:"route"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TokenCount   int     `json:"token_count"`
	LatencyMs    float64 `json:"latency_ms"`
	PrivacyLevel string  `json:"privacy_level"`
	CostEstimate float64 `json:"cost_estimate"`
	PolicyMode   string  `json:"policy_mode"`
	Timestamp    string  `json:"timestamp"`
}

func (s *Service) derive(logID string, ts time.Time, entry Entry) *Receipt {
	stamp := ts.Format(time.RFC3339Nano)

	canonical, _ := json.Marshal(canonicalEntry{
		LogID:        logID,
		RequestID:    entry.RequestID,
		UserID:       entry.UserID,
		Route:        entry.Route,
		Provider:     entry.Provider,
		Model:        entry.Model,
		TokenCount:   entry.TokenCount,
		LatencyMs:    entry.LatencyMs,
		PrivacyLevel: entry.PrivacyLevel,
		CostEstimate: entry.CostEstimate,
		PolicyMode:   entry.PolicyMode,
		Timestamp:    stamp,
	})

	contentHash := hexSHA256(canonical)
	merkleLeaf := hexSHA256([]byte(logID + contentHash))
	merkleRoot := hexSHA256([]byte(merkleLeaf + stamp))

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(contentHash + merkleRoot))
	signature := hex.EncodeToString(mac.Sum(nil))

	return &Receipt{
		LogID:     logID,
		Status:    "logged",
		Timestamp: ts,
		Verification: Verification{
			ContentHash: contentHash,
			MerkleLeaf:  merkleLeaf,
			MerkleRoot:  merkleRoot,
			Signature:   signature,
			Algorithm:   AlgorithmTag,
			Chain:       ChainTag,
		},
	}
}

// Recompute re-derives the hash chain for an entry given the receipt's log
// id and timestamp. Third parties use it to check a receipt without the
// service secret; the signature itself still requires the secret.
func Recompute(logID string, ts time.Time, entry Entry) Verification {
	svc := &Service{}
	derived := svc.derive(logID, ts, entry)
	v := derived.Verification
	v.Signature = ""
	return v
}

// VerifySignature checks a receipt's signature under the given secret.
func VerifySignature(secret []byte, v Verification) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(v.ContentHash + v.MerkleRoot))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(v.Signature))
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
