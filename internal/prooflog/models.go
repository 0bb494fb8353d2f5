package prooflog

import (
	"errors"
	"time"
)

// Sentinel errors for proof logging.
var (
	ErrMissingField = errors.New("prooflog: required field missing")
	ErrPIIContent   = errors.New("prooflog: raw prompt or response content not accepted")
	ErrServiceDown  = errors.New("prooflog: logging service unreachable")
	ErrLogRejected  = errors.New("prooflog: log entry rejected by service")
)

// Tags identifying the hash chain construction in receipts.
const (
	AlgorithmTag = "SHA256+HMAC-SHA256"
	ChainTag     = "datahaven"
)

// Entry is a metadata-only record of a completed inference. It never
// carries raw prompt or response content; that is an input-shape invariant
// enforced at the service boundary, not a convention.
type Entry struct {
	RequestID    string  `json:"request_id"`
	UserID       string  `json:"user_id,omitempty"`
	Route        string  `json:"route"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"`
	TokenCount   int     `json:"token_count,omitempty"`
	LatencyMs    float64 `json:"latency_ms,omitempty"`
	PrivacyLevel string  `json:"privacy_level,omitempty"`
	CostEstimate float64 `json:"cost_estimate,omitempty"`
	PolicyMode   string  `json:"policy_mode,omitempty"`
}

// Verification is the recomputable hash chain plus the service signature.
// Everything except Signature can be re-derived by any holder of the entry.
type Verification struct {
	ContentHash string `json:"content_hash"`
	MerkleLeaf  string `json:"merkle_leaf"`
	MerkleRoot  string `json:"merkle_root"`
	Signature   string `json:"signature"`
	Algorithm   string `json:"algorithm"`
	Chain       string `json:"chain"`
}

// Receipt is the durable artifact of a logged entry.
type Receipt struct {
	LogID        string       `json:"log_id"`
	Status       string       `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	Verification Verification `json:"verification"`
}

// Policy is a user's logging/routing policy as served by the policy
// endpoint.
type Policy struct {
	Mode                 string   `json:"mode"`
	AllowCloud           bool     `json:"allow_cloud"`
	MaxTokens            int      `json:"max_tokens"`
	RequirePIIMasking    bool     `json:"require_pii_masking"`
	CompressionEnabled   bool     `json:"compression_enabled"`
	WhitelistedProviders []string `json:"whitelisted_providers"`
}

// DefaultPolicy is served whenever no per-user policy is configured.
func DefaultPolicy() Policy {
	return Policy{
		Mode:                 "BALANCED",
		AllowCloud:           true,
		MaxTokens:            4096,
		RequirePIIMasking:    true,
		CompressionEnabled:   true,
		WhitelistedProviders: []string{"local", "groq", "openai"},
	}
}
