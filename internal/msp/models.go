package msp

import (
	"errors"
	"time"
)

// Sentinel errors for storage provider operations.
var (
	ErrUnavailable    = errors.New("msp: storage provider unreachable")
	ErrUnauthorized   = errors.New("msp: session rejected by provider")
	ErrSignInFailed   = errors.New("msp: sign-in challenge failed")
	ErrUploadRejected = errors.New("msp: file upload rejected")
	ErrBucketUnknown  = errors.New("msp: bucket not indexed by provider")
)

// TokenSupplier returns the current session token, or "" when none is held.
// The client reads it per request so a re-authentication is picked up
// without reconnecting.
type TokenSupplier func() string

// ClientConfig holds configuration for the storage provider client.
type ClientConfig struct {
	// BaseURL is the provider's HTTP endpoint.
	BaseURL string

	// Timeout bounds individual HTTP calls. Defaults to 30s if zero.
	Timeout time.Duration
}

// ProviderInfo describes the storage provider itself.
type ProviderInfo struct {
	ID             string   `json:"id"`
	Multiaddresses []string `json:"multiaddresses"`
	ValueProps     []string `json:"value_props,omitempty"`
}

// AddressSource tells how peer addresses were obtained.
type AddressSource int

const (
	// SourceAdvertised means the provider published reachable addresses.
	SourceAdvertised AddressSource = iota
	// SourceFallback means no addresses were advertised and the provider's
	// own identifier stands in as the sole peer id. Degraded, not fatal.
	SourceFallback
)

// ResolvedAddresses is the explicit two-variant result of address
// resolution.
type ResolvedAddresses struct {
	Source  AddressSource
	PeerIDs []string
}

// Profile is the authenticated user profile held by the provider.
type Profile struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Session is the result of a successful SIWE verification.
type Session struct {
	Token   string  `json:"token"`
	Profile Profile `json:"user"`
}

// BucketInfo is a bucket as indexed by the provider.
type BucketInfo struct {
	BucketID string `json:"bucket_id"`
	Name     string `json:"name"`
	Private  bool   `json:"private"`
}

// errorBody is the provider's error response shape.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
