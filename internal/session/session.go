// Package session owns the client's shared mutable state: connection state,
// the persisted address and session token, the active bucket and the
// accumulated upload receipts. The orchestrator is the single writer;
// other components receive values as explicit arguments.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/upload"
)

// ErrInvariant reports an attempt to set connection state out of order.
var ErrInvariant = errors.New("session: connection state invariant violated")

// State is the connection state machine's data.
// Invariant: Profile != nil implies Token != "" implies Address != nil.
type State struct {
	Address         *common.Address
	NetworkVerified bool
	Token           string
	Profile         *msp.Profile
}

// Session is the explicit session object threaded through the orchestrator.
type Session struct {
	state        State
	activeBucket *[32]byte
	receipts     []upload.Receipt
	lastErr      error
	store        Store
}

// New creates a Session persisting address and token through store.
// A nil store disables persistence.
func New(store Store) *Session {
	if store == nil {
		store = NopStore{}
	}
	return &Session{store: store}
}

// State returns a copy of the current connection state.
func (s *Session) State() State {
	return s.state
}

// SetAddress records the authorized wallet address and persists it.
func (s *Session) SetAddress(addr common.Address) error {
	s.state.Address = &addr
	return s.persist()
}

// SetNetworkVerified marks the network stage complete.
// Requires an address.
func (s *Session) SetNetworkVerified() error {
	if s.state.Address == nil {
		return fmt.Errorf("session: network verified without address: %w", ErrInvariant)
	}
	s.state.NetworkVerified = true
	return nil
}

// SetToken records the provider session token and persists it.
// Requires an address.
func (s *Session) SetToken(token string) error {
	if s.state.Address == nil {
		return fmt.Errorf("session: token without address: %w", ErrInvariant)
	}
	s.state.Token = token
	return s.persist()
}

// SetProfile caches the authenticated profile. Requires a token.
func (s *Session) SetProfile(profile *msp.Profile) error {
	if s.state.Token == "" {
		return fmt.Errorf("session: profile without token: %w", ErrInvariant)
	}
	s.state.Profile = profile
	return nil
}

// Token returns the current session token, for use as a token supplier.
func (s *Session) Token() string {
	return s.state.Token
}

// Reset clears all connection state, the active bucket and persisted keys.
// It never fails: a persistence error only loses the stored keys, which is
// the desired outcome of a reset anyway.
func (s *Session) Reset() {
	s.state = State{}
	s.activeBucket = nil
	s.lastErr = nil
	_ = s.store.Clear()
}

// Restore loads the persisted address and token, dropping a token whose
// JWT expiry has already passed. Returns false when nothing was persisted.
func (s *Session) Restore() (bool, error) {
	addr, token, err := s.store.Load()
	if err != nil {
		return false, fmt.Errorf("session: restore: %w", err)
	}
	if addr == "" {
		return false, nil
	}
	parsed := common.HexToAddress(addr)
	s.state.Address = &parsed
	if token != "" && !TokenExpired(token, time.Now()) {
		s.state.Token = token
	}
	return true, nil
}

// ActiveBucket returns the session's active bucket id, if one is set.
func (s *Session) ActiveBucket() ([32]byte, bool) {
	if s.activeBucket == nil {
		return [32]byte{}, false
	}
	return *s.activeBucket, true
}

// SetActiveBucket caches the resolved bucket id for the session.
func (s *Session) SetActiveBucket(id [32]byte) {
	s.activeBucket = &id
}

// PushReceipt prepends a receipt: the list is most recent first.
func (s *Session) PushReceipt(r upload.Receipt) {
	s.receipts = append([]upload.Receipt{r}, s.receipts...)
}

// Receipts returns the session's receipts, most recent first.
func (s *Session) Receipts() []upload.Receipt {
	out := make([]upload.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out
}

// SetError records the latest error; it is held until cleared or superseded.
func (s *Session) SetError(err error) {
	s.lastErr = err
}

// ClearError drops the held error.
func (s *Session) ClearError() {
	s.lastErr = nil
}

// LastError returns the held error, if any.
func (s *Session) LastError() error {
	return s.lastErr
}

func (s *Session) persist() error {
	addr := ""
	if s.state.Address != nil {
		addr = s.state.Address.Hex()
	}
	if err := s.store.Save(addr, s.state.Token); err != nil {
		return fmt.Errorf("session: persist: %w", err)
	}
	return nil
}

// TokenExpired reports whether a JWT session token's exp claim has passed.
// The parse is unverified: the provider holds the signing key, and the only
// question here is whether the token is worth presenting at all.
// Tokens that are not JWTs or carry no expiry are presumed live.
func TokenExpired(token string, now time.Time) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
