// Package msptest provides a fake storage provider for tests: SIWE sign-in
// with real signature recovery, a bucket index and byte uploads.
package msptest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/wallet"
)

// Server is a configurable fake provider backed by httptest.
type Server struct {
	mu sync.Mutex

	// ID is the provider identifier returned by /info.
	ID string
	// Multiaddresses are the advertised peer addresses. Empty = fallback path.
	Multiaddresses []string

	// Healthy controls /health. Defaults to true.
	Healthy bool
	// FailVerify makes every sign-in verification fail.
	FailVerify bool
	// RejectUploads makes every upload return a server error.
	RejectUploads bool
	// RejectSessions makes every authenticated call return 401.
	RejectSessions bool

	buckets []msp.BucketInfo
	nonces  map[string]string
	tokens  map[string]string
	uploads map[string][]byte

	hits atomic.Int64
	srv  *httptest.Server
}

// New starts a fake provider and registers cleanup with t.
func New(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		ID:      "msp-test-1",
		Healthy: true,
		nonces:  make(map[string]string),
		tokens:  make(map[string]string),
		uploads: make(map[string][]byte),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST /auth/nonce", s.handleNonce)
	mux.HandleFunc("POST /auth/verify", s.handleVerify)
	mux.HandleFunc("GET /auth/profile", s.handleProfile)
	mux.HandleFunc("GET /buckets", s.handleListBuckets)
	mux.HandleFunc("GET /buckets/{id}", s.handleGetBucket)
	mux.HandleFunc("DELETE /buckets/{id}", s.handleDeleteBucket)
	mux.HandleFunc("PUT /upload/{bucket}/{key}", s.handleUpload)

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the provider's base URL.
func (s *Server) URL() string { return s.srv.URL }

// Hits reports the total number of HTTP requests received.
func (s *Server) Hits() int64 { return s.hits.Load() }

// IndexBucket adds a bucket to the provider's index.
func (s *Server) IndexBucket(bucketID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = append(s.buckets, msp.BucketInfo{BucketID: bucketID, Name: name})
}

// Upload returns the stored bytes for a bucket/key pair.
func (s *Server) Upload(bucketID, fileKey string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.uploads[bucketID+"/"+fileKey]
	return data, ok
}

// GrantSession mints a session token for addr without running the sign-in
// flow. For tests that start past authentication.
func (s *Server) GrantSession(addr string) string {
	token := "tok-" + uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = addr
	return token
}

// SessionAddress returns the address bound to a session token.
func (s *Server) SessionAddress(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.tokens[token]
	return addr, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	healthy := s.Healthy
	s.mu.Unlock()
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, msp.ProviderInfo{
		ID:             s.ID,
		Multiaddresses: s.Multiaddresses,
	})
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address string `json:"address"`
		ChainID int64  `json:"chain_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	message := fmt.Sprintf("%s wants you to sign in with account %s on chain %d\nNonce: %s",
		s.ID, in.Address, in.ChainID, uuid.NewString())

	s.mu.Lock()
	s.nonces[message] = in.Address
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	expected, known := s.nonces[in.Message]
	fail := s.FailVerify
	s.mu.Unlock()

	sig, err := hex.DecodeString(strings.TrimPrefix(in.Signature, "0x"))
	if fail || !known || err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	signer, err := wallet.RecoverSigner([]byte(in.Message), sig)
	if err != nil || !strings.EqualFold(signer.Hex(), expected) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	token := "tok-" + uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = expected
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  msp.Profile{Address: expected},
	})
}

func (s *Server) authed(r *http.Request) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectSessions {
		return "", false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	addr, ok := s.tokens[token]
	return addr, ok
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.authed(r)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, msp.Profile{Address: addr})
}

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"buckets": s.buckets})
}

func (s *Server) handleGetBucket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.buckets {
		if b.BucketID == id {
			writeJSON(w, http.StatusOK, b)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.buckets {
		if b.BucketID == id {
			s.buckets = append(s.buckets[:i], s.buckets[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authed(r); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	reject := s.RejectUploads
	s.mu.Unlock()
	if reject {
		w.WriteHeader(http.StatusInsufficientStorage)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	key := r.PathValue("bucket") + "/" + r.PathValue("key")
	s.mu.Lock()
	s.uploads[key] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
