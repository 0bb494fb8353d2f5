package prooflog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// Server exposes the proof log service over HTTP:
//
//	GET  /health
//	GET  /policy/{userID}
//	GET  /userdata/{userID}
//	POST /log
type Server struct {
	svc *Service
	log *slog.Logger

	mu       sync.RWMutex
	policies map[string]Policy
	userData map[string]map[string]any
}

// NewServer creates a Server around svc.
func NewServer(svc *Service, log *slog.Logger) *Server {
	return &Server{
		svc:      svc,
		log:      log,
		policies: make(map[string]Policy),
		userData: make(map[string]map[string]any),
	}
}

// SetPolicy configures a per-user policy override.
func (s *Server) SetPolicy(userID string, policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[userID] = policy
}

// SetUserData configures the metadata served for a user.
func (s *Server) SetUserData(userID string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userData[userID] = data
}

// Handler returns the HTTP handler for the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /policy/{userID}", s.handlePolicy)
	mux.HandleFunc("GET /userdata/{userID}", s.handleUserData)
	mux.HandleFunc("POST /log", s.handleLog)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	s.mu.RLock()
	policy, ok := s.policies[userID]
	s.mu.RUnlock()
	if !ok {
		policy = DefaultPolicy()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "policy": policy})
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	s.mu.RLock()
	data, ok := s.userData[userID]
	s.mu.RUnlock()
	if !ok {
		data = map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// piiFields are request keys that must never reach the hash chain.
var piiFields = []string{"prompt", "response", "completion", "messages"}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "request body is not valid JSON")
		return
	}
	for key := range raw {
		for _, banned := range piiFields {
			if strings.EqualFold(key, banned) {
				s.log.Warn("rejected log entry carrying raw content", "field", key)
				writeError(w, http.StatusBadRequest, "pii_rejected", ErrPIIContent.Error())
				return
			}
		}
	}

	reassembled, err := json.Marshal(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var entry Entry
	if err := json.Unmarshal(reassembled, &entry); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	receipt, err := s.svc.LogInference(entry)
	if err != nil {
		if errors.Is(err, ErrMissingField) {
			writeError(w, http.StatusBadRequest, "missing_field", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.log.Info("inference logged",
		"log_id", receipt.LogID,
		"request_id", entry.RequestID,
		"provider", entry.Provider,
		"route", entry.Route)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "receipt": receipt})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	})
}
