package prooflog

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	return NewServer(fixedService("test-secret"), slog.New(slog.DiscardHandler))
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	rec := doRequest(t, testServer().Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePolicy_Default(t *testing.T) {
	rec := doRequest(t, testServer().Handler(), http.MethodGet, "/policy/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool   `json:"success"`
		Policy  Policy `json:"policy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, DefaultPolicy(), out.Policy)
}

func TestHandlePolicy_Override(t *testing.T) {
	srv := testServer()
	srv.SetPolicy("u1", Policy{Mode: "STRICT", AllowCloud: false, MaxTokens: 512})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/policy/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Policy Policy `json:"policy"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "STRICT", out.Policy.Mode)
	assert.False(t, out.Policy.AllowCloud)
}

func TestHandleUserData(t *testing.T) {
	srv := testServer()
	srv.SetUserData("u1", map[string]any{"tier": "pro"})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/userdata/u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "pro", out.Data["tier"])

	// Unknown users get an empty map, not an error.
	rec = doRequest(t, srv.Handler(), http.MethodGet, "/userdata/unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out.Data = nil // Unmarshal merges into a non-nil map; reset to avoid stale entries.
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Empty(t, out.Data)
}

func TestHandleLog(t *testing.T) {
	body := `{"request_id":"r1","route":"CLOUD","provider":"groq","model":"llama","token_count":42}`
	rec := doRequest(t, testServer().Handler(), http.MethodPost, "/log", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Success bool    `json:"success"`
		Receipt Receipt `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Equal(t, "logged", out.Receipt.Status)
	assert.Equal(t, AlgorithmTag, out.Receipt.Verification.Algorithm)
	assert.NotEmpty(t, out.Receipt.Verification.Signature)
}

func TestHandleLog_RejectsRawContent(t *testing.T) {
	for _, field := range []string{"prompt", "Response", "COMPLETION", "messages"} {
		body := `{"request_id":"r1","route":"CLOUD","provider":"groq","` + field + `":"secret text"}`
		rec := doRequest(t, testServer().Handler(), http.MethodPost, "/log", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, field)

		var out struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.False(t, out.Success)
		assert.Equal(t, "pii_rejected", out.Error, field)
	}
}

func TestHandleLog_MissingField(t *testing.T) {
	body := `{"request_id":"r1","provider":"groq"}`
	rec := doRequest(t, testServer().Handler(), http.MethodPost, "/log", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var out struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "missing_field", out.Error)
}

func TestHandleLog_BadJSON(t *testing.T) {
	rec := doRequest(t, testServer().Handler(), http.MethodPost, "/log", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
