package prooflog

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClientPair(t *testing.T) (*Client, *Server) {
	t.Helper()
	srv := testServer()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL, time.Second, slog.New(slog.DiscardHandler)), srv
}

func TestClientIsAvailable(t *testing.T) {
	client, _ := testClientPair(t)
	assert.True(t, client.IsAvailable(context.Background()))

	down := NewClient("http://127.0.0.1:1", 100*time.Millisecond, slog.New(slog.DiscardHandler))
	assert.False(t, down.IsAvailable(context.Background()))
}

func TestClientFetchPolicy(t *testing.T) {
	client, srv := testClientPair(t)
	srv.SetPolicy("u1", Policy{Mode: "STRICT", MaxTokens: 512})

	policy := client.FetchPolicy(context.Background(), "u1")
	assert.Equal(t, "STRICT", policy.Mode)

	// Unconfigured users get the server default.
	policy = client.FetchPolicy(context.Background(), "someone-else")
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestClientFetchPolicy_ServiceDown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, slog.New(slog.DiscardHandler))

	policy := client.FetchPolicy(context.Background(), "u1")
	assert.Equal(t, DefaultPolicy(), policy, "unreachable service degrades to the default policy")
}

func TestClientFetchUserData(t *testing.T) {
	client, srv := testClientPair(t)
	srv.SetUserData("u1", map[string]any{"tier": "pro"})

	data := client.FetchUserData(context.Background(), "u1")
	assert.Equal(t, "pro", data["tier"])

	down := NewClient("http://127.0.0.1:1", 100*time.Millisecond, slog.New(slog.DiscardHandler))
	assert.Empty(t, down.FetchUserData(context.Background(), "u1"))
}

func TestClientLogInference(t *testing.T) {
	client, _ := testClientPair(t)

	receipt, err := client.LogInference(context.Background(), sampleEntry())
	require.NoError(t, err)
	assert.Equal(t, "logged", receipt.Status)
	assert.True(t, VerifySignature([]byte("test-secret"), receipt.Verification))
}

func TestClientLogInference_Rejected(t *testing.T) {
	client, _ := testClientPair(t)

	entry := sampleEntry()
	entry.Route = ""
	_, err := client.LogInference(context.Background(), entry)
	assert.ErrorIs(t, err, ErrLogRejected)
}

func TestClientLogInference_ServiceDown(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 100*time.Millisecond, slog.New(slog.DiscardHandler))

	_, err := client.LogInference(context.Background(), sampleEntry())
	assert.ErrorIs(t, err, ErrServiceDown)
}
