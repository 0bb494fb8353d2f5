// Package msp is the client for an off-chain main storage provider: session
// sign-in, bucket index reads and file byte uploads. The provider
// authenticates requests with a bearer session token supplied per call.
package msp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Client talks to one storage provider. It holds the base URL and a
// session-token supplier; the token itself lives in the session layer.
type Client struct {
	baseURL string
	token   TokenSupplier
	http    *http.Client
	log     *slog.Logger
}

// NewClient creates a Client for the provider at cfg.BaseURL.
func NewClient(cfg ClientConfig, token TokenSupplier, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Health probes the provider. Failure means the provider is unreachable.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("msp: health returned status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}

// Info fetches the provider's identifier, reachable addresses and value
// propositions.
func (c *Client) Info(ctx context.Context) (*ProviderInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/info", nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info ProviderInfo
	if err := decodeOK(resp, &info); err != nil {
		return nil, fmt.Errorf("msp: provider info: %w", err)
	}
	return &info, nil
}

// ResolveAddresses resolves the provider's peer addresses. When the provider
// advertises none, its own identifier stands in as the sole peer id; the
// degraded path is logged and visible in the result's Source.
func (c *Client) ResolveAddresses(ctx context.Context) (*ResolvedAddresses, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, err
	}
	if len(info.Multiaddresses) == 0 {
		c.log.Warn("provider advertises no addresses, falling back to provider id",
			"provider_id", info.ID)
		return &ResolvedAddresses{Source: SourceFallback, PeerIDs: []string{info.ID}}, nil
	}
	return &ResolvedAddresses{Source: SourceAdvertised, PeerIDs: info.Multiaddresses}, nil
}

// Nonce requests a SIWE challenge message to sign for the given address.
func (c *Client) Nonce(ctx context.Context, address string, chainID int64) (string, error) {
	body := struct {
		Address string `json:"address"`
		ChainID int64  `json:"chain_id"`
	}{address, chainID}

	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/nonce", body, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Message string `json:"message"`
	}
	if err := decodeOK(resp, &out); err != nil {
		return "", fmt.Errorf("msp: nonce: %w", err)
	}
	return out.Message, nil
}

// Verify submits the signed challenge and returns the session token plus
// the authenticated profile.
func (c *Client) Verify(ctx context.Context, message string, signature []byte) (*Session, error) {
	body := struct {
		Message   string `json:"message"`
		Signature string `json:"signature"`
	}{message, fmt.Sprintf("0x%x", signature)}

	resp, err := c.doJSON(ctx, http.MethodPost, "/auth/verify", body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("msp: challenge verification: %w", ErrSignInFailed)
	}
	var sess Session
	if err := decodeOK(resp, &sess); err != nil {
		return nil, fmt.Errorf("msp: verify: %w", err)
	}
	if sess.Token == "" {
		return nil, fmt.Errorf("msp: verify returned no token: %w", ErrSignInFailed)
	}
	return &sess, nil
}

// Profile fetches the authenticated profile for the current session token.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/auth/profile", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("msp: profile: %w", ErrUnauthorized)
	}
	var profile Profile
	if err := decodeOK(resp, &profile); err != nil {
		return nil, fmt.Errorf("msp: profile: %w", err)
	}
	return &profile, nil
}

// ListBuckets returns the buckets the provider has indexed for the session's
// owner.
func (c *Client) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/buckets", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Buckets []BucketInfo `json:"buckets"`
	}
	if err := decodeOK(resp, &out); err != nil {
		return nil, fmt.Errorf("msp: list buckets: %w", err)
	}
	return out.Buckets, nil
}

// GetBucket fetches one bucket from the provider's index.
// ErrBucketUnknown when the provider has not indexed it yet.
func (c *Client) GetBucket(ctx context.Context, bucketID string) (*BucketInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/buckets/"+bucketID, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("msp: bucket %s: %w", bucketID, ErrBucketUnknown)
	}
	var bucket BucketInfo
	if err := decodeOK(resp, &bucket); err != nil {
		return nil, fmt.Errorf("msp: get bucket: %w", err)
	}
	return &bucket, nil
}

// DeleteBucket asks the provider to drop a bucket from its index. The
// on-chain bucket is deleted separately through the FileSystem contract.
func (c *Client) DeleteBucket(ctx context.Context, bucketID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/buckets/"+bucketID, nil, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("msp: delete bucket %s: %w", bucketID, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("msp: delete bucket %s: %w", bucketID, ErrBucketUnknown)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent:
		return fmt.Errorf("msp: delete bucket %s returned status %d", bucketID, resp.StatusCode)
	}
	return nil
}

// UploadFile sends raw file bytes addressed by bucket id and file key.
func (c *Client) UploadFile(ctx context.Context, bucketID, fileKey, fileName string, data []byte) error {
	path := fmt.Sprintf("/upload/%s/%s", bucketID, fileKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("msp: create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-File-Name", fileName)
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("msp: upload %s: %w", fileKey, ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("msp: upload %s: %w", fileKey, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("msp: upload %s returned status %d: %s: %w",
			fileKey, resp.StatusCode, string(body), ErrUploadRejected)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, authed bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("msp: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.authorize(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("msp: %s %s: %w", method, path, ErrUnavailable)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, authed bool) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("msp: marshal request body: %w", err)
	}
	return c.do(ctx, method, path, bytes.NewReader(raw), authed)
}

func (c *Client) authorize(req *http.Request) {
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// decodeOK decodes a 2xx JSON response into out, or extracts the provider's
// error body.
func decodeOK(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil && eb.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, eb.Message)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
