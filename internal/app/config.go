// Package app loads configuration for the DataHaven binaries from the
// environment.
package app

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the client and the proof log service.
type Config struct {
	// ChainRPC is the DataHaven chain JSON-RPC endpoint.
	ChainRPC string

	// ChainID is the target network id.
	ChainID int64

	// ChainName and Currency describe the network for wallet registration.
	ChainName string
	Currency  string

	// FileSystemContract is the FileSystem contract address.
	FileSystemContract string

	// ExplorerBaseURL prefixes transaction links in upload receipts.
	ExplorerBaseURL string

	// MSPBaseURL is the storage provider's HTTP endpoint.
	MSPBaseURL string

	// PrivateKey is the hex-encoded key backing the local wallet.
	PrivateKey string

	// SessionFile persists the connected address and session token.
	SessionFile string

	// BucketName is the namespaced container proofs are uploaded into.
	BucketName string

	// PollInterval and PollAttempts bound the fixed-delay polling loops.
	PollInterval time.Duration
	PollAttempts int

	// ProofServiceAddr is the listen address for the proof log service.
	ProofServiceAddr string

	// ProofServiceURL is where clients reach the proof log service.
	ProofServiceURL string

	// LogSecret signs proof log receipts.
	LogSecret string
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.ChainRPC = envOr("DATAHAVEN_CHAIN_RPC", "https://rpc.testnet.datahaven.xyz")
	cfg.ChainName = envOr("DATAHAVEN_CHAIN_NAME", "DataHaven Testnet")
	cfg.Currency = envOr("DATAHAVEN_CURRENCY", "HAVE")
	cfg.ExplorerBaseURL = envOr("DATAHAVEN_EXPLORER_URL", "https://explorer.testnet.datahaven.xyz")
	cfg.MSPBaseURL = envOr("DATAHAVEN_MSP_URL", "http://localhost:8080")
	cfg.FileSystemContract = os.Getenv("DATAHAVEN_FILESYSTEM_CONTRACT")
	cfg.PrivateKey = os.Getenv("DATAHAVEN_PRIVATE_KEY")
	cfg.SessionFile = envOr("DATAHAVEN_SESSION_FILE", ".datahaven-session.json")
	cfg.BucketName = envOr("DATAHAVEN_BUCKET", "proofs")
	cfg.ProofServiceAddr = envOr("DATAHAVEN_PROOFSVC_ADDR", ":3001")
	cfg.ProofServiceURL = envOr("DATAHAVEN_PROOFSVC_URL", "http://localhost:3001")
	cfg.LogSecret = envOr("DATAHAVEN_LOG_SECRET", "dev-secret")

	chainIDStr := envOr("DATAHAVEN_CHAIN_ID", "55931")
	chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("config: invalid DATAHAVEN_CHAIN_ID: %w", err)
	}
	cfg.ChainID = chainID

	intervalStr := envOr("DATAHAVEN_POLL_INTERVAL", "2s")
	interval, err := time.ParseDuration(intervalStr)
	if err != nil {
		return nil, fmt.Errorf("config: invalid DATAHAVEN_POLL_INTERVAL: %w", err)
	}
	cfg.PollInterval = interval

	attemptsStr := envOr("DATAHAVEN_POLL_ATTEMPTS", "30")
	attempts, err := strconv.Atoi(attemptsStr)
	if err != nil {
		return nil, fmt.Errorf("config: invalid DATAHAVEN_POLL_ATTEMPTS: %w", err)
	}
	cfg.PollAttempts = attempts

	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
