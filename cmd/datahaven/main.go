// Command datahaven is the client entry point: it connects the wallet,
// chain and storage provider, ensures the proof bucket exists, uploads a
// payload from stdin and reports the receipt.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/datahaven-labs/datahaven-go/internal/app"
	"github.com/datahaven-labs/datahaven-go/internal/bucket"
	"github.com/datahaven-labs/datahaven-go/internal/chain"
	"github.com/datahaven-labs/datahaven-go/internal/msp"
	"github.com/datahaven-labs/datahaven-go/internal/orchestrator"
	"github.com/datahaven-labs/datahaven-go/internal/session"
	"github.com/datahaven-labs/datahaven-go/internal/upload"
	"github.com/datahaven-labs/datahaven-go/internal/wallet"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.PrivateKey == "" {
		log.Error("DATAHAVEN_PRIVATE_KEY is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := chain.Dial(ctx, cfg.ChainRPC)
	if err != nil {
		log.Error("failed to connect to chain", "error", err)
		os.Exit(1)
	}

	w, err := wallet.NewKeyWallet(cfg.PrivateKey, wallet.ChainDefinition{
		ChainID:  cfg.ChainID,
		Name:     cfg.ChainName,
		RPCURL:   cfg.ChainRPC,
		Currency: cfg.Currency,
	})
	if err != nil {
		log.Error("failed to load wallet key", "error", err)
		os.Exit(1)
	}

	sess := session.New(session.NewFileStore(cfg.SessionFile))
	adapter := chain.NewAdapter(backend, cfg.ChainID, log)
	fs := chain.NewFileSystem(cfg.FileSystemContract, adapter.Backend())
	provider := msp.NewClient(msp.ClientConfig{BaseURL: cfg.MSPBaseURL}, sess.Token, log)

	orch := orchestrator.New(orchestrator.Config{
		ChainID:   cfg.ChainID,
		ChainName: cfg.ChainName,
		Currency:  cfg.Currency,
		RPCURL:    cfg.ChainRPC,
	}, w, adapter, provider, sess, log)

	if err := orch.Restore(ctx); err != nil {
		log.Warn("session restore failed", "error", err)
	}
	identity, err := orch.EnsureFullyConnected(ctx)
	if err != nil {
		log.Error("connection failed", "error", err, "stage", orch.Stage().String())
		os.Exit(1)
	}
	log.Info("connected", "address", identity.Address.Hex())

	resolver := bucket.NewResolver(adapter, fs, provider, sess, bucket.Config{
		PollInterval: cfg.PollInterval,
		PollAttempts: cfg.PollAttempts,
	}, log)
	resolution, err := resolver.EnsureBucket(ctx, cfg.BucketName)
	if err != nil {
		log.Error("bucket resolution failed", "error", err)
		os.Exit(1)
	}
	log.Info("bucket ready",
		"bucket", resolution.ID.Hex(),
		"already_exists", resolution.AlreadyExists)

	payload, err := io.ReadAll(os.Stdin)
	if err != nil || len(payload) == 0 {
		log.Info("no payload on stdin, nothing to upload")
		return
	}

	workflow := upload.NewWorkflow(adapter, fs, provider, upload.Config{
		ExplorerBaseURL: cfg.ExplorerBaseURL,
		ConfirmInterval: cfg.PollInterval,
		ConfirmAttempts: cfg.PollAttempts,
	}, log)

	fileName := "proof-" + resolution.ID.Hex()[2:10] + ".json"
	receipt, err := workflow.UploadProof(ctx, resolution.ID, fileName, payload)
	if err != nil {
		sess.SetError(err)
		log.Error("upload failed", "error", err)
		os.Exit(1)
	}
	sess.PushReceipt(*receipt)

	status, err := workflow.WaitForProviderConfirmation(ctx, receipt.FileKey)
	if err != nil {
		log.Warn("provider confirmation not reached", "error", err)
	} else {
		log.Info("provider confirmed", "status", status.String())
	}

	out, _ := json.MarshalIndent(receipt, "", "  ")
	os.Stdout.Write(append(out, '\n'))
}
