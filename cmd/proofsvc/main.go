// Command proofsvc serves the proof log service: metadata-only inference
// logging with verifiable hash-chain receipts, plus policy and user data
// endpoints.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datahaven-labs/datahaven-go/internal/app"
	"github.com/datahaven-labs/datahaven-go/internal/prooflog"
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

	svc := prooflog.NewService([]byte(cfg.LogSecret))
	server := prooflog.NewServer(svc, log)

	httpServer := &http.Server{
		Addr:              cfg.ProofServiceAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
		}
	}()

	log.Info("proof log service listening", "addr", cfg.ProofServiceAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("proof log service stopped")
}
