package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"ledger-core/internal/config"
	"ledger-core/internal/server"
)

func main() {
	// Load .env (optional)
	if err := godotenv.Load(); err != nil {
		log.Println("Ledger: No .env file found, relying on system env vars")
	}

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌍 Ledger core starting on %s", cfg.HTTPAddr)
		server.NewLedgerServer(ctx, cfg)
		errCh <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("🛑 Ledger core shutting down gracefully...")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Ledger core failed: %v", err)
		}
	}
}
