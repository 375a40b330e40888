// Command server runs the vibesync gateway.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"vibesync/internal/bootstrap"
	"vibesync/internal/config"
	"vibesync/internal/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	if err := rt.Serve(ctx); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
	log.Println("Server stopped")
}
