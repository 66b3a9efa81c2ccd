package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/docpipe/internal/app"
	"github.com/markdave123-py/docpipe/internal/config"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()
	application, err := app.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer application.Close()

	log.Println("docpipe is running; store connected and bootstrapped.")
	if err := application.Run(ctx); err != nil {
		log.Printf("server error: %v", err)
	}
	log.Println("shutting down...")
}
