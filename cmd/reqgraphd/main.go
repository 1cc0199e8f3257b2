package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/systemshift/reqgraph/internal/config"
	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/reqgraph/config.yaml)")
	flag.Parse()

	// Load configuration from file and environment
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reqgraphd: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reqgraphd: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	if err := server.Run(ctx, cfg.Server, logger); err != nil {
		logger.Error("server stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
}
