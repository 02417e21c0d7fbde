// Package main is the entry point for the agentbe command-line client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentbe/agentbe-go/cmd/agentbe/app"
	"github.com/agentbe/agentbe-go/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
