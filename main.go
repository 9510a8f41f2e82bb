// Package main provides the entry point for vpnd-client.
// vpnd-client keeps a live view of a local VPN daemon's state and lets the
// user drive it from the terminal, a dashboard or the system tray.
//
// Features:
//   - One-shot status and tunnel commands for scripting
//   - A live watch mode with optional Prometheus metrics
//   - An interactive terminal dashboard
//   - A system tray indicator with desktop notifications
//   - Account numbers remembered in the system keyring
//
// Usage:
//
//	vpnd-client [command] [flags]
//
// Environment:
//
//	The daemon must be listening on its management socket
//	(default /var/run/vpnd.sock, override with VPND_SOCKET or --socket).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yllada/vpnd-client/cli"
	"github.com/yllada/vpnd-client/common"
)

// Build-time variables injected via ldflags (-X main.appVersion=x.y.z)
// Default values are used for local development builds
var (
	appVersion = "dev"
	buildTime  = "unknown"
	commitSHA  = "unknown"
)

func main() {
	defer common.CloseLogger()

	// Setup graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	err := cli.Execute(ctx, cli.BuildInfo{
		Version: appVersion,
		Time:    buildTime,
		Commit:  commitSHA,
	})
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		common.CloseLogger()
		os.Exit(1)
	}
}

// setupSignalHandler cancels the context on SIGINT/SIGTERM so running
// commands can stop the client and restore the terminal.
func setupSignalHandler(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		common.LogInfo("Received signal %v, shutting down...", sig)
		cancel()
	}()
}
