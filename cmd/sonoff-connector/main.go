// Sonoff Connector
//
// This is the main entry point of the Sonoff (eWeLink) connector. The
// connector bridges Sonoff devices, reached over the local network, the
// eWeLink cloud or both, into the platform's device model.
//
//	sonoff-connector execute              # daemon mode, event writer
//	sonoff-connector execute --standalone # standalone, configured writer
//	sonoff-connector discover             # one-shot device discovery
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path. The --config flag
// wins over the SONOFF_CONFIG environment variable.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("SONOFF_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
