// Command vaultseal encrypts and decrypts directory trees with keys held by a hardware
// wallet or its software emulation.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/idelchi/vaultseal/internal/commands"
	"github.com/idelchi/vaultseal/internal/config"
)

// Global variable for CI stamping.
var version = "unknown - unofficial & generated by unknown"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cfg := &config.Config{}

	err := commands.NewRootCommand(cfg, version).ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		os.Exit(1)
	}
}
