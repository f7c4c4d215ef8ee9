// Command billingctl is the operator CLI for parley billing state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/parley/internal"
	"github.com/dukerupert/parley/internal/audit"
	"github.com/dukerupert/parley/internal/bootstrap"
	"github.com/dukerupert/parley/internal/service"
)

// Version information (set at build time with -ldflags)
var Version = "dev"

// openFunc builds the billing service for one command invocation and
// returns a function that releases it.
type openFunc func(ctx context.Context, cmd *cobra.Command) (service.BillingService, func(), error)

// openBilling wires the service from the environment. Audit entries caused
// by the command are echoed to stderr as JSON lines.
func openBilling(ctx context.Context, cmd *cobra.Command) (service.BillingService, func(), error) {
	cfg, err := internal.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("config initialization failed: %w", err)
	}
	logger := internal.NewLogger(cmd.ErrOrStderr(), cfg.Env, cfg.LogLevel)

	app, err := bootstrap.Open(ctx, cfg, logger, bootstrap.Options{
		ExtraSinks: []audit.Sink{audit.NewJSONSink(cmd.ErrOrStderr())},
	})
	if err != nil {
		return nil, nil, err
	}
	return app.Billing, app.Close, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openBilling).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
