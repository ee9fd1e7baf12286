package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"argus/bootstrap"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the rule scheduler",
		Long: `Serve the dashboard API and, when engine.schedule_interval is set,
execute every enabled rule on that interval. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, _, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return err
	}

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Shutdown()

	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// contextFor returns the command context bounded by defaultTimeout.
func contextFor(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
