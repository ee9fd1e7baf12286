package cmd

import (
	"fmt"
	"time"

	"argus/bootstrap"
	"argus/config"
	"argus/service"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

func newExecuteCmd() *cobra.Command {
	var ruleIDs []string

	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run rules once and print the batch summary",
		Long: `Execute every enabled rule, or only the rules named with --rule, against
the configured backend. Alerts are deduplicated against the dedup backend just
like a scheduled run, and the summary is recorded in the execution history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()

			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, _, err := bootstrap.InitLogger("warn")
			if err != nil {
				return err
			}
			app, err := bootstrap.NewApp(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer app.Shutdown()

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Executing rules..."
				s.Start()
			}

			summary, err := app.Dashboard.Execute(ctx, service.ParseScope(ruleIDs))

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("execution failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), summary)
			}
			renderSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&ruleIDs, "rule", "r", nil, "Rule id to execute (repeatable; default: every enabled rule)")
	return cmd
}
