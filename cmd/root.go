// Package cmd provides the argus command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"argus/bootstrap"
	"argus/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	quiet      bool
)

// defaultTimeout bounds one-shot CLI operations.
const defaultTimeout = 5 * time.Minute

// NewRootCmd creates the argus command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "argus",
		Short: "ES|QL detection rule engine",
		Long: `Argus runs ES|QL detection rules written against ECS field names
over Windows event logs stored in Elasticsearch, and serves the resulting
alerts and statistics over HTTP.

Without a subcommand it behaves like "argus serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newTransformCmd())
	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newDiagnoseCmd())
	rootCmd.AddCommand(newFieldsCmd())

	return rootCmd
}

// loadCLIConfig loads the configuration for one-shot commands. Their logger
// only reports warnings so it does not interleave with command output.
func loadCLIConfig() (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	level := "warn"
	if quiet {
		level = "error"
	}
	_, sugar, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sugar, nil
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
