package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"argus/bootstrap"
	"argus/detect"

	"github.com/spf13/cobra"
)

// maxQueryFileSize bounds queries read with --file.
const maxQueryFileSize = 1 << 20

func newTransformCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "transform [query]",
		Short: "Preview the field rewrite of a semantic query",
		Long: `Rewrite the ECS field names of an ES|QL query to the concrete winlog
fields known to the mapping table, without running it. The query is read from
the argument, from --file, or from stdin when the argument is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readQuery(cmd, args, file)
			if err != nil {
				return err
			}

			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			table, err := bootstrap.InitMappings(cfg, sugar)
			if err != nil {
				return err
			}
			result := detect.NewQueryTransformer(table).Transform(query)

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			renderTransform(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the query from a file")
	return cmd
}

func readQuery(cmd *cobra.Command, args []string, file string) (string, error) {
	var query string
	switch {
	case file != "" && len(args) > 0:
		return "", fmt.Errorf("pass either a query or --file, not both")
	case file != "":
		info, err := os.Stat(file)
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		if info.Size() > maxQueryFileSize {
			return "", fmt.Errorf("query file exceeds maximum size of %d bytes", maxQueryFileSize)
		}
		data, err := os.ReadFile(file) // #nosec G304 -- operator-supplied path
		if err != nil {
			return "", fmt.Errorf("failed to read query file: %w", err)
		}
		query = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxQueryFileSize+1))
		if err != nil {
			return "", fmt.Errorf("failed to read query from stdin: %w", err)
		}
		if len(data) > maxQueryFileSize {
			return "", fmt.Errorf("query exceeds maximum size of %d bytes", maxQueryFileSize)
		}
		query = string(data)
	case len(args) == 1:
		query = args[0]
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	return query, nil
}
