package cmd

import (
	"context"
	"fmt"
	"strings"

	"argus/bootstrap"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/service"
	"argus/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and manage detection rules",
	}
	rulesCmd.AddCommand(newRulesListCmd())
	rulesCmd.AddCommand(newRulesValidateCmd())
	rulesCmd.AddCommand(newRulesSetEnabledCmd(true))
	rulesCmd.AddCommand(newRulesSetEnabledCmd(false))
	return rulesCmd
}

// openRules loads the rule directory with enabled state from the state
// database. The returned cleanup closes the database.
func openRules(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*service.RuleRepository, func(), error) {
	if err := bootstrap.EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, nil, err
	}
	db, err := storage.NewSQLite(cfg.Rules.StateDB, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("%s", bootstrap.ClassifySQLiteError(err, cfg.Rules.StateDB))
	}
	repo, err := bootstrap.LoadRules(ctx, cfg, storage.NewRuleStateStore(db), sugar)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

func newRulesListCmd() *cobra.Command {
	var (
		category string
		severity string
		enabled  bool
		disabled bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List loaded rules",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if enabled && disabled {
				return fmt.Errorf("--enabled and --disabled are mutually exclusive")
			}
			filter := service.RuleFilter{Category: category}
			if severity != "" {
				sev, err := core.ParseSeverity(severity)
				if err != nil {
					return err
				}
				filter.Severity = sev
			}
			if enabled || disabled {
				want := enabled
				filter.Enabled = &want
			}

			ctx, cancel := contextFor(cmd)
			defer cancel()
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			repo, cleanup, err := openRules(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			defer cleanup()

			rules := repo.ListFiltered(filter)
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), rules)
			}
			renderRulesTable(cmd.OutOrStdout(), rules, len(repo.Rejected()))
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "Only rules in this category")
	cmd.Flags().StringVar(&severity, "severity", "", "Only rules with this severity")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "Only enabled rules")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Only disabled rules")
	return cmd
}

// validationReport is the JSON form of rules validate.
type validationReport struct {
	Dir      string               `json:"dir"`
	Files    int                  `json:"files"`
	Valid    int                  `json:"valid"`
	Rejected []core.RuleRejection `json:"rejected"`
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [dir]",
		Short: "Validate rule definitions without touching any state",
		Long: `Load every rule file under dir (default: rules.dir from the config) and
report the definitions that would be rejected. Exits non-zero when any is.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				dir   string
				sugar *zap.SugaredLogger
			)
			if len(args) == 1 {
				dir = args[0]
				_, s, err := bootstrap.InitLogger("error")
				if err != nil {
					return err
				}
				sugar = s
			} else {
				cfg, s, err := loadCLIConfig()
				if err != nil {
					return err
				}
				dir, sugar = cfg.Rules.Dir, s
			}

			ctx, cancel := contextFor(cmd)
			defer cancel()

			loaded, err := detect.LoadRuleDir(dir, sugar)
			if err != nil {
				return err
			}
			repo, err := service.NewRuleRepository(ctx, loaded.Rules, loaded.Rejected, storage.NewMemoryRuleStateStore(), sugar)
			if err != nil {
				return err
			}

			report := validationReport{
				Dir:      dir,
				Files:    loaded.Files,
				Valid:    len(repo.List()),
				Rejected: repo.Rejected(),
			}
			out := cmd.OutOrStdout()
			if outputJSON {
				if err := outputAsJSON(out, report); err != nil {
					return err
				}
			} else {
				renderValidation(out, report)
			}
			if len(report.Rejected) > 0 {
				return fmt.Errorf("%d rule definition(s) rejected", len(report.Rejected))
			}
			return nil
		},
	}
}

func newRulesSetEnabledCmd(enable bool) *cobra.Command {
	verb := "disable"
	if enable {
		verb = "enable"
	}
	return &cobra.Command{
		Use:   verb + " <rule-id>...",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " rules",
		Long: "Persist the new state in the state database. A running server picks it up\n" +
			"on restart; use the API to change a live instance.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextFor(cmd)
			defer cancel()
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			repo, cleanup, err := openRules(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			defer cleanup()

			updated := make([]core.Rule, 0, len(args))
			for _, id := range args {
				rule, err := repo.SetEnabled(ctx, id, enable)
				if err != nil {
					return fmt.Errorf("failed to %s rule %s: %w", verb, id, err)
				}
				updated = append(updated, rule)
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), updated)
			}
			if !quiet {
				for _, r := range updated {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Rule %sd: %s (%s)\n", verb, r.ID, r.Name)
				}
			}
			return nil
		},
	}
}
