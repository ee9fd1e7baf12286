package cmd

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"argus/backend"
	"argus/bootstrap"
	"argus/core"
	"argus/detect"
	"argus/search"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// collectionPattern bounds what may be interpolated into a FROM command.
var collectionPattern = regexp.MustCompile(`^[A-Za-z0-9._*:-]+$`)

func validateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// probeQuery returns the cheapest query that proves a collection answers.
func probeQuery(collection string) string {
	return "FROM " + collection + " | LIMIT 1"
}

// CollectionCheck is the probe result for one collection.
type CollectionCheck struct {
	Collection string         `json:"collection"`
	OK         bool           `json:"ok"`
	Columns    int            `json:"columns"`
	Kind       core.ErrorKind `json:"kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Took       time.Duration  `json:"took"`
}

// Diagnosis is the JSON form of diagnose.
type Diagnosis struct {
	Backend      string            `json:"backend"`
	Connected    bool              `json:"connected"`
	PingError    string            `json:"ping_error,omitempty"`
	EnabledRules int               `json:"enabled_rules"`
	Collections  []CollectionCheck `json:"collections"`
}

func newDiagnoseCmd() *cobra.Command {
	var extra []string

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Check backend connectivity and the collections rules read",
		Long: `Ping the Elasticsearch cluster and probe every collection named by an
enabled rule (plus any passed with --index) with a one-row query.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, c := range extra {
				if err := validateCollection(c); err != nil {
					return err
				}
			}

			ctx, cancel := contextFor(cmd)
			defer cancel()
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			connector, err := bootstrap.InitConnector(cfg, sugar)
			if err != nil {
				return err
			}
			repo, cleanup, err := openRules(ctx, cfg, sugar)
			if err != nil {
				return err
			}
			defer cleanup()

			enabled := repo.EnabledSnapshot()
			collections := ruleCollections(enabled, extra)

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
				s.Suffix = " Probing backend..."
				s.Start()
			}
			diag := diagnose(ctx, connector, collections)
			if s != nil {
				s.Stop()
			}
			diag.Backend = fmt.Sprint(cfg.Masked().Elasticsearch.Addresses)
			diag.EnabledRules = len(enabled)

			if outputJSON {
				if err := outputAsJSON(cmd.OutOrStdout(), diag); err != nil {
					return err
				}
			} else {
				renderDiagnosis(cmd.OutOrStdout(), diag)
			}
			if !diag.Connected {
				return fmt.Errorf("backend unreachable")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&extra, "index", nil, "Additional collection to probe (repeatable)")
	return cmd
}

// ruleCollections returns the valid distinct collections read by rules plus
// extra, sorted. A rule without declared collections contributes the sources
// of its FROM command.
func ruleCollections(rules []core.Rule, extra []string) []string {
	seen := make(map[string]struct{})
	for _, r := range rules {
		collections := r.Index
		if len(collections) == 0 {
			collections = search.Sources(search.Lex(r.Query))
		}
		for _, c := range collections {
			if validateCollection(c) == nil {
				seen[c] = struct{}{}
			}
		}
	}
	for _, c := range extra {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func diagnose(ctx context.Context, connector backend.Connector, collections []string) Diagnosis {
	diag := Diagnosis{Collections: make([]CollectionCheck, 0, len(collections))}
	if err := connector.Ping(ctx); err != nil {
		diag.PingError = err.Error()
		return diag
	}
	diag.Connected = true

	for _, c := range collections {
		start := time.Now()
		res, err := connector.RunQuery(ctx, backend.Request{Query: probeQuery(c), Collections: []string{c}})
		check := CollectionCheck{Collection: c, Took: time.Since(start)}
		if err != nil {
			check.Kind = core.KindOf(err)
			check.Error = err.Error()
		} else {
			check.OK = true
			check.Columns = len(res.Columns)
		}
		diag.Collections = append(diag.Collections, check)
	}
	return diag
}

// FieldCoverage relates the columns of a collection to the mapping table.
type FieldCoverage struct {
	Collection string `json:"collection"`
	// Columns maps every column to how the mapping table sees it: candidate
	// (a concrete target), semantic (a mapped semantic path present as-is)
	// or unmapped.
	Columns map[string]string `json:"columns"`
	// Resolved lists, per semantic path, the candidates present in the
	// collection.
	Resolved map[string][]string `json:"resolved"`
	// Unresolved lists the semantic paths with no candidate present.
	Unresolved []string `json:"unresolved"`
}

func newFieldsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fields <collection>",
		Short: "Show which mapped fields a collection actually carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := args[0]
			if err := validateCollection(collection); err != nil {
				return err
			}

			ctx, cancel := contextFor(cmd)
			defer cancel()
			cfg, sugar, err := loadCLIConfig()
			if err != nil {
				return err
			}
			table, err := bootstrap.InitMappings(cfg, sugar)
			if err != nil {
				return err
			}
			connector, err := bootstrap.InitConnector(cfg, sugar)
			if err != nil {
				return err
			}

			res, err := connector.RunQuery(ctx, backend.Request{Query: probeQuery(collection), Collections: []string{collection}})
			if err != nil {
				return fmt.Errorf("failed to read columns of %s: %w", collection, err)
			}
			coverage := fieldCoverage(collection, res.ColumnNames(), table)

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), coverage)
			}
			renderCoverage(cmd.OutOrStdout(), coverage)
			return nil
		},
	}
}

func fieldCoverage(collection string, columns []string, table *detect.MappingTable) FieldCoverage {
	cov := FieldCoverage{
		Collection: collection,
		Columns:    make(map[string]string, len(columns)),
		Resolved:   make(map[string][]string),
		Unresolved: []string{},
	}
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
		switch _, semantic := table.Lookup(c); {
		case semantic:
			cov.Columns[c] = "semantic"
		case table.IsConcrete(c):
			cov.Columns[c] = "candidate"
		default:
			cov.Columns[c] = "unmapped"
		}
	}

	for _, e := range table.Entries() {
		var found []string
		for _, cand := range e.Candidates {
			if _, ok := present[cand]; ok {
				found = append(found, cand)
			}
		}
		if len(found) == 0 {
			cov.Unresolved = append(cov.Unresolved, e.SemanticPath)
			continue
		}
		cov.Resolved[e.SemanticPath] = found
	}
	return cov
}
