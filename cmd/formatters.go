package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"argus/core"
	"argus/detect"
)

// renderRulesTable displays rules in a formatted table
func renderRulesTable(w io.Writer, rules []core.Rule, rejected int) {
	if len(rules) == 0 {
		warningColor.Fprintln(w, "No rules match")
	} else {
		headerColor.Fprintln(w, "RULES")
		headerColor.Fprintln(w, strings.Repeat("=", 110))
		fmt.Fprintf(w, "%-24s %-36s %-16s %-9s %-5s %-8s\n",
			"ID", "Name", "Category", "Severity", "Risk", "Enabled")
		fmt.Fprintln(w, strings.Repeat("-", 110))
		for _, r := range rules {
			fmt.Fprintf(w, "%-24s %-36s %-16s %-9s %-5d %-8s\n",
				truncate(r.ID, 24), truncate(r.Name, 36), truncate(r.Category, 16),
				r.Severity, r.RiskScore, yesNo(r.Enabled))
		}
		headerColor.Fprintln(w, strings.Repeat("=", 110))
	}
	fmt.Fprintf(w, "%d rule(s)", len(rules))
	if rejected > 0 {
		warningColor.Fprintf(w, ", %d rejected definition(s) (run 'argus rules validate')", rejected)
	}
	fmt.Fprintln(w)
}

func renderValidation(w io.Writer, report validationReport) {
	printSection(w, "Rule Validation")
	printField(w, "Directory", report.Dir)
	printField(w, "Files", fmt.Sprintf("%d", report.Files))
	printField(w, "Valid", fmt.Sprintf("%d", report.Valid))
	printField(w, "Rejected", fmt.Sprintf("%d", len(report.Rejected)))
	fmt.Fprintln(w)

	if len(report.Rejected) == 0 {
		successColor.Fprintln(w, "✓ All rule definitions are valid")
		return
	}
	for _, rej := range report.Rejected {
		label := rej.Source
		if rej.RuleID != "" {
			label += " (" + rej.RuleID + ")"
		}
		errorColor.Fprintf(w, "✗ %s\n", label)
		fmt.Fprintf(w, "    %s\n", rej.Reason)
	}
}

func renderTransform(w io.Writer, result detect.TransformResult) {
	printSection(w, "Transformed Query")
	fmt.Fprintln(w, result.Query)
	fmt.Fprintln(w)

	if !result.Changed() {
		infoColor.Fprintln(w, "No fields rewritten")
	} else {
		printSection(w, "Substitutions")
		for _, s := range result.Substitutions {
			fmt.Fprintf(w, "  @%-5d %-30s → %s\n", s.Offset, s.From, s.To)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w)
		printSection(w, "Warnings")
		for _, warn := range result.Warnings {
			warningColor.Fprintf(w, "  ! %s\n", warn)
		}
	}
}

func renderSummary(w io.Writer, s core.ExecutionSummary) {
	printSection(w, "Execution Summary")
	printField(w, "Requested", fmt.Sprintf("%d", s.Requested))
	printField(w, "Executed", fmt.Sprintf("%d", s.Executed))
	printField(w, "Succeeded", fmt.Sprintf("%d", s.Succeeded))
	printField(w, "Failed", fmt.Sprintf("%d", s.Failed))
	printField(w, "Alerts Generated", fmt.Sprintf("%d", s.AlertsGenerated))
	printField(w, "Alerts Suppressed", fmt.Sprintf("%d", s.AlertsSuppressed))
	if s.StoreFailures > 0 {
		printField(w, "Store Failures", fmt.Sprintf("%d", s.StoreFailures))
	}
	printField(w, "Duration", s.Duration.Round(time.Millisecond).String())

	if len(s.Failures) == 0 {
		return
	}
	fmt.Fprintln(w)
	printSection(w, "Failures")
	for _, f := range s.Failures {
		errorColor.Fprintf(w, "  ✗ %-24s %-14s", truncate(f.RuleID, 24), f.Kind)
		fmt.Fprintf(w, " %s\n", f.Reason)
	}
}

func renderDiagnosis(w io.Writer, d Diagnosis) {
	printSection(w, "Backend")
	printField(w, "Address", d.Backend)
	if d.Connected {
		printField(w, "Status", successColor.Sprint("connected"))
	} else {
		printField(w, "Status", errorColor.Sprint("unreachable"))
		printField(w, "Error", d.PingError)
		return
	}
	printField(w, "Enabled Rules", fmt.Sprintf("%d", d.EnabledRules))
	fmt.Fprintln(w)

	printSection(w, "Collections")
	if len(d.Collections) == 0 {
		infoColor.Fprintln(w, "  No collections declared by enabled rules")
		return
	}
	for _, c := range d.Collections {
		if c.OK {
			successColor.Fprintf(w, "  ✓ %-40s", c.Collection)
			fmt.Fprintf(w, " %d columns, %s\n", c.Columns, c.Took.Round(time.Millisecond))
			continue
		}
		errorColor.Fprintf(w, "  ✗ %-40s", c.Collection)
		fmt.Fprintf(w, " %s: %s\n", c.Kind, c.Error)
	}
}

func renderCoverage(w io.Writer, cov FieldCoverage) {
	printSection(w, "Mapped Fields in "+cov.Collection)
	paths := make([]string, 0, len(cov.Resolved))
	for p := range cov.Resolved {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		successColor.Fprintf(w, "  ✓ %-28s", p)
		fmt.Fprintf(w, " %s\n", strings.Join(cov.Resolved[p], ", "))
	}
	for _, p := range cov.Unresolved {
		warningColor.Fprintf(w, "  ! %-28s no candidate present\n", p)
	}

	unmapped := 0
	for _, kind := range cov.Columns {
		if kind == "unmapped" {
			unmapped++
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d column(s), %d resolved path(s), %d unresolved, %d unmapped column(s)\n",
		len(cov.Columns), len(cov.Resolved), len(cov.Unresolved), unmapped)
}

// printSection prints a section header
func printSection(w io.Writer, title string) {
	headerColor.Fprintf(w, "  %s\n", title)
	headerColor.Fprintln(w, "  "+strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(w io.Writer, key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Fprintf(w, "  %-25s %s\n", key+":", value)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
