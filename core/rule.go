package core

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"argus/search"

	"github.com/go-playground/validator/v10"
)

// Rule is a detection rule definition. It is immutable once loaded apart from
// Enabled, which only the rule repository changes.
type Rule struct {
	ID               string         `json:"id" yaml:"id" validate:"required"`
	Name             string         `json:"name" yaml:"name" validate:"required"`
	Description      string         `json:"description" yaml:"description"`
	Category         string         `json:"category" yaml:"category"`
	Severity         Severity       `json:"severity" yaml:"severity" validate:"required,severity"`
	RiskScore        int            `json:"risk_score" yaml:"risk_score" validate:"min=0,max=100"`
	Index            []string       `json:"index" yaml:"index" validate:"dive,required"`
	Query            string         `json:"query" yaml:"query" validate:"required"`
	ScheduleInterval string         `json:"schedule_interval,omitempty" yaml:"schedule_interval"`
	Enabled          bool           `json:"enabled" yaml:"enabled"`
	Tags             []string       `json:"tags,omitempty" yaml:"tags"`
	GroupBy          []string       `json:"group_by,omitempty" yaml:"group_by"`
	References       []string       `json:"references,omitempty" yaml:"references"`
	MitreAttack      map[string]any `json:"mitre_attack,omitempty" yaml:"mitre_attack"`
	SourcePath       string         `json:"source_path,omitempty" yaml:"-"`
}

// RuleRejection records a definition that failed validation and will never execute.
type RuleRejection struct {
	Source string `json:"source"`
	RuleID string `json:"rule_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Reason string `json:"reason"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func ruleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("severity", func(fl validator.FieldLevel) bool {
			return Severity(fl.Field().String()).IsValid()
		})
	})
	return validate
}

// Validate checks the definition's shape. The returned error joins one
// *ValidationError per offending field.
func (r Rule) Validate() error {
	r.Query = strings.TrimSpace(r.Query)

	err := ruleValidator().Struct(r)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("failed to validate rule: %w", err)
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, &ValidationError{Field: jsonFieldName(fe), Reason: describeFieldError(fe)})
	}
	return errors.Join(errs...)
}

// Schedule returns the advisory interval, or zero when it is unset or cannot
// be read. Go durations ("90s", "1h30m") and spans such as "1d" or
// "15 minutes" are understood.
func (r Rule) Schedule() time.Duration {
	expr := strings.TrimSpace(r.ScheduleInterval)
	if expr == "" {
		return 0
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		if d, err = search.ParseSpan(expr); err != nil {
			return 0
		}
	}
	if d <= 0 {
		return 0
	}
	return d
}

// HasUnreadableSchedule reports a schedule_interval that is set but that
// Schedule cannot interpret.
func (r Rule) HasUnreadableSchedule() bool {
	return strings.TrimSpace(r.ScheduleInterval) != "" && r.Schedule() == 0
}

// Clone returns a deep copy so snapshots cannot alias repository state.
func (r Rule) Clone() Rule {
	out := r
	out.Index = append([]string(nil), r.Index...)
	out.Tags = append([]string(nil), r.Tags...)
	out.GroupBy = append([]string(nil), r.GroupBy...)
	out.References = append([]string(nil), r.References...)
	if r.MitreAttack != nil {
		out.MitreAttack = make(map[string]any, len(r.MitreAttack))
		for k, v := range r.MitreAttack {
			out.MitreAttack[k] = v
		}
	}
	return out
}

func jsonFieldName(fe validator.FieldError) string {
	switch fe.StructField() {
	case "ID":
		return "id"
	case "RiskScore":
		return "risk_score"
	case "ScheduleInterval":
		return "schedule_interval"
	case "GroupBy":
		return "group_by"
	}
	name := fe.Field()
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "severity":
		return fmt.Sprintf("invalid severity %q: must be one of low, medium, high, critical", fe.Value())
	case "min", "max":
		return fmt.Sprintf("must be between 0 and %d", MaxRiskScore)
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
