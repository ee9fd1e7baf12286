package detect

import (
	"bytes"
	"crypto/md5" // #nosec G501 -- rule ids only, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"argus/core"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxRuleFileSize bounds a single rule definition file.
const maxRuleFileSize = 1 * 1024 * 1024

// LoadResult is the outcome of loading a rules directory. Rules passed
// validation; every other file is listed in Rejected.
type LoadResult struct {
	Rules    []core.Rule
	Rejected []core.RuleRejection
	Files    int
}

// IsRuleFile reports whether name has a rule definition extension.
func IsRuleFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

// LoadRuleDir walks root recursively and parses every YAML file as one rule
// definition. Files are visited in lexical order so ids and rejections are
// stable across runs. Only a missing or unreadable root is an error.
func LoadRuleDir(root string, logger *zap.SugaredLogger) (*LoadResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules directory %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("rules path %q is not a directory", root)
	}

	result := &LoadResult{}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warnw("Skipping unreadable rules path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsRuleFile(d.Name()) {
			return nil
		}

		result.Files++
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		data, readErr := readRuleFile(path)
		if readErr != nil {
			result.reject(rel, core.Rule{}, readErr, logger)
			return nil
		}

		rule, parseErr := ParseRule(rel, data)
		if parseErr != nil {
			result.reject(rel, rule, parseErr, logger)
			return nil
		}
		if rule.HasUnreadableSchedule() {
			logger.Warnw("Ignoring unreadable schedule_interval",
				"source", rel, "rule_id", rule.ID, "schedule_interval", rule.ScheduleInterval)
			rule.ScheduleInterval = ""
		}
		result.Rules = append(result.Rules, rule)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk rules directory %q: %w", root, err)
	}

	logger.Infow("Loaded rule definitions",
		"dir", root,
		"files", result.Files,
		"loaded", len(result.Rules),
		"rejected", len(result.Rejected))
	return result, nil
}

func (r *LoadResult) reject(source string, rule core.Rule, err error, logger *zap.SugaredLogger) {
	rejection := core.RuleRejection{
		Source: source,
		RuleID: rule.ID,
		Name:   rule.Name,
		Reason: core.RejectionReason(err),
	}
	r.Rejected = append(r.Rejected, rejection)
	logger.Warnw("Rejected rule definition", "source", source, "rule_id", rule.ID, "reason", rejection.Reason)
}

func readRuleFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat rule file: %w", err)
	}
	if info.Size() > maxRuleFileSize {
		return nil, fmt.Errorf("rule file exceeds maximum size of %d bytes", maxRuleFileSize)
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from walking the configured rules dir
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return data, nil
}

// ParseRule decodes one rule definition. source is the file path relative to
// the rules root, with forward slashes; it seeds the derived id and category.
// The decoded rule is returned alongside a validation error so callers can
// report which rule was rejected.
func ParseRule(source string, data []byte) (core.Rule, error) {
	var rule core.Rule
	if len(bytes.TrimSpace(data)) == 0 {
		return rule, errors.New("empty rule file")
	}
	if err := yaml.Unmarshal(data, &rule); err != nil {
		return core.Rule{}, fmt.Errorf("failed to parse rule YAML: %w", err)
	}

	rule.SourcePath = source
	rule.Query = strings.TrimSpace(rule.Query)
	if rule.ID == "" {
		rule.ID = DeriveRuleID(source, rule.Name)
	}
	if rule.Category == "" {
		rule.Category = CategoryFromPath(source)
	}
	if err := rule.Validate(); err != nil {
		return rule, err
	}
	return rule, nil
}

// DeriveRuleID returns the stable id of a rule without an explicit one: the
// first 12 hex characters of md5("<source>:<name>").
func DeriveRuleID(source, name string) string {
	sum := md5.Sum([]byte(source + ":" + name)) // #nosec G401
	return hex.EncodeToString(sum[:])[:12]
}

// CategoryFromPath names a rule's category after the first directory of its
// path under the rules root. Rules at the root are uncategorized.
func CategoryFromPath(source string) string {
	source = filepath.ToSlash(source)
	i := strings.IndexByte(source, '/')
	if i <= 0 {
		return core.DefaultCategory
	}
	return source[:i]
}
