// Package plugins loads extra classifier rules from a project's
// .auditdeck/rules directory. Rules come in two flavors: plain YAML files
// and interpreted Go files evaluated with yaegi. Loaded rules take
// precedence over the built-in rule table.
package plugins

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/auditai/auditdeck/internal/classify"
)

// RuleFile pairs a parsed classifier rule with its on-disk source.
type RuleFile struct {
	Rule classify.Rule
	Path string
}

type rulesDocument struct {
	Rules []classify.Rule `yaml:"rules"`
}

// ParseRulesYAML decodes and validates a rules payload. The payload is a
// document with a top-level `rules:` list.
func ParseRulesYAML(data []byte) ([]classify.Rule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plugin: rules payload is empty")
	}
	var doc rulesDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plugin: decode rules: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, fmt.Errorf("plugin: payload declares no rules")
	}
	out := make([]classify.Rule, 0, len(doc.Rules))
	for i, rule := range doc.Rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("plugin: rules[%d]: %w", i, err)
		}
		out = append(out, rule.Normalized())
	}
	return out, nil
}

// LoadRuleFile reads one YAML file from disk and returns its rules.
func LoadRuleFile(path string) ([]RuleFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("plugin: %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}
	rules, err := ParseRulesYAML(data)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	files := make([]RuleFile, 0, len(rules))
	for _, rule := range rules {
		files = append(files, RuleFile{Rule: rule, Path: filepath.Clean(path)})
	}
	return files, nil
}

// LoadRuleDir scans a directory for *.yaml rule files. Missing
// directories are treated as "no plugins" to simplify startup.
func LoadRuleDir(dir string) ([]RuleFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var files []RuleFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !isYAMLFile(entry.Name()) {
			continue
		}
		loaded, err := LoadRuleFile(filepath.Join(trimmed, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, loaded...)
	}
	if len(files) == 0 {
		return nil, nil
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
