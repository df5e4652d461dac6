package plugins

import (
	"fmt"

	"github.com/auditai/auditdeck/internal/classify"
	"github.com/auditai/auditdeck/internal/config"
)

// DiscoverRules loads YAML and Go rule files under .auditdeck/rules and
// returns them in deterministic order, ready to hand to the classifier.
// Duplicate rule identifiers across files are an error.
func DiscoverRules(cfg *config.Config) ([]classify.Rule, error) {
	if cfg == nil {
		return nil, nil
	}
	files, err := loadAllRuleFiles(cfg.RulesDir())
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	seen := make(map[string]string)
	rules := make([]classify.Rule, 0, len(files))
	for _, file := range files {
		if existing, ok := seen[file.Rule.ID]; ok {
			return nil, fmt.Errorf("plugin: duplicate rule id %s (%s and %s)", file.Rule.ID, existing, file.Path)
		}
		seen[file.Rule.ID] = file.Path
		rules = append(rules, file.Rule)
	}
	return rules, nil
}

func loadAllRuleFiles(dir string) ([]RuleFile, error) {
	yamlRules, err := LoadRuleDir(dir)
	if err != nil {
		return nil, err
	}
	goRules, err := LoadGoRuleDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlRules, goRules...), nil
}
