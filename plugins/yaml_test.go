package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/auditai/auditdeck/internal/classify"
)

const sampleRules = `rules:
  - id: hotel
    keywords: [marriott, hilton, hotel]
    merchant: Hotel
    category: Lodging
    default_amount: 189.00
    verdict: approved
    citation: Within the nightly lodging cap (Expense Policy 5.3)
  - id: gambling
    keywords: [casino, lottery]
    merchant: Casino
    category: Entertainment
    default_amount: 100.00
    verdict: rejected
    citation: Gambling expenses are not reimbursable (Expense Policy 6.4)
`

func TestParseRulesYAML(t *testing.T) {
	rules, err := ParseRulesYAML([]byte(sampleRules))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].ID != "hotel" || rules[0].Verdict != classify.VerdictApproved {
		t.Fatalf("unexpected rule: %+v", rules[0])
	}
	if rules[1].Merchant != "Casino" {
		t.Fatalf("unexpected rule: %+v", rules[1])
	}
}

func TestParseRulesYAMLErrors(t *testing.T) {
	if _, err := ParseRulesYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	missingVerdict := "rules:\n  - id: x\n    keywords: [a]\n    merchant: M\n    category: C\n"
	if _, err := ParseRulesYAML([]byte(missingVerdict)); err == nil {
		t.Fatalf("expected invalid rule to fail validation")
	}
}

func TestLoadRuleDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "extra.yaml")
	if err := os.WriteFile(path, []byte(sampleRules), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	files, err := LoadRuleDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(files))
	}
	if files[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, files[0].Path)
	}
}

func TestLoadRuleDirMissing(t *testing.T) {
	files, err := LoadRuleDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", files)
	}
}
