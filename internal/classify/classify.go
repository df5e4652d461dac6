// Package classify assigns a merchant profile to a submitted receipt so
// the demo fallback can synthesize plausible notifications. Classification
// is rule-driven: a small built-in rule table covers the common receipt
// categories, and projects can extend it with rule plugins. A real
// extraction service can replace the whole thing behind the Classifier
// interface without touching the session state machine.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/auditai/auditdeck/internal/document"
)

// Verdict is the policy outcome a rule predicts for its category.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictFlagged  Verdict = "flagged-for-review"
	VerdictRejected Verdict = "rejected"
)

// Rule maps receipt keywords to a fixed merchant profile.
type Rule struct {
	ID            string   `yaml:"id"`
	Keywords      []string `yaml:"keywords"`
	Merchant      string   `yaml:"merchant"`
	Category      string   `yaml:"category"`
	DefaultAmount float64  `yaml:"default_amount"`
	Verdict       Verdict  `yaml:"verdict"`
	Citation      string   `yaml:"citation"`
}

// Normalized returns a trimmed, lower-cased-keyword copy of the rule.
func (r Rule) Normalized() Rule {
	clone := Rule{
		ID:            strings.TrimSpace(r.ID),
		Merchant:      strings.TrimSpace(r.Merchant),
		Category:      strings.TrimSpace(r.Category),
		DefaultAmount: r.DefaultAmount,
		Verdict:       Verdict(strings.TrimSpace(string(r.Verdict))),
		Citation:      strings.TrimSpace(r.Citation),
	}
	for _, keyword := range r.Keywords {
		trimmed := strings.ToLower(strings.TrimSpace(keyword))
		if trimmed == "" {
			continue
		}
		clone.Keywords = append(clone.Keywords, trimmed)
	}
	return clone
}

// Validate ensures a rule is usable before it reaches the classifier.
func (r Rule) Validate() error {
	normalized := r.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("classify: rule id is required")
	}
	if len(normalized.Keywords) == 0 {
		return fmt.Errorf("classify: rule %s: at least one keyword is required", normalized.ID)
	}
	if normalized.Merchant == "" {
		return fmt.Errorf("classify: rule %s: merchant is required", normalized.ID)
	}
	if normalized.Category == "" {
		return fmt.Errorf("classify: rule %s: category is required", normalized.ID)
	}
	switch normalized.Verdict {
	case VerdictApproved, VerdictFlagged, VerdictRejected:
	default:
		return fmt.Errorf("classify: rule %s: verdict %q is not recognized", normalized.ID, normalized.Verdict)
	}
	return nil
}

// Profile is the classification result for one document.
type Profile struct {
	RuleID   string
	Merchant string
	Category string
	Amount   float64
	Verdict  Verdict
	Citation string
}

// Classifier produces a profile for a submitted document.
type Classifier interface {
	Classify(doc *document.FileRef) Profile
}

// amountPattern extracts "Total: $<number>" from receipt text.
var amountPattern = regexp.MustCompile(`(?i)total:\s*\$\s*([0-9]+(?:\.[0-9]{1,2})?)`)

const unclassifiedAmount = 45.00

// BuiltinRules returns the default rule table. Order matters: the first
// matching rule wins, and alcohol outranks the food categories so a dinner
// receipt listing wine is judged by the alcohol policy.
func BuiltinRules() []Rule {
	return []Rule{
		{
			ID:            "bar-or-alcohol",
			Keywords:      []string{"wine", "beer", "bar", "brewery", "pub", "cocktail", "alcohol"},
			Merchant:      "Bar/Restaurant",
			Category:      "Meals & Entertainment",
			DefaultAmount: 62.30,
			Verdict:       VerdictRejected,
			Citation:      "Alcohol purchases are not reimbursable (Expense Policy 6.2)",
		},
		{
			ID:            "rideshare",
			Keywords:      []string{"uber", "lyft", "taxi", "rideshare"},
			Merchant:      "Uber",
			Category:      "Ground Transportation",
			DefaultAmount: 18.40,
			Verdict:       VerdictApproved,
			Citation:      "Ground transportation within the daily cap (Expense Policy 3.4)",
		},
		{
			ID:            "coffee-shop",
			Keywords:      []string{"starbucks", "coffee", "cafe", "espresso", "latte"},
			Merchant:      "Starbucks",
			Category:      "Meals & Refreshments",
			DefaultAmount: 25.55,
			Verdict:       VerdictApproved,
			Citation:      "Within the $50 per-meal limit (Expense Policy 4.1)",
		},
		{
			ID:            "office-supplies",
			Keywords:      []string{"staples", "office depot", "supplies", "stationery"},
			Merchant:      "Office Depot",
			Category:      "Office Supplies",
			DefaultAmount: 89.99,
			Verdict:       VerdictApproved,
			Citation:      "Pre-approved supply category (Expense Policy 2.1)",
		},
	}
}

// unclassifiedRule is the profile used when no rule matches.
func unclassifiedRule() Rule {
	return Rule{
		ID:            "unclassified",
		Merchant:      "Unknown Merchant",
		Category:      "General Expense",
		DefaultAmount: unclassifiedAmount,
		Verdict:       VerdictFlagged,
		Citation:      "Category could not be determined; manual review required",
	}
}

// Heuristic is the keyword classifier used when no real extraction data is
// available. It matches case-insensitively against the file name and, for
// non-image files, the text snapshot.
type Heuristic struct {
	rules []Rule
}

// NewHeuristic builds a classifier from custom rules followed by the
// built-in table. Custom rules take precedence. Invalid rules are skipped.
func NewHeuristic(custom ...Rule) *Heuristic {
	var rules []Rule
	for _, rule := range append(custom, BuiltinRules()...) {
		if rule.Validate() != nil {
			continue
		}
		rules = append(rules, rule.Normalized())
	}
	return &Heuristic{rules: rules}
}

// Classify matches the document against the rule table. Given identical
// file name and content, the result is identical on every run.
func (h *Heuristic) Classify(doc *document.FileRef) Profile {
	text := ""
	if doc != nil && !doc.IsImage() {
		text = doc.TextSnapshot()
	}
	haystack := strings.ToLower(doc.Name() + "\n" + text)
	rule := unclassifiedRule()
	for _, candidate := range h.rules {
		if matchesAny(haystack, candidate.Keywords) {
			rule = candidate
			break
		}
	}
	amount := rule.DefaultAmount
	if extracted, ok := extractAmount(text); ok {
		amount = extracted
	}
	return Profile{
		RuleID:   rule.ID,
		Merchant: rule.Merchant,
		Category: rule.Category,
		Amount:   amount,
		Verdict:  rule.Verdict,
		Citation: rule.Citation,
	}
}

func matchesAny(haystack string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(haystack, keyword) {
			return true
		}
	}
	return false
}

func extractAmount(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	match := amountPattern.FindStringSubmatch(text)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
