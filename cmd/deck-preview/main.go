// cmd/deck-preview/main.go
//
// deck-preview classifies a receipt file and prints the demo timeline the
// TUI would play for it, without contacting a backend. Useful for tuning
// classifier rules under .auditdeck/rules.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/auditai/auditdeck/internal/classify"
	"github.com/auditai/auditdeck/internal/config"
	"github.com/auditai/auditdeck/internal/document"
	"github.com/auditai/auditdeck/internal/fallback"
	"github.com/auditai/auditdeck/plugins"
)

func main() {
	filePath := flag.String("file", "", "receipt file to classify")
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	flag.Parse()

	if strings.TrimSpace(*filePath) == "" {
		die("--file is required")
	}
	dir := *projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			die("resolve working directory: %v", err)
		}
		dir = cwd
	}

	cfg, err := config.NewConfig(dir)
	if err != nil {
		die("load config: %v", err)
	}
	rules, err := plugins.DiscoverRules(cfg)
	if err != nil {
		die("load classifier rules: %v", err)
	}

	doc, err := document.NewFileRef(*filePath)
	if err != nil {
		die("open receipt: %v", err)
	}

	profile := classify.NewHeuristic(rules...).Classify(doc)
	fmt.Printf("rule:     %s\n", profile.RuleID)
	fmt.Printf("merchant: %s\n", profile.Merchant)
	fmt.Printf("category: %s\n", profile.Category)
	fmt.Printf("amount:   $%.2f\n", profile.Amount)
	fmt.Printf("verdict:  %s\n\n", profile.Verdict)

	for _, step := range fallback.NewGenerator().BuildTimeline(profile).Steps() {
		marker := " "
		if step.Terminal {
			marker = "*"
		}
		fmt.Printf("%s %6s  %-12s %-10s  %s\n",
			marker, step.Offset, step.Note.Agent, step.Note.Status, step.Note.Message)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
