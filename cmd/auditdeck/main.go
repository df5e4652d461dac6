// cmd/auditdeck/main.go
//
// This is the entry point for the auditdeck TUI.
// When you run `auditdeck` from any directory, this is what executes.
//
// Flow:
// 1. Resolve the project directory (flag or cwd)
// 2. Initialize the .auditdeck folder
// 3. Launch the TUI

package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/auditai/auditdeck/internal/tui"
)

func main() {
	projectDir := flag.String("project", "", "path to the project directory (defaults to cwd)")
	flag.Parse()

	dir := *projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
			os.Exit(1)
		}
		dir = cwd
	}

	app, err := tui.NewApp(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing auditdeck: %v\n", err)
		os.Exit(1)
	}

	// tea.NewProgram creates a new bubbletea application
	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)

	// Run blocks until the user quits
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		os.Exit(1)
	}
}
