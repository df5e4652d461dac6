// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for auditdeck.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen
//
// The stream adapter and the fallback runner live on their own goroutines
// and only send on channels; pump commands turn those channel reads into
// messages, so every session mutation happens inside Update.

package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/auditai/auditdeck/internal/classify"
	"github.com/auditai/auditdeck/internal/config"
	"github.com/auditai/auditdeck/internal/document"
	"github.com/auditai/auditdeck/internal/fallback"
	"github.com/auditai/auditdeck/internal/logbook"
	"github.com/auditai/auditdeck/internal/session"
	"github.com/auditai/auditdeck/internal/stream"
	"github.com/auditai/auditdeck/internal/updatelog"
	"github.com/auditai/auditdeck/internal/upload"
	"github.com/auditai/auditdeck/plugins"
)

// appState represents which "screen" we're on
type appState int

const (
	statePickFile appState = iota // Choosing a receipt from the project dir
	stateSubmitter                // Confirming the employee id
	stateWatching                 // Live activity log until the verdict
)

// receiptExtensions are the file types offered by the picker.
var receiptExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".pdf":  true,
	".txt":  true,
	".md":   true,
}

// Uploader posts a document and returns the backend submission id.
type Uploader interface {
	Submit(ctx context.Context, doc *document.FileRef, employeeID, department string) (string, error)
}

// StreamOpener opens the live subscription for a submission.
type StreamOpener interface {
	Open(ctx context.Context, submissionID string) stream.Subscription
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithUploader overrides the upload client.
func WithUploader(u Uploader) AppOption {
	return func(a *App) {
		if u != nil {
			a.uploader = u
		}
	}
}

// WithStreamOpener overrides the stream client.
func WithStreamOpener(s StreamOpener) AppOption {
	return func(a *App) {
		if s != nil {
			a.streamer = s
		}
	}
}

// WithClassifier overrides the receipt classifier.
func WithClassifier(c classify.Classifier) AppOption {
	return func(a *App) {
		if c != nil {
			a.classifier = c
		}
	}
}

type uploadDoneMsg struct {
	runID        string
	submissionID string
	err          error
}

type streamSignalMsg struct {
	runID string
	sig   stream.Signal
	ok    bool
}

type fallbackStepMsg struct {
	runID string
	step  fallback.Step
	ok    bool
}

// fileItem implements list.Item for the receipt picker.
type fileItem struct {
	name string
	path string
	size int64
}

func (i fileItem) Title() string { return i.name }
func (i fileItem) Description() string {
	return fmt.Sprintf("%s · %d bytes", filepath.Ext(i.name), i.size)
}
func (i fileItem) FilterValue() string { return i.name }

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state      appState
	config     *config.Config
	logbook    *logbook.Logbook
	controller *session.Controller

	uploader   Uploader
	streamer   StreamOpener
	classifier classify.Classifier
	generator  *fallback.Generator

	// UI components
	filePicker list.Model
	employee   textinput.Model
	spin       spinner.Model
	statusMsg  string

	// Active session plumbing, torn down on every reset
	doc            *document.FileRef
	runID          string
	sub            stream.Subscription
	subOpen        bool
	fallbackSteps  <-chan fallback.Step
	fallbackCancel context.CancelFunc

	width  int
	height int
}

// NewApp creates a new App instance rooted at the given project directory.
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	if err := config.InitDeckDir(projectDir); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	lb, err := logbook.New(cfg.SessionLogPath())
	if err != nil {
		return nil, err
	}
	lb.Info("Session opened · backend %s", cfg.BaseURL())

	classifier, err := buildClassifier(cfg, lb)
	if err != nil {
		return nil, err
	}

	picker := list.New(receiptItems(projectDir), list.NewDefaultDelegate(), 0, 0)
	picker.Title = "⬡ AUDITDECK · pick a receipt"
	picker.SetShowStatusBar(false)
	picker.SetFilteringEnabled(true)

	employee := textinput.New()
	employee.Placeholder = "employee id"
	employee.CharLimit = 64
	employee.SetValue(cfg.EmployeeID())

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	app := &App{
		state:      statePickFile,
		config:     cfg,
		logbook:    lb,
		controller: session.NewController(),
		uploader:   upload.NewClient(cfg.BaseURL(), upload.WithTimeout(cfg.UploadTimeout())),
		streamer:   stream.NewClient(cfg.BaseURL(), stream.WithWatchdog(cfg.Watchdog()), stream.WithLogger(lb)),
		classifier: classifier,
		generator:  fallback.NewGenerator(),
		filePicker: picker,
		employee:   employee,
		spin:       spin,
		statusMsg:  "Select a receipt to submit",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app, nil
}

func buildClassifier(cfg *config.Config, lb *logbook.Logbook) (classify.Classifier, error) {
	rules, err := plugins.DiscoverRules(cfg)
	if err != nil {
		// bad rule files are diagnosed, not fatal
		lb.Warn("classifier rules unavailable: %v", err)
		return classify.NewHeuristic(), nil
	}
	if len(rules) > 0 {
		lb.Info("Loaded %d extra classifier rule(s)", len(rules))
	}
	return classify.NewHeuristic(rules...), nil
}

// receiptItems lists candidate receipt files in dir, newest names last.
func receiptItems(dir string) []list.Item {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var items []list.Item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !receiptExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, fileItem{
			name: entry.Name(),
			path: filepath.Join(dir, entry.Name()),
			size: info.Size(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].(fileItem).name < items[j].(fileItem).name
	})
	return items
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.spin.Tick
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.filePicker.SetSize(max(0, msg.Width-6), max(0, msg.Height-12))
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case uploadDoneMsg:
		eff := a.controller.CompleteUpload(msg.runID, msg.submissionID, msg.err)
		if msg.err != nil {
			a.logbook.Error("Upload failed: %v", msg.err)
		} else {
			a.logbook.Info("Upload complete · submission %s", msg.submissionID)
		}
		return a, a.actuate(eff)

	case streamSignalMsg:
		if !msg.ok {
			// subscription channel closed; nothing left to pump
			return a, nil
		}
		eff := a.controller.ApplySignal(msg.runID, msg.sig)
		return a, tea.Batch(a.pumpStream(msg.runID), a.actuate(eff))

	case fallbackStepMsg:
		if !msg.ok {
			return a, nil
		}
		eff := a.controller.ApplyFallbackStep(msg.runID, msg.step)
		return a, tea.Batch(a.pumpFallback(msg.runID), a.actuate(eff))

	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}
	}

	var cmds []tea.Cmd
	switch a.state {
	case statePickFile:
		var cmd tea.Cmd
		a.filePicker, cmd = a.filePicker.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	case stateSubmitter:
		var cmd tea.Cmd
		a.employee, cmd = a.employee.Update(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return a, tea.Batch(cmds...)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		a.teardown()
		return a, tea.Quit, true
	case "q":
		// "q" quits everywhere except the text input
		if a.state != stateSubmitter {
			a.teardown()
			return a, tea.Quit, true
		}
	case "esc":
		switch a.state {
		case stateSubmitter:
			a.state = statePickFile
			a.statusMsg = "Select a receipt to submit"
			return a, nil, true
		case stateWatching:
			if a.controller.Terminal() {
				return a.resetForNewSubmission()
			}
		}
	case "n":
		if a.state == stateWatching && a.controller.Terminal() {
			return a.resetForNewSubmission()
		}
	case "r":
		if a.state == statePickFile {
			a.filePicker.SetItems(receiptItems(a.config.ProjectDir))
			a.statusMsg = "Rescanned project directory"
			return a, nil, true
		}
	case "enter":
		switch a.state {
		case statePickFile:
			return a.confirmFileSelection()
		case stateSubmitter:
			return a.beginSubmission()
		case stateWatching:
			if a.controller.Terminal() {
				return a.resetForNewSubmission()
			}
		}
	}
	return a, nil, false
}

func (a *App) confirmFileSelection() (tea.Model, tea.Cmd, bool) {
	item, ok := a.filePicker.SelectedItem().(fileItem)
	if !ok {
		a.statusMsg = "No receipt files found. Drop one in the project directory and press r."
		return a, nil, true
	}
	doc, err := document.NewFileRef(item.path)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Cannot read %s: %v", item.name, err)
		a.logbook.Warn("Receipt unreadable: %v", err)
		return a, nil, true
	}
	a.doc = doc
	a.state = stateSubmitter
	a.employee.Focus()
	a.statusMsg = fmt.Sprintf("Submitting %s · confirm employee id", doc.Name())
	return a, textinput.Blink, true
}

func (a *App) beginSubmission() (tea.Model, tea.Cmd, bool) {
	employeeID := strings.TrimSpace(a.employee.Value())
	if employeeID == "" {
		a.statusMsg = "Employee id is required"
		return a, nil, true
	}
	if err := a.config.SetEmployeeID(employeeID); err != nil {
		a.logbook.Warn("Could not persist employee id: %v", err)
	}
	runID, err := a.controller.BeginSubmission(a.doc)
	if err != nil {
		a.statusMsg = fmt.Sprintf("Cannot submit: %v", err)
		return a, nil, true
	}
	a.teardown()
	a.runID = runID
	a.state = stateWatching
	a.employee.Blur()
	a.statusMsg = "Uploading..."
	a.logbook.Info("Submitting %s for %s", a.doc.Name(), employeeID)

	doc := a.doc
	department := a.config.Department()
	uploader := a.uploader
	timeout := a.config.UploadTimeout()
	cmd := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		id, err := uploader.Submit(ctx, doc, employeeID, department)
		return uploadDoneMsg{runID: runID, submissionID: id, err: err}
	}
	return a, tea.Batch(cmd, a.spin.Tick), true
}

// actuate performs the side effect a controller transition asked for.
func (a *App) actuate(eff session.Effect) tea.Cmd {
	switch eff {
	case session.EffectOpenStream:
		a.sub = a.streamer.Open(context.Background(), a.controller.SubmissionID())
		a.subOpen = true
		a.statusMsg = "Watching live processing..."
		return a.pumpStream(a.runID)
	case session.EffectStartFallback:
		if a.subOpen {
			a.sub.Close()
			a.subOpen = false
		}
		profile := a.classifier.Classify(a.doc)
		a.logbook.Warn("Live stream unavailable · demo timeline for %s (%s)", profile.Merchant, profile.RuleID)
		timeline := a.generator.BuildTimeline(profile)
		ctx, cancel := context.WithCancel(context.Background())
		a.fallbackCancel = cancel
		a.fallbackSteps = timeline.Run(ctx)
		a.statusMsg = "Live stream unavailable · showing expected processing"
		return a.pumpFallback(a.runID)
	case session.EffectSessionEnded:
		a.teardown()
		if final := a.controller.FinalStatus(); final != "" {
			a.statusMsg = fmt.Sprintf("Session resolved: %s · n → new submission", final)
			a.logbook.Info("Session resolved: %s", final)
		} else {
			a.statusMsg = "Session failed · n → new submission"
			a.logbook.Error("Session failed: %s", a.controller.LastError())
		}
		return nil
	default:
		return nil
	}
}

// pumpStream turns the next subscription read into a message.
func (a *App) pumpStream(runID string) tea.Cmd {
	if !a.subOpen {
		return nil
	}
	signals := a.sub.Signals
	return func() tea.Msg {
		sig, ok := <-signals
		return streamSignalMsg{runID: runID, sig: sig, ok: ok}
	}
}

// pumpFallback turns the next timeline step into a message.
func (a *App) pumpFallback(runID string) tea.Cmd {
	steps := a.fallbackSteps
	if steps == nil {
		return nil
	}
	return func() tea.Msg {
		step, ok := <-steps
		return fallbackStepMsg{runID: runID, step: step, ok: ok}
	}
}

// teardown cancels the live subscription and any pending fallback timers.
func (a *App) teardown() {
	if a.subOpen {
		a.sub.Close()
		a.subOpen = false
	}
	if a.fallbackCancel != nil {
		a.fallbackCancel()
		a.fallbackCancel = nil
	}
	a.fallbackSteps = nil
}

func (a *App) resetForNewSubmission() (tea.Model, tea.Cmd, bool) {
	a.teardown()
	a.doc = nil
	a.runID = ""
	a.state = statePickFile
	a.filePicker.SetItems(receiptItems(a.config.ProjectDir))
	a.statusMsg = "Select a receipt to submit"
	return a, nil, true
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ AUDITDECK")

	var content string
	switch a.state {
	case statePickFile:
		content = a.filePicker.View()
	case stateSubmitter:
		content = a.renderSubmitter()
	case stateWatching:
		content = a.renderActivity(width - 8)
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, width-4)).
		Render(content)

	sections := []string{header, box}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderSubmitter() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("Receipt: %s", a.doc.Name()))
	prompt := "Employee id: " + a.employee.View()
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MarginTop(1).
		Render("Enter → upload    Esc → back")
	return lipgloss.JoinVertical(lipgloss.Left, title, "", prompt, hint)
}

func (a *App) renderActivity(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(a.activityTitle())
	entries := a.controller.Entries()
	if len(entries) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "Waiting for the first update...")
	}
	var rows []string
	for _, entry := range entries {
		rows = append(rows, a.renderEntry(entry.Timestamp, statusGlyph(entry.Status), entry.Agent, entry.Message, width))
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(rows, "\n"))
}

func (a *App) activityTitle() string {
	label := fmt.Sprintf("Activity · %s", a.controller.State())
	if a.controller.Mode() == session.ModeDemo {
		label += " (demo)"
	}
	if !a.controller.Terminal() {
		label = a.spin.View() + label
	}
	return label
}

func (a *App) renderEntry(ts time.Time, glyph, agent, message string, width int) string {
	line := fmt.Sprintf("%s %s %-12s %s", ts.Format("15:04:05"), glyph, agent, message)
	return lipgloss.NewStyle().Width(max(20, width)).Render(line)
}

func statusGlyph(status updatelog.Status) string {
	switch status {
	case updatelog.StatusComplete:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECB71")).Render("✓")
	case updatelog.StatusError:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render("✗")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D35E")).Render("...")
	}
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines := a.logbook.Tail(6)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
