// internal/config/config.go
//
// This package handles configuration and the .auditdeck directory
// structure. Every project that runs auditdeck gets a .auditdeck/ folder
// created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DeckDir is the name of the directory we create in each project.
	DeckDir = ".auditdeck"

	defaultBaseURL           = "http://127.0.0.1:8080"
	defaultEmployeeID        = "demo-user"
	defaultUploadTimeoutSecs = 20
	defaultWatchdogSecs      = 30
)

const defaultProjectConfigYAML = `# auditdeck configuration
version: 1

server:
  base_url: http://127.0.0.1:8080
  upload_timeout_secs: 20
  watchdog_secs: 30

submitter:
  employee_id: demo-user
  # department: engineering
`

// ServerConfig points at the expense backend.
type ServerConfig struct {
	BaseURL           string `yaml:"base_url"`
	UploadTimeoutSecs int    `yaml:"upload_timeout_secs"`
	WatchdogSecs      int    `yaml:"watchdog_secs"`
}

// SubmitterConfig identifies who the receipts are filed for.
type SubmitterConfig struct {
	EmployeeID string `yaml:"employee_id"`
	Department string `yaml:"department,omitempty"`
}

// ProjectConfig models .auditdeck/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	Submitter SubmitterConfig `yaml:"submitter"`
}

// Config holds the runtime configuration for auditdeck.
type Config struct {
	// ProjectDir is the directory where the user ran `auditdeck` from.
	ProjectDir string

	// DeckProjectDir is ProjectDir/.auditdeck.
	DeckProjectDir string

	Project ProjectConfig
}

// InitDeckDir creates the .auditdeck directory structure in the given
// project directory. This is called when the TUI starts up.
//
// Structure created:
// .auditdeck/
// ├── logs/       <- Session diagnostics (skipped frames, transport errors)
// └── rules/      <- Extra classifier rules (YAML or Go plugin files)
func InitDeckDir(projectDir string) error {
	deckDir := filepath.Join(projectDir, DeckDir)

	dirs := []string{
		filepath.Join(deckDir, "logs"),
		filepath.Join(deckDir, "rules"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(deckDir, "config.yaml"))
}

// NewConfig creates a Config populated from .auditdeck/config.yaml with
// environment overrides applied on top.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:     projectDir,
		DeckProjectDir: filepath.Join(projectDir, DeckDir),
		Project:        defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DeckProjectDir, "logs")
}

// SessionLogPath returns the diagnostic log file location.
func (c *Config) SessionLogPath() string {
	return filepath.Join(c.LogsDir(), "session.log")
}

// RulesDir returns the directory scanned for extra classifier rules.
func (c *Config) RulesDir() string {
	return filepath.Join(c.DeckProjectDir, "rules")
}

// ProjectConfigPath returns the on-disk location for the config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.DeckProjectDir, "config.yaml")
}

// BaseURL returns the backend base URL.
func (c *Config) BaseURL() string {
	return c.Project.Server.BaseURL
}

// EmployeeID returns the configured submitter identifier.
func (c *Config) EmployeeID() string {
	return c.Project.Submitter.EmployeeID
}

// Department returns the optional department field, empty when unset.
func (c *Config) Department() string {
	return c.Project.Submitter.Department
}

// UploadTimeout returns the bound on one upload request.
func (c *Config) UploadTimeout() time.Duration {
	return time.Duration(c.Project.Server.UploadTimeoutSecs) * time.Second
}

// Watchdog returns how long a silent stream is tolerated before the
// session falls back to the demo timeline.
func (c *Config) Watchdog() time.Duration {
	return time.Duration(c.Project.Server.WatchdogSecs) * time.Second
}

// SetEmployeeID updates the submitter identifier and persists the value
// back to .auditdeck/config.yaml so the next launch remembers it.
func (c *Config) SetEmployeeID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: employee id is required")
	}
	c.Project.Submitter.EmployeeID = id
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) saveProjectConfig() error {
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(c.DeckProjectDir, 0755); err != nil {
		return fmt.Errorf("config: ensure %s: %w", c.DeckProjectDir, err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", c.ProjectConfigPath(), err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Server: ServerConfig{
			BaseURL:           defaultBaseURL,
			UploadTimeoutSecs: defaultUploadTimeoutSecs,
			WatchdogSecs:      defaultWatchdogSecs,
		},
		Submitter: SubmitterConfig{
			EmployeeID: defaultEmployeeID,
		},
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if base := strings.TrimSpace(os.Getenv("AUDITDECK_BASE_URL")); base != "" {
		pc.Server.BaseURL = base
	}
	if id := strings.TrimSpace(os.Getenv("AUDITDECK_EMPLOYEE_ID")); id != "" {
		pc.Submitter.EmployeeID = id
	}
	if dept := strings.TrimSpace(os.Getenv("AUDITDECK_DEPARTMENT")); dept != "" {
		pc.Submitter.Department = dept
	}
	if secs := strings.TrimSpace(os.Getenv("AUDITDECK_WATCHDOG_SECS")); secs != "" {
		if parsed, err := strconv.Atoi(secs); err == nil && parsed > 0 {
			pc.Server.WatchdogSecs = parsed
		}
	}
}

func (pc *ProjectConfig) normalize() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	pc.Server.BaseURL = strings.TrimRight(strings.TrimSpace(pc.Server.BaseURL), "/")
	if pc.Server.BaseURL == "" {
		pc.Server.BaseURL = defaultBaseURL
	}
	if pc.Server.UploadTimeoutSecs <= 0 {
		pc.Server.UploadTimeoutSecs = defaultUploadTimeoutSecs
	}
	if pc.Server.WatchdogSecs <= 0 {
		pc.Server.WatchdogSecs = defaultWatchdogSecs
	}
	pc.Submitter.EmployeeID = strings.TrimSpace(pc.Submitter.EmployeeID)
	if pc.Submitter.EmployeeID == "" {
		pc.Submitter.EmployeeID = defaultEmployeeID
	}
	pc.Submitter.Department = strings.TrimSpace(pc.Submitter.Department)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !strings.HasPrefix(pc.Server.BaseURL, "http://") && !strings.HasPrefix(pc.Server.BaseURL, "https://") {
		return fmt.Errorf("server.base_url must be an http(s) URL, got %q", pc.Server.BaseURL)
	}
	return nil
}

// ensureProjectConfig writes the starter config file if one does not
// already exist. An existing file is left untouched.
func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
