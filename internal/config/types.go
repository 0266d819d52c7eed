package config

import (
	"time"

	"github.com/mattjoyce/bert/internal/auth"
)

// Backend names accepted by loader.backend.
const (
	BackendCABI     = "cabi"
	BackendGoPlugin = "goplugin"
)

// Config represents the complete bert configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Loader  LoaderConfig  `yaml:"loader"`
	Modules ModulesConfig `yaml:"modules"`
	Watch   WatchConfig   `yaml:"watch"`
	API     APIConfig     `yaml:"api"`
	TUI     TUIConfig     `yaml:"tui"`
	Journal JournalConfig `yaml:"journal"`

	// Path is the file the configuration was loaded from.
	Path string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines where runtime state (PID lock) lives.
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// LoaderConfig selects the library backend and staging location.
type LoaderConfig struct {
	Backend    string `yaml:"backend"`
	StagingDir string `yaml:"staging_dir,omitempty"` // Empty means the OS temp dir
}

// ModulesConfig lists the modules registered at startup.
type ModulesConfig struct {
	Builtin []string `yaml:"builtin,omitempty"`
	Paths   []string `yaml:"paths,omitempty"`
}

// WatchConfig controls reloading modules when their artifacts change.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool               `yaml:"enabled"`
	Listen  string             `yaml:"listen"`
	Tokens  []auth.TokenConfig `yaml:"tokens,omitempty"`
}

// TUIConfig controls the terminal log viewer.
type TUIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tick    time.Duration `yaml:"tick"`
}

// JournalConfig controls the SQLite module event journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "bert",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Dir: "./data",
		},
		Loader: LoaderConfig{
			Backend: BackendCABI,
		},
		Modules: ModulesConfig{
			Builtin: []string{"base"},
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 250 * time.Millisecond,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8087",
		},
		TUI: TUIConfig{
			Enabled: true,
			Tick:    100 * time.Millisecond,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "./data/journal.db",
		},
	}
}
