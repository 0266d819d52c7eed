package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads configuration from a file, or from config.yaml inside a
// directory. Values not present in the file keep their defaults.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML %s: %w", absPath, err)
	}
	cfg.Path = absPath

	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfig finds a config file by checking standard locations.
// Priority order: $BERT_CONFIG, ~/.config/bert/config.yaml, ./config.yaml
func DiscoverConfig() (string, error) {
	if path := os.Getenv("BERT_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "bert", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $BERT_CONFIG, ~/.config/bert/config.yaml, ./config.yaml)")
}

// interpolateEnv replaces ${VAR} with the environment value (empty if unset).
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// resolvePaths makes relative paths relative to the config file directory.
func resolvePaths(cfg *Config, baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	cfg.State.Dir = resolve(cfg.State.Dir)
	cfg.Loader.StagingDir = resolve(cfg.Loader.StagingDir)
	cfg.Journal.Path = resolve(cfg.Journal.Path)
	for i, p := range cfg.Modules.Paths {
		cfg.Modules.Paths[i] = resolve(p)
	}
}

// validate checks configuration values that have no safe fallback.
func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Loader.Backend) {
	case BackendCABI, BackendGoPlugin:
		cfg.Loader.Backend = strings.ToLower(cfg.Loader.Backend)
	default:
		return fmt.Errorf("loader.backend %q is not supported (valid: %s, %s)", cfg.Loader.Backend, BackendCABI, BackendGoPlugin)
	}

	if strings.TrimSpace(cfg.State.Dir) == "" {
		return fmt.Errorf("state.dir is required")
	}

	seen := make(map[string]bool, len(cfg.Modules.Paths))
	for i, p := range cfg.Modules.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("modules.paths[%d] is empty", i)
		}
		if seen[p] {
			return fmt.Errorf("modules.paths[%d] duplicates %s", i, p)
		}
		seen[p] = true
	}
	for i, name := range cfg.Modules.Builtin {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("modules.builtin[%d] is empty", i)
		}
	}

	if cfg.Watch.Enabled && cfg.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if cfg.API.Enabled && strings.TrimSpace(cfg.API.Listen) == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	for i, t := range cfg.API.Tokens {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("api.tokens[%d].token is empty", i)
		}
		if len(t.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d] has no scopes", i)
		}
	}
	if cfg.TUI.Enabled && cfg.TUI.Tick <= 0 {
		return fmt.Errorf("tui.tick must be positive")
	}
	if cfg.Journal.Enabled && strings.TrimSpace(cfg.Journal.Path) == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	return nil
}
