package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/bert/internal/auth"
	"github.com/mattjoyce/bert/internal/config"
)

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.State.Dir = filepath.Join(dir, "data")
	cfg.Journal.Path = filepath.Join(dir, "data", "journal.db")
	cfg.TUI.Enabled = false
	return cfg
}

func newDoctor(cfg *config.Config) *Doctor {
	d := New(cfg, []string{"base"})
	d.isTTY = func() bool { return true }
	return d
}

func hasIssue(issues []Issue, field, contains string) bool {
	for _, i := range issues {
		if i.Field == field && strings.Contains(i.Message, contains) {
			return true
		}
	}
	return false
}

func TestValidateDefaultsIsClean(t *testing.T) {
	res := newDoctor(baseConfig(t)).Validate()
	if !res.Valid || len(res.Warnings) != 0 {
		t.Fatalf("expected clean result, got %+v", res)
	}
}

func TestValidateModules(t *testing.T) {
	cfg := baseConfig(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "libgood.so")
	if err := os.WriteFile(good, []byte("elf"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(dir, "other")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	twin := filepath.Join(sub, "libgood.so")
	if err := os.WriteFile(twin, []byte("elf"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg.Modules.Builtin = []string{"base", "ghost"}
	cfg.Modules.Paths = []string{good, filepath.Join(dir, "missing.so"), sub, twin}

	res := newDoctor(cfg).Validate()
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if !hasIssue(res.Errors, "modules.builtin[1]", `unknown builtin module "ghost"`) {
		t.Errorf("missing unknown builtin error: %+v", res.Errors)
	}
	if !hasIssue(res.Errors, "modules.paths[1]", "missing.so") {
		t.Errorf("missing artifact error: %+v", res.Errors)
	}
	if !hasIssue(res.Errors, "modules.paths[2]", "not a regular file") {
		t.Errorf("missing directory error: %+v", res.Errors)
	}
	if !hasIssue(res.Warnings, "modules.paths[3]", "shares file name") {
		t.Errorf("missing duplicate name warning: %+v", res.Warnings)
	}
}

func TestValidateStagingDir(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Loader.StagingDir = filepath.Join(t.TempDir(), "absent")

	res := newDoctor(cfg).Validate()
	if !hasIssue(res.Errors, "loader.staging_dir", "absent") {
		t.Fatalf("expected staging dir error, got %+v", res.Errors)
	}
}

func TestWarnOpenAPI(t *testing.T) {
	tests := []struct {
		name   string
		listen string
		tokens []auth.TokenConfig
		warn   bool
	}{
		{"loopback", "127.0.0.1:8087", nil, false},
		{"localhost", "localhost:8087", nil, false},
		{"all interfaces", ":8087", nil, true},
		{"public with tokens", "0.0.0.0:8087", []auth.TokenConfig{{Token: "t", Scopes: []string{"*"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t)
			cfg.API.Enabled = true
			cfg.API.Listen = tt.listen
			cfg.API.Tokens = tt.tokens

			res := newDoctor(cfg).Validate()
			if got := hasIssue(res.Warnings, "api.tokens", "without tokens"); got != tt.warn {
				t.Fatalf("warning = %v, want %v (%+v)", got, tt.warn, res.Warnings)
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Watch.Enabled = true
	cfg.TUI.Enabled = true

	d := newDoctor(cfg)
	d.isTTY = func() bool { return false }
	res := d.Validate()

	if !res.Valid {
		t.Fatalf("warnings must not invalidate: %+v", res.Errors)
	}
	if !hasIssue(res.Warnings, "watch.enabled", "no dynamic modules") {
		t.Errorf("missing idle watcher warning: %+v", res.Warnings)
	}
	if !hasIssue(res.Warnings, "tui.enabled", "not a terminal") {
		t.Errorf("missing terminal warning: %+v", res.Warnings)
	}
}
