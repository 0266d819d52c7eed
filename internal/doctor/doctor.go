// Package doctor checks a bert configuration against the filesystem and
// the builtin catalog without loading anything.
package doctor

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"

	"github.com/mattn/go-isatty"

	"github.com/mattjoyce/bert/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates configuration against the environment.
type Doctor struct {
	cfg      *config.Config
	builtins []string
	isTTY    func() bool
}

// New creates a Doctor for cfg. builtins are the names the host can
// construct in-process.
func New(cfg *config.Config, builtins []string) *Doctor {
	return &Doctor{
		cfg:      cfg,
		builtins: builtins,
		isTTY: func() bool {
			fd := os.Stdout.Fd()
			return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
		},
	}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{}

	d.validateBuiltins(r)
	d.validateArtifacts(r)
	d.validateDirs(r)
	d.warnOpenAPI(r)
	d.warnIdleWatcher(r)
	d.warnNoTerminal(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateBuiltins(r *Result) {
	for i, name := range d.cfg.Modules.Builtin {
		if !slices.Contains(d.builtins, name) {
			d.addError(r, "modules", fmt.Sprintf("modules.builtin[%d]", i),
				fmt.Sprintf("unknown builtin module %q (available: %v)", name, d.builtins))
		}
	}
}

func (d *Doctor) validateArtifacts(r *Result) {
	seen := make(map[string]string)
	for i, path := range d.cfg.Modules.Paths {
		field := fmt.Sprintf("modules.paths[%d]", i)

		info, err := os.Stat(path)
		if err != nil {
			d.addError(r, "modules", field, fmt.Sprintf("artifact %s: %v", path, err))
			continue
		}
		if !info.Mode().IsRegular() {
			d.addError(r, "modules", field, fmt.Sprintf("artifact %s is not a regular file", path))
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			d.addError(r, "modules", field, fmt.Sprintf("artifact %s is not readable: %v", path, err))
			continue
		}
		_ = f.Close()

		// Staged copies are named after the file, so equal base names make
		// the staging directory harder to read.
		base := filepath.Base(path)
		if prev, ok := seen[base]; ok {
			d.addWarning(r, "modules", field, fmt.Sprintf("artifact %s shares file name with %s", path, prev))
		}
		seen[base] = path
	}
}

func (d *Doctor) validateDirs(r *Result) {
	if dir := d.cfg.Loader.StagingDir; dir != "" {
		if err := checkWritableDir(dir); err != nil {
			d.addError(r, "loader", "loader.staging_dir", err.Error())
		}
	}
	if d.cfg.Journal.Enabled {
		if err := checkWritableDir(nearestExisting(filepath.Dir(d.cfg.Journal.Path))); err != nil {
			d.addError(r, "journal", "journal.path", err.Error())
		}
	}
	if err := checkWritableDir(nearestExisting(d.cfg.State.Dir)); err != nil {
		d.addError(r, "state", "state.dir", err.Error())
	}
}

func (d *Doctor) warnOpenAPI(r *Result) {
	if !d.cfg.API.Enabled || len(d.cfg.API.Tokens) > 0 {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
		return
	}
	if ip := net.ParseIP(host); host == "localhost" || (ip != nil && ip.IsLoopback()) {
		return
	}
	d.addWarning(r, "api", "api.tokens",
		fmt.Sprintf("API listens on %s without tokens; anyone who can reach it can load modules", d.cfg.API.Listen))
}

func (d *Doctor) warnIdleWatcher(r *Result) {
	if d.cfg.Watch.Enabled && len(d.cfg.Modules.Paths) == 0 && !d.cfg.API.Enabled {
		d.addWarning(r, "watch", "watch.enabled", "watcher enabled but no dynamic modules can ever be loaded")
	}
}

func (d *Doctor) warnNoTerminal(r *Result) {
	if d.cfg.TUI.Enabled && !d.isTTY() {
		d.addWarning(r, "tui", "tui.enabled", "log view enabled but stdout is not a terminal; set tui.enabled: false for services")
	}
}

func checkWritableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".bert-doctor-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

// nearestExisting returns dir or its closest existing parent, since the
// host creates missing state directories on start.
func nearestExisting(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
