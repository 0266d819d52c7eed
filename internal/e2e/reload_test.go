//go:build darwin || freebsd || linux

package e2e

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/registry"
	"github.com/mattjoyce/bert/internal/testutil"
)

type fixture struct {
	lib      string
	stageDir string
	reg      *registry.Registry
}

func newFixture(t *testing.T, defines ...string) *fixture {
	t.Helper()
	f := &fixture{
		lib:      filepath.Join(t.TempDir(), "libbase.so"),
		stageDir: t.TempDir(),
	}
	testutil.BuildBaseModule(t, f.lib, defines...)
	f.reg = registry.New(loader.NewCABI(loader.WithStagingDir(f.stageDir)))
	t.Cleanup(func() {
		if err := f.reg.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return f
}

// snapshot returns name -> command names for every registered module.
func (f *fixture) snapshot() map[string][]string {
	out := make(map[string][]string)
	for m := range f.reg.Modules() {
		out[m.Name()] = module.CommandNames(m)
	}
	return out
}

func (f *fixture) stagedCopies(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.stageDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "libbase.so_") {
			out = append(out, e.Name())
		}
	}
	return out
}

func mustLoad(t *testing.T, f *fixture) {
	t.Helper()
	name, err := f.reg.Load(f.lib)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != "base" {
		t.Fatalf("Load returned %q, want base", name)
	}
}

func assertSnapshot(t *testing.T, f *fixture, want []string) {
	t.Helper()
	got := f.snapshot()
	if len(got) != 1 {
		t.Fatalf("registry holds %d modules, want 1: %v", len(got), got)
	}
	if !slices.Equal(got["base"], want) {
		t.Fatalf("base commands = %v, want %v", got["base"], want)
	}
}

func TestLoadBaseModule(t *testing.T) {
	f := newFixture(t)
	mustLoad(t, f)

	assertSnapshot(t, f, []string{"ping"})
	if n := len(f.stagedCopies(t)); n != 1 {
		t.Fatalf("%d staged copies on disk, want 1", n)
	}
}

func TestReloadPicksUpRebuiltModule(t *testing.T) {
	f := newFixture(t)
	mustLoad(t, f)

	testutil.BuildBaseModule(t, f.lib, `BERT_EXTRA_COMMAND="pong"`)

	name, err := f.reg.Reload("base")
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if name != "base" {
		t.Fatalf("Reload returned %q, want base", name)
	}
	assertSnapshot(t, f, []string{"ping", "pong"})
}

func TestReloadCorruptModuleKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	mustLoad(t, f)
	before, _ := f.reg.Origin("base")

	if err := os.WriteFile(f.lib, []byte("\x7fELF"), 0o755); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	_, err := f.reg.Reload("base")
	if !errors.Is(err, loader.ErrOpen) {
		t.Fatalf("Reload error = %v, want loader.ErrOpen", err)
	}
	assertSnapshot(t, f, []string{"ping"})

	after, _ := f.reg.Origin("base")
	if after != before {
		t.Fatalf("origin changed after failed reload: %+v -> %+v", before, after)
	}
	if n := len(f.stagedCopies(t)); n != 1 {
		t.Fatalf("%d staged copies on disk, want 1", n)
	}
}

func TestReloadRenamedModuleKeepsPrevious(t *testing.T) {
	f := newFixture(t)
	mustLoad(t, f)

	testutil.BuildBaseModule(t, f.lib, `BERT_MODULE_NAME="renamed"`, `BERT_EXTRA_COMMAND="pong"`)

	_, err := f.reg.Reload("base")
	var mismatch *registry.NameMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Reload error = %v, want NameMismatchError", err)
	}
	if mismatch.Actual != "renamed" {
		t.Fatalf("mismatch.Actual = %q, want renamed", mismatch.Actual)
	}
	assertSnapshot(t, f, []string{"ping"})
}

func TestRepeatedReloadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	mustLoad(t, f)

	for i := range 5 {
		name, err := f.reg.Reload("base")
		if err != nil {
			t.Fatalf("reload %d: %v", i, err)
		}
		if name != "base" {
			t.Fatalf("reload %d returned %q", i, name)
		}
		assertSnapshot(t, f, []string{"ping"})
		if n := len(f.stagedCopies(t)); n != 1 {
			t.Fatalf("reload %d: %d staged copies on disk, want 1", i, n)
		}
	}
}

func TestBuiltinAndDynamicSideBySide(t *testing.T) {
	f := newFixture(t, `BERT_MODULE_NAME="dyn"`)
	f.reg.Insert(module.NewBuiltin("base", module.Command{Name: "ping"}))

	name, err := f.reg.Load(f.lib)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if name != "dyn" {
		t.Fatalf("Load returned %q, want dyn", name)
	}

	if _, err := f.reg.Reload("base"); !errors.Is(err, registry.ErrNonReloadableOrigin) {
		t.Fatalf("Reload(base) error = %v, want ErrNonReloadableOrigin", err)
	}
	if _, err := f.reg.Reload("dyn"); err != nil {
		t.Fatalf("Reload(dyn): %v", err)
	}
	if got := f.reg.Names(); !slices.Equal(got, []string{"base", "dyn"}) {
		t.Fatalf("Names() = %v", got)
	}
}
