// Package testutil builds real module artifacts for tests.
package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
)

// repoRoot walks up from this file to the directory holding go.mod.
func repoRoot(t testing.TB) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate testutil source file")
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("go.mod not found above " + file)
		}
		dir = parent
	}
}

// CCompiler returns the C compiler to use, skipping the test when there is none.
func CCompiler(t testing.TB) string {
	t.Helper()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "freebsd" {
		t.Skipf("C ABI modules unsupported on %s", runtime.GOOS)
	}
	for _, name := range []string{os.Getenv("CC"), "cc", "gcc", "clang"} {
		if name == "" {
			continue
		}
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no C compiler available")
	return ""
}

// BuildBaseModule compiles modules/base/cabi/base.c into out. Each define is
// passed as -D<define>, e.g. `BERT_EXTRA_COMMAND="pong"`.
func BuildBaseModule(t testing.TB, out string, defines ...string) {
	t.Helper()
	cc := CCompiler(t)
	root := repoRoot(t)

	args := []string{"-shared", "-fPIC", "-O0", "-I", filepath.Join(root, "abi")}
	for _, d := range defines {
		args = append(args, "-D"+d)
	}
	// Build next to out then rename so a loaded image is never rewritten in place.
	tmp := out + ".build"
	args = append(args, "-o", tmp, filepath.Join(root, "modules", "base", "cabi", "base.c"))

	cmd := exec.Command(cc, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("compile base module: %v\n%s", err, output)
	}
	if err := os.Rename(tmp, out); err != nil {
		t.Fatalf("install base module: %v", err)
	}
}
