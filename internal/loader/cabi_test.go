//go:build darwin || freebsd || linux

package loader_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/testutil"
)

func TestCABILoadBaseModule(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libbase.so")
	testutil.BuildBaseModule(t, lib, `BERT_EXTRA_COMMAND="pong"`)

	stageDir := t.TempDir()
	img, err := loader.NewCABI(loader.WithStagingDir(stageDir)).Load(lib)
	require.NoError(t, err)

	assert.Equal(t, "base", img.Name)
	assert.Equal(t, "base", img.Instance.Name())
	assert.Equal(t, []string{"ping", "pong"}, module.CommandNames(img.Instance))

	require.NoError(t, img.Release())
	entries, err := os.ReadDir(stageDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCABIRejectsCorruptImage(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libbase.so")
	require.NoError(t, os.WriteFile(lib, []byte("\x7fELF truncated"), 0o755))

	_, err := loader.NewCABI(loader.WithStagingDir(t.TempDir())).Load(lib)
	assert.ErrorIs(t, err, loader.ErrOpen)
}

func TestCABIMissingFactory(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libbase.so")
	testutil.BuildBaseModule(t, lib, "create_module=renamed_factory")

	stageDir := t.TempDir()
	_, err := loader.NewCABI(loader.WithStagingDir(stageDir)).Load(lib)
	assert.ErrorIs(t, err, loader.ErrMissingFactory)

	entries, _ := os.ReadDir(stageDir)
	assert.Empty(t, entries)
}
