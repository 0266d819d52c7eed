package loader_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/loader/mocks"
	"github.com/mattjoyce/bert/internal/module"
)

// disposable records when it is disposed.
type disposable struct {
	*module.Builtin
	trace *[]string
}

func (d *disposable) Dispose() { *d.trace = append(*d.trace, "dispose") }

func writeArtifact(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("image"), 0o755))
	return path
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

func factoryOf(m module.Module, err error) loader.Factory {
	return func() (module.Module, error) { return m, err }
}

func TestLoadSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	opener := mocks.NewMockOpener(ctrl)
	lib := mocks.NewMockLibrary(ctrl)
	stageDir := t.TempDir()
	src := writeArtifact(t, "libbase.so")

	var openedPath string
	opener.EXPECT().Open(gomock.Any()).DoAndReturn(func(path string) (loader.Library, error) {
		openedPath = path
		return lib, nil
	})
	lib.EXPECT().Lookup(loader.CFactorySymbol).Return(factoryOf(module.NewBuiltin("base", module.Command{Name: "ping"}), nil), nil)

	l := loader.New(opener, loader.CFactorySymbol, loader.WithStagingDir(stageDir))
	img, err := l.Load(src)
	require.NoError(t, err)

	assert.Equal(t, "base", img.Name)
	assert.Equal(t, []string{"ping"}, module.CommandNames(img.Instance))
	assert.Equal(t, src, img.Source)
	assert.Equal(t, openedPath, img.Staged, "library must be opened from the staged copy")
	assert.NotEqual(t, src, img.Staged)
	assert.True(t, strings.HasPrefix(filepath.Base(img.Staged), "libbase.so_"))
	assert.NotEmpty(t, img.Digest)
	assert.False(t, img.LoadedAt.IsZero())
	assert.Equal(t, []string{img.Staged}, stagedFiles(t, stageDir))

	lib.EXPECT().Close().Return(nil)
	require.NoError(t, img.Release())
	assert.Empty(t, stagedFiles(t, stageDir))
}

func TestLoadFailuresLeaveNothingBehind(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(opener *mocks.MockOpener, lib *mocks.MockLibrary)
		wantErr error
	}{
		{
			name: "open fails",
			setup: func(opener *mocks.MockOpener, lib *mocks.MockLibrary) {
				opener.EXPECT().Open(gomock.Any()).Return(nil, errors.New("invalid ELF header"))
			},
			wantErr: loader.ErrOpen,
		},
		{
			name: "factory symbol missing",
			setup: func(opener *mocks.MockOpener, lib *mocks.MockLibrary) {
				opener.EXPECT().Open(gomock.Any()).Return(lib, nil)
				lib.EXPECT().Lookup(loader.CFactorySymbol).Return(nil, errors.New("undefined symbol"))
				lib.EXPECT().Close().Return(nil)
			},
			wantErr: loader.ErrMissingFactory,
		},
		{
			name: "factory returns nothing",
			setup: func(opener *mocks.MockOpener, lib *mocks.MockLibrary) {
				opener.EXPECT().Open(gomock.Any()).Return(lib, nil)
				lib.EXPECT().Lookup(loader.CFactorySymbol).Return(factoryOf(nil, nil), nil)
				lib.EXPECT().Close().Return(nil)
			},
			wantErr: loader.ErrNilModule,
		},
		{
			name: "factory fails and close fails",
			setup: func(opener *mocks.MockOpener, lib *mocks.MockLibrary) {
				opener.EXPECT().Open(gomock.Any()).Return(lib, nil)
				lib.EXPECT().Lookup(loader.CFactorySymbol).Return(factoryOf(nil, loader.ErrNilModule), nil)
				lib.EXPECT().Close().Return(errors.New("dlclose failed"))
			},
			wantErr: loader.ErrNilModule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			opener := mocks.NewMockOpener(ctrl)
			lib := mocks.NewMockLibrary(ctrl)
			tt.setup(opener, lib)

			stageDir := t.TempDir()
			l := loader.New(opener, loader.CFactorySymbol, loader.WithStagingDir(stageDir))
			img, err := l.Load(writeArtifact(t, "libbase.so"))

			assert.Nil(t, img)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, stagedFiles(t, stageDir))
		})
	}
}

func TestLoadMissingArtifactNeverOpens(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: any Open call fails the test.
	opener := mocks.NewMockOpener(ctrl)

	l := loader.New(opener, loader.CFactorySymbol, loader.WithStagingDir(t.TempDir()))
	_, err := l.Load(filepath.Join(t.TempDir(), "missing.so"))

	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.NotErrorIs(t, err, loader.ErrOpen)
}

func TestReleaseOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	opener := mocks.NewMockOpener(ctrl)
	lib := mocks.NewMockLibrary(ctrl)
	stageDir := t.TempDir()

	var trace []string
	instance := &disposable{Builtin: module.NewBuiltin("base"), trace: &trace}

	opener.EXPECT().Open(gomock.Any()).Return(lib, nil)
	lib.EXPECT().Lookup(loader.CFactorySymbol).Return(factoryOf(instance, nil), nil)

	l := loader.New(opener, loader.CFactorySymbol, loader.WithStagingDir(stageDir))
	img, err := l.Load(writeArtifact(t, "libbase.so"))
	require.NoError(t, err)

	lib.EXPECT().Close().DoAndReturn(func() error {
		trace = append(trace, "close")
		// The staged file backs the mapping and must outlive it.
		_, statErr := os.Stat(img.Staged)
		assert.NoError(t, statErr)
		return errors.New("dlclose failed")
	})

	err = img.Release()
	assert.ErrorContains(t, err, "dlclose failed")
	assert.Equal(t, []string{"dispose", "close"}, trace)
	assert.Empty(t, stagedFiles(t, stageDir), "staged file is removed even when close fails")
	assert.Nil(t, img.Instance)

	// Second release is a no-op.
	assert.NoError(t, img.Release())
}

func TestGoPluginOpenRejectsNonPlugin(t *testing.T) {
	l := loader.NewGoPlugin(loader.WithStagingDir(t.TempDir()))
	assert.Equal(t, loader.GoFactorySymbol, l.Symbol())

	_, err := l.Load(writeArtifact(t, "notaplugin.so"))
	assert.ErrorIs(t, err, loader.ErrOpen)
}
