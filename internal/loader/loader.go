// Package loader implements the dynamic loading protocol: stage an artifact,
// open the staged copy, resolve the fixed factory entry point, invoke it once
// and take ownership of the module it returns.
package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/staging"
)

//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/mattjoyce/bert/internal/loader Opener,Library

var (
	// ErrOpen reports that a staged copy could not be opened as a library
	// (bad format, architecture mismatch, unresolved dependencies).
	ErrOpen = errors.New("open library")
	// ErrMissingFactory reports that the library does not export the factory
	// entry point, or exports it with the wrong type.
	ErrMissingFactory = errors.New("resolve factory")
	// ErrNilModule reports that the factory ran but produced no module.
	ErrNilModule = errors.New("factory returned no module")
)

// Factory constructs one module instance.
type Factory func() (module.Module, error)

// Library is an opened library image.
type Library interface {
	// Lookup resolves the named factory entry point.
	Lookup(symbol string) (Factory, error)
	// Close releases the image. Modules it produced must be unreachable.
	Close() error
}

// Opener opens library images from paths.
type Opener interface {
	Open(path string) (Library, error)
}

// Loader runs the loading protocol against one library backend.
type Loader struct {
	opener Opener
	symbol string
	stager *staging.Stager
	logger *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithStagingDir sets where staged copies are written.
func WithStagingDir(dir string) Option {
	return func(l *Loader) { l.stager = staging.NewStager(dir) }
}

// WithLogger sets the loader's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New returns a loader that opens images with opener and resolves symbol as
// the factory entry point.
func New(opener Opener, symbol string, opts ...Option) *Loader {
	l := &Loader{
		opener: opener,
		symbol: symbol,
		stager: staging.NewStager(""),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Symbol returns the factory entry point the loader resolves.
func (l *Loader) Symbol() string { return l.symbol }

// Load stages path, opens the copy and constructs its module. On failure
// nothing stays open and the staged copy is removed.
func (l *Loader) Load(path string) (*Image, error) {
	source, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve module path %q: %w", path, err)
	}

	staged, err := l.stager.Stage(source)
	if err != nil {
		return nil, err
	}
	logger := l.logger.With("source", source, "staged", staged.Path)
	logger.Debug("staged module artifact", "digest", staged.Digest)

	lib, err := l.opener.Open(staged.Path)
	if err != nil {
		l.discard(logger, nil, staged)
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, source, err)
	}

	factory, err := lib.Lookup(l.symbol)
	if err != nil {
		l.discard(logger, lib, staged)
		return nil, fmt.Errorf("%w %q in %s: %w", ErrMissingFactory, l.symbol, source, err)
	}

	instance, err := factory()
	if err == nil && instance == nil {
		err = ErrNilModule
	}
	if err != nil {
		l.discard(logger, lib, staged)
		return nil, fmt.Errorf("construct module from %s: %w", source, err)
	}

	return &Image{
		Name:     instance.Name(),
		Instance: instance,
		Source:   source,
		Staged:   staged.Path,
		Digest:   staged.Digest,
		LoadedAt: time.Now().UTC(),
		lib:      lib,
		copy:     staged,
	}, nil
}

func (l *Loader) discard(logger *slog.Logger, lib Library, staged *staging.Copy) {
	if lib != nil {
		if err := lib.Close(); err != nil {
			logger.Warn("failed to close library after load failure", "error", err)
		}
	}
	if err := staged.Remove(); err != nil {
		logger.Warn("failed to remove staged copy after load failure", "error", err)
	}
}
