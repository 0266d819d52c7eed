package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/staging"
)

// Image owns a module instance together with the library that holds its
// code and the staged file the library was mapped from.
type Image struct {
	Name     string        // Name reported by the instance at load time
	Instance module.Module // The constructed module
	Source   string        // Absolute path of the original artifact
	Staged   string        // Path of the staged copy
	Digest   string        // BLAKE3 digest of the staged bytes
	LoadedAt time.Time

	lib      Library
	copy     *staging.Copy
	released bool
}

// Release tears the image down in dependency order: the instance is
// disposed, then the library is closed, then the staged file is removed.
// Every step runs even if an earlier one fails. Release is idempotent.
func (img *Image) Release() error {
	if img == nil || img.released {
		return nil
	}
	img.released = true

	if d, ok := img.Instance.(module.Disposer); ok {
		d.Dispose()
	}
	img.Instance = nil

	var errs []error
	if img.lib != nil {
		if err := img.lib.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close library %s: %w", img.Staged, err))
		}
		img.lib = nil
	}
	if err := img.copy.Remove(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
