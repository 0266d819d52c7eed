//go:build !(darwin || freebsd || linux)

package loader

import (
	"errors"
	"runtime"
)

// CFactorySymbol is the entry point C ABI module libraries export.
const CFactorySymbol = "create_module"

// NewCABI returns a loader for C ABI module libraries. On this platform
// every Open fails.
func NewCABI(opts ...Option) *Loader {
	return New(CABIOpener{}, CFactorySymbol, opts...)
}

// CABIOpener is unavailable on this platform.
type CABIOpener struct{}

func (CABIOpener) Open(path string) (Library, error) {
	return nil, errors.New("C ABI modules are not supported on " + runtime.GOOS)
}
