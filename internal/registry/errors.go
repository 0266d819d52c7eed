package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrModuleNotFound reports that no module is registered under a name.
	ErrModuleNotFound = errors.New("module not found")
	// ErrNonReloadableOrigin reports a reload of a builtin module.
	ErrNonReloadableOrigin = errors.New("module is builtin and can not be reloaded")
)

// NameMismatchError reports that a reloaded artifact identifies itself
// under a different name than the module it was meant to replace.
type NameMismatchError struct {
	Expected string
	Actual   string
}

func (e *NameMismatchError) Error() string {
	return fmt.Sprintf("module name mismatch: expected %q, got %q", e.Expected, e.Actual)
}
