// Package base is the module every bert host carries. It answers ping.
package base

import "github.com/mattjoyce/bert/internal/module"

// Name is the name the base module registers under.
const Name = "base"

// New returns a fresh base module.
func New() module.Module {
	return module.NewBuiltin(Name,
		module.Command{Name: "ping", Description: "Check that the host is responsive"},
	)
}

// Register adds the base module to a builtin catalog.
func Register(c module.Catalog) {
	c[Name] = New
}
