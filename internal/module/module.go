// Package module defines the capability contract every module satisfies,
// whether it is compiled into the host or produced by a shared library.
package module

// Command is the descriptor a module exposes for one of its commands.
// Nothing at this layer invokes commands; the descriptor is metadata only.
type Command struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Module is a pluggable unit exposing a stable name and its commands.
type Module interface {
	// Name is the module's identity and the key it is registered under.
	Name() string
	// Commands returns the module's commands in the module's own order.
	Commands() []Command
}

// Disposer is implemented by modules whose state lives inside the library
// image that produced them. Dispose is called once, before that image is
// released.
type Disposer interface {
	Dispose()
}

// CommandNames returns the names of m's commands, preserving order.
func CommandNames(m Module) []string {
	cmds := m.Commands()
	out := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, c.Name)
	}
	return out
}
