package module

// Builtin is a module constructed in-process with a fixed command list.
// It has no source artifact and can not be reloaded.
type Builtin struct {
	name     string
	commands []Command
}

// NewBuiltin returns a builtin module with the given name and commands.
func NewBuiltin(name string, commands ...Command) *Builtin {
	return &Builtin{
		name:     name,
		commands: append([]Command(nil), commands...),
	}
}

func (b *Builtin) Name() string { return b.name }

// Commands returns a copy so callers can not mutate the declared list.
func (b *Builtin) Commands() []Command {
	return append([]Command(nil), b.commands...)
}

// Constructor builds a fresh module instance.
type Constructor func() Module

// Catalog maps builtin module names to their constructors.
type Catalog map[string]Constructor

// Build constructs the named builtins in the given order.
// Unknown names are returned separately so callers can report them.
func (c Catalog) Build(names []string) (mods []Module, unknown []string) {
	for _, name := range names {
		ctor, ok := c[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		mods = append(mods, ctor())
	}
	return mods, unknown
}
