package loader

import (
	"fmt"
	"plugin"

	"github.com/mattjoyce/bert/internal/module"
)

// GoFactorySymbol is the function Go plugin modules export:
//
//	func CreateModule() module.Module
const GoFactorySymbol = "CreateModule"

// NewGoPlugin returns a loader for modules built with -buildmode=plugin.
//
// The Go runtime never unmaps a plugin, and it refuses to open a second copy
// of a plugin whose code is byte-identical to one already loaded. Reloading
// therefore only succeeds after the artifact has actually been rebuilt.
func NewGoPlugin(opts ...Option) *Loader {
	return New(GoPluginOpener{}, GoFactorySymbol, opts...)
}

// GoPluginOpener opens Go plugins.
type GoPluginOpener struct{}

func (GoPluginOpener) Open(path string) (Library, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &goLibrary{p: p}, nil
}

type goLibrary struct {
	p *plugin.Plugin
}

func (l *goLibrary) Lookup(symbol string) (Factory, error) {
	sym, err := l.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	create, ok := sym.(func() module.Module)
	if !ok {
		return nil, fmt.Errorf("symbol %s has type %T, want func() module.Module", symbol, sym)
	}
	return func() (module.Module, error) {
		return create(), nil
	}, nil
}

// Close is a no-op: Go plugins stay mapped until the process exits.
func (l *goLibrary) Close() error {
	return nil
}
