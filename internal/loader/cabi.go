//go:build darwin || freebsd || linux

package loader

import (
	"errors"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/mattjoyce/bert/internal/module"
)

// CFactorySymbol is the entry point C ABI module libraries export.
const CFactorySymbol = "create_module"

// NewCABI returns a loader for C ABI module libraries (see abi/bert_module.h).
func NewCABI(opts ...Option) *Loader {
	return New(CABIOpener{}, CFactorySymbol, opts...)
}

// CABIOpener opens shared libraries with the platform dynamic linker.
type CABIOpener struct{}

// Open maps path with RTLD_NOW|RTLD_LOCAL so unresolved symbols fail here
// and nothing leaks into the global namespace.
func (CABIOpener) Open(path string) (Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &cLibrary{handle: handle}, nil
}

type cLibrary struct {
	handle uintptr
}

func (l *cLibrary) Lookup(symbol string) (Factory, error) {
	if l.handle == 0 {
		return nil, errors.New("library is closed")
	}
	sym, err := purego.Dlsym(l.handle, symbol)
	if err != nil {
		return nil, err
	}
	return func() (module.Module, error) {
		ptr, _, _ := purego.SyscallN(sym)
		if ptr == 0 {
			return nil, ErrNilModule
		}
		return newCModule(ptr)
	}, nil
}

func (l *cLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// cVTable mirrors struct bert_module.
type cVTable struct {
	self         uintptr
	name         uintptr
	commandCount uintptr
	commandName  uintptr
	destroy      uintptr
}

// cModule owns one bert_module. The raw pointer never leaves this type.
type cModule struct {
	ptr  uintptr
	self uintptr
	name string

	commandCount func(self uintptr) uintptr
	commandName  func(self uintptr, index uintptr) string
	destroy      func(ptr uintptr)
}

func newCModule(ptr uintptr) (*cModule, error) {
	vt := *(*cVTable)(unsafe.Pointer(ptr))

	m := &cModule{ptr: ptr, self: vt.self}
	if vt.destroy != 0 {
		purego.RegisterFunc(&m.destroy, vt.destroy)
	}
	if vt.name == 0 || vt.commandCount == 0 || vt.commandName == 0 {
		m.Dispose()
		return nil, errors.New("bert_module is missing name, command_count or command_name")
	}

	var name func(self uintptr) string
	purego.RegisterFunc(&name, vt.name)
	purego.RegisterFunc(&m.commandCount, vt.commandCount)
	purego.RegisterFunc(&m.commandName, vt.commandName)

	// The name is read once so the registered key and the instance never disagree.
	m.name = name(m.self)
	return m, nil
}

func (m *cModule) Name() string { return m.name }

func (m *cModule) Commands() []module.Command {
	n := m.commandCount(m.self)
	out := make([]module.Command, 0, n)
	for i := uintptr(0); i < n; i++ {
		out = append(out, module.Command{Name: m.commandName(m.self, i)})
	}
	return out
}

// Dispose hands the object back to the library's destroy function.
func (m *cModule) Dispose() {
	if m.destroy != nil && m.ptr != 0 {
		m.destroy(m.ptr)
	}
	m.destroy = nil
	m.ptr = 0
}
