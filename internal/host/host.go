// Package host serializes access to one module registry so it can be
// shared by the API server, the artifact watcher and the terminal view.
package host

import (
	"fmt"
	"sync"

	"github.com/mattjoyce/bert/internal/module"
	"github.com/mattjoyce/bert/internal/registry"
)

// ModuleInfo is a point-in-time copy of one registered module.
type ModuleInfo struct {
	Name     string           `json:"name"`
	Commands []module.Command `json:"commands"`
	Origin   registry.Origin  `json:"origin"`
}

// CommandNames returns the names of the module's commands in order.
func (m ModuleInfo) CommandNames() []string {
	out := make([]string, 0, len(m.Commands))
	for _, c := range m.Commands {
		out = append(out, c.Name)
	}
	return out
}

// Host guards a registry with a mutex.
type Host struct {
	mu  sync.Mutex
	reg *registry.Registry
}

// New wraps reg. The caller must not use reg directly afterwards.
func New(reg *registry.Registry) *Host {
	return &Host{reg: reg}
}

// Load loads the artifact at path and returns the registered module,
// read under the same lock as the load.
func (h *Host) Load(path string) (ModuleInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, err := h.reg.Load(path)
	if err != nil {
		return ModuleInfo{}, err
	}
	info, _ := h.info(name)
	return info, nil
}

// Insert registers a builtin module.
func (h *Host) Insert(m module.Module) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Insert(m)
}

// Reload reloads the named module from its source artifact and returns the
// replacement.
func (h *Host) Reload(name string) (ModuleInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.reg.Reload(name); err != nil {
		return ModuleInfo{}, err
	}
	info, _ := h.info(name)
	return info, nil
}

// ReloadSource reloads the dynamic module that was loaded from source.
func (h *Host) ReloadSource(source string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.reg.NameForSource(source)
	if !ok {
		return "", fmt.Errorf("%w: no module loaded from %s", registry.ErrModuleNotFound, source)
	}
	return h.reg.Reload(name)
}

// Module returns a copy of the named module's metadata.
func (h *Host) Module(name string) (ModuleInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info(name)
}

// Snapshot returns every registered module sorted by name.
func (h *Host) Snapshot() []ModuleInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	names := h.reg.Names()
	out := make([]ModuleInfo, 0, len(names))
	for _, name := range names {
		info, _ := h.info(name)
		out = append(out, info)
	}
	return out
}

// Sources returns the source paths of all dynamically loaded modules.
func (h *Host) Sources() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string
	for _, name := range h.reg.Names() {
		if origin, _ := h.reg.Origin(name); origin.Kind == registry.OriginDynamic {
			out = append(out, origin.Source)
		}
	}
	return out
}

// Len returns the number of registered modules.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Len()
}

// Close releases every module.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reg.Close()
}

// info copies the named module's metadata. Callers hold h.mu.
func (h *Host) info(name string) (ModuleInfo, bool) {
	m, ok := h.reg.Get(name)
	if !ok {
		return ModuleInfo{}, false
	}
	origin, _ := h.reg.Origin(name)
	return ModuleInfo{Name: name, Commands: m.Commands(), Origin: origin}, true
}
