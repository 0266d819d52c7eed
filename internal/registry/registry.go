// Package registry stores modules by name and implements transactional
// hot reload of dynamically loaded modules.
//
// A Registry is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves.
package registry

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/module"
)

// Loader runs the dynamic loading protocol for one artifact path.
type Loader interface {
	Load(path string) (*loader.Image, error)
}

// Registry holds module records keyed by module name.
type Registry struct {
	loader    Loader
	records   map[string]*record
	logger    *slog.Logger
	observers []Observer
	seq       uint64 // last record sequence number
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger status lines are written to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithObserver adds an observer for registry events.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observers = append(r.observers, o) }
}

// New creates an empty registry that loads artifacts with l.
func New(l Loader, opts ...Option) *Registry {
	r := &Registry{
		loader:  l,
		records: make(map[string]*record),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load loads the artifact at path and registers its module under the name
// the module reports, replacing any module already registered under it.
// It returns that name.
func (r *Registry) Load(path string) (string, error) {
	img, err := r.loader.Load(path)
	if err != nil {
		return "", err
	}
	rec := dynamicRecord(img)
	r.put(rec)

	r.logger.Info("loaded module", "module", rec.name, "source", rec.origin.Source, "digest", rec.origin.Digest)
	r.emit(Event{Kind: EventLoaded, Module: rec.name, Source: rec.origin.Source, Digest: rec.origin.Digest})
	return rec.name, nil
}

// Insert registers a builtin module under m.Name(), replacing any module
// already registered under it. It returns that name.
func (r *Registry) Insert(m module.Module) string {
	rec := builtinRecord(m)
	r.put(rec)

	r.logger.Debug("inserted builtin module", "module", rec.name)
	r.emit(Event{Kind: EventInserted, Module: rec.name})
	return rec.name
}

// Reload replaces a dynamically loaded module with a fresh load of its
// source artifact. On any failure the registered module is left exactly as
// it was.
func (r *Registry) Reload(name string) (string, error) {
	old, ok := r.records[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}
	if old.origin.Kind != OriginDynamic {
		return "", fmt.Errorf("%w: %q", ErrNonReloadableOrigin, name)
	}

	// Detach without releasing: the old image stays mapped and usable until
	// the replacement is known to be good.
	delete(r.records, name)

	img, err := r.loader.Load(old.origin.Source)
	if err != nil {
		r.records[name] = old
		r.reloadFailed(old, err)
		return "", err
	}
	if img.Name != name {
		mismatch := &NameMismatchError{Expected: name, Actual: img.Name}
		if releaseErr := img.Release(); releaseErr != nil {
			r.logger.Warn("failed to release rejected module", "module", img.Name, "staged", img.Staged, "error", releaseErr)
		}
		r.records[name] = old
		r.reloadFailed(old, mismatch)
		return "", mismatch
	}

	rec := dynamicRecord(img)
	r.seq++
	rec.seq = r.seq
	r.records[name] = rec
	unchanged := rec.origin.Digest == old.origin.Digest
	r.release(old)

	r.logger.Info(fmt.Sprintf("Successfully reloaded module: %s", name),
		"module", name,
		"source", rec.origin.Source,
		"digest", rec.origin.Digest,
		"unchanged", unchanged,
	)
	r.emit(Event{Kind: EventReloaded, Module: name, Source: rec.origin.Source, Digest: rec.origin.Digest})
	return name, nil
}

// Modules yields every registered module. The sequence reads the live
// collection and must not be held across calls that modify the registry.
func (r *Registry) Modules() iter.Seq[module.Module] {
	return func(yield func(module.Module) bool) {
		for _, rec := range r.records {
			if !yield(rec.instance) {
				return
			}
		}
	}
}

// Get returns the module registered under name.
func (r *Registry) Get(name string) (module.Module, bool) {
	rec, ok := r.records[name]
	if !ok {
		return nil, false
	}
	return rec.instance, true
}

// Origin returns where the module registered under name came from.
func (r *Registry) Origin(name string) (Origin, bool) {
	rec, ok := r.records[name]
	if !ok {
		return Origin{}, false
	}
	return rec.origin, true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.records))
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	return len(r.records)
}

// NameForSource returns the name of the dynamic module loaded from source.
// When several modules came from the same artifact (it was rebuilt under a
// new name and loaded again), the most recently loaded one wins.
func (r *Registry) NameForSource(source string) (string, bool) {
	var found *record
	for _, rec := range r.records {
		if rec.origin.Kind != OriginDynamic || rec.origin.Source != source {
			continue
		}
		if found == nil || rec.seq > found.seq {
			found = rec
		}
	}
	if found == nil {
		return "", false
	}
	return found.name, true
}

// Close releases every module. The registry is empty afterwards.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.Names() {
		rec := r.records[name]
		delete(r.records, name)
		if err := rec.release(); err != nil {
			errs = append(errs, fmt.Errorf("release %s: %w", name, err))
		}
		r.emit(Event{Kind: EventReleased, Module: name, Source: rec.origin.Source})
	}
	return errors.Join(errs...)
}

// put stores rec, releasing whatever it supersedes.
func (r *Registry) put(rec *record) {
	r.seq++
	rec.seq = r.seq
	old, exists := r.records[rec.name]
	r.records[rec.name] = rec
	if exists {
		r.release(old)
	}
}

// release tears a superseded record down. Failures are logged, not returned.
func (r *Registry) release(rec *record) {
	if err := rec.release(); err != nil {
		r.logger.Warn("failed to release module", "module", rec.name, "staged", rec.origin.Staged, "error", err)
	}
	r.emit(Event{Kind: EventReleased, Module: rec.name, Source: rec.origin.Source})
}

func (r *Registry) reloadFailed(rec *record, err error) {
	r.logger.Warn("module reload failed, keeping current module", "module", rec.name, "source", rec.origin.Source, "error", err)
	r.emit(Event{Kind: EventReloadFailed, Module: rec.name, Source: rec.origin.Source, Err: err})
}

func (r *Registry) emit(ev Event) {
	ev.At = time.Now().UTC()
	for _, o := range r.observers {
		o(ev)
	}
}
