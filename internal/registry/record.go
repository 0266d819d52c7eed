package registry

import (
	"time"

	"github.com/mattjoyce/bert/internal/loader"
	"github.com/mattjoyce/bert/internal/module"
)

// OriginKind distinguishes builtin modules from dynamically loaded ones.
type OriginKind string

const (
	OriginBuiltin OriginKind = "builtin"
	OriginDynamic OriginKind = "dynamic"
)

// Origin describes where a registered module came from. Source, Staged and
// Digest are empty for builtins.
type Origin struct {
	Kind     OriginKind `json:"kind"`
	Source   string     `json:"source,omitempty"`
	Staged   string     `json:"staged,omitempty"`
	Digest   string     `json:"digest,omitempty"`
	LoadedAt time.Time  `json:"loaded_at"`
}

// record is the stored unit. For dynamic modules image owns the instance,
// its library and the staged copy.
type record struct {
	name     string
	instance module.Module
	origin   Origin
	image    *loader.Image
	seq      uint64 // registration order, bumped on successful reload
}

func builtinRecord(m module.Module) *record {
	return &record{
		name:     m.Name(),
		instance: m,
		origin:   Origin{Kind: OriginBuiltin, LoadedAt: time.Now().UTC()},
	}
}

func dynamicRecord(img *loader.Image) *record {
	return &record{
		name:     img.Name,
		instance: img.Instance,
		origin: Origin{
			Kind:     OriginDynamic,
			Source:   img.Source,
			Staged:   img.Staged,
			Digest:   img.Digest,
			LoadedAt: img.LoadedAt,
		},
		image: img,
	}
}

// release tears the record down. Builtins hold nothing to release.
func (r *record) release() error {
	r.instance = nil
	if r.image == nil {
		return nil
	}
	return r.image.Release()
}
