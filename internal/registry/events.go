package registry

import "time"

// EventKind names a registry state change.
type EventKind string

const (
	EventLoaded       EventKind = "loaded"
	EventInserted     EventKind = "inserted"
	EventReloaded     EventKind = "reloaded"
	EventReloadFailed EventKind = "reload_failed"
	EventReleased     EventKind = "released"
)

// Event is delivered synchronously to observers after each state change.
type Event struct {
	Kind   EventKind
	Module string
	Source string
	Digest string
	Err    error
	At     time.Time
}

// Observer receives registry events. It runs on the caller's goroutine and
// must not call back into the registry.
type Observer func(Event)
