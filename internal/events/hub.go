// Package events fans registry events out to live subscribers and keeps a
// short backlog for clients that connect late.
package events

import (
	"sync"
	"time"

	"github.com/mattjoyce/bert/internal/registry"
)

// Event is a registry event as streamed to clients.
type Event struct {
	ID     int64     `json:"id"`
	Type   string    `json:"type"`
	Module string    `json:"module"`
	Source string    `json:"source,omitempty"`
	Digest string    `json:"digest,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

// Hub is an in-memory pub/sub with a ring buffer backlog.
type Hub struct {
	mu     sync.Mutex
	nextID int64
	ring   []Event
	start  int
	size   int

	subs      map[int]chan Event
	nextSubID int
}

// NewHub returns a hub retaining up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Observer adapts the hub to a registry observer.
func (h *Hub) Observer() registry.Observer {
	return func(ev registry.Event) {
		e := Event{
			Type:   "module." + string(ev.Kind),
			Module: ev.Module,
			Source: ev.Source,
			Digest: ev.Digest,
			At:     ev.At.UTC(),
		}
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		h.Publish(e)
	}
}

// Publish assigns the next ID to e and delivers it. Subscribers whose
// buffer is full miss the event rather than block the publisher.
func (h *Hub) Publish(e Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	e.ID = h.nextID
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	h.pushLocked(e)
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// Subscribe returns a channel of future events and a cancel func that
// closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest first.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
