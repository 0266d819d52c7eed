// Package logbuf keeps the most recent log lines in memory so a terminal
// view can render them while the process owns the screen.
package logbuf

import (
	"bytes"
	"sync"
)

// Line is one complete log line.
type Line struct {
	Seq  int64
	Text string
}

// Buffer is an io.Writer that splits its input into lines and retains the
// newest ones in a ring.
type Buffer struct {
	mu      sync.Mutex
	ring    []Line
	start   int
	size    int
	nextSeq int64
	partial []byte
}

// New returns a buffer retaining up to capacity lines.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Buffer{ring: make([]Line, capacity)}
}

// Write implements io.Writer. Incomplete trailing data is held until its
// newline arrives.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := p
	if len(b.partial) > 0 {
		data = append(b.partial, p...)
		b.partial = nil
	}
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.pushLocked(string(data[:i]))
		data = data[i+1:]
	}
	if len(data) > 0 {
		b.partial = append([]byte(nil), data...)
	}
	return len(p), nil
}

// Since returns retained lines with Seq > seq, oldest first.
func (b *Buffer) Since(seq int64) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Line, 0, b.size)
	for i := 0; i < b.size; i++ {
		l := b.ring[(b.start+i)%len(b.ring)]
		if l.Seq > seq {
			out = append(out, l)
		}
	}
	return out
}

// Lines returns every retained line, oldest first.
func (b *Buffer) Lines() []Line {
	return b.Since(0)
}

func (b *Buffer) pushLocked(text string) {
	b.nextSeq++
	l := Line{Seq: b.nextSeq, Text: text}

	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.start+b.size)%capacity] = l
		b.size++
		return
	}

	// Overwrite oldest.
	b.ring[b.start] = l
	b.start = (b.start + 1) % capacity
}
