package logbuf

import (
	"fmt"
	"testing"
)

func texts(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Text)
	}
	return out
}

func TestBufferSplitsLines(t *testing.T) {
	b := New(10)

	fmt.Fprint(b, "first\nsec")
	fmt.Fprint(b, "ond\nthird\n")

	got := texts(b.Lines())
	want := []string{"first", "second", "third"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("Lines() = %q, want %q", got, want)
	}
}

func TestBufferRingOverwritesOldest(t *testing.T) {
	b := New(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}

	lines := b.Lines()
	if len(lines) != 3 {
		t.Fatalf("retained %d lines, want 3", len(lines))
	}
	if lines[0].Text != "line 3" || lines[2].Text != "line 5" {
		t.Fatalf("unexpected ring contents %q", texts(lines))
	}
	if lines[0].Seq != 3 || lines[2].Seq != 5 {
		t.Fatalf("unexpected sequence numbers %d..%d", lines[0].Seq, lines[2].Seq)
	}
}

func TestBufferSince(t *testing.T) {
	b := New(10)
	fmt.Fprint(b, "a\nb\nc\n")

	got := texts(b.Since(2))
	if len(got) != 1 || got[0] != "c" {
		t.Fatalf("Since(2) = %q, want [c]", got)
	}
	if n := len(b.Since(3)); n != 0 {
		t.Fatalf("Since(3) returned %d lines, want 0", n)
	}
}
