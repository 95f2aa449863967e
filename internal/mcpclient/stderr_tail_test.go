package mcpclient

import "testing"

func TestStderrTail(t *testing.T) {
	buf := newStderrTail(3)

	_, _ = buf.Write([]byte("a\nb"))
	_, _ = buf.Write([]byte("\n"))
	if got := buf.Tail(2); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected tail: %v", got)
	}

	_, _ = buf.Write([]byte("c\r\nd\npartial"))

	got := buf.Tail(3)
	expected := []string{"b", "c", "d", "partial"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d lines, got %d: %v", len(expected), len(got), got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("unexpected line %d: want %q got %q", i, expected[i], got[i])
		}
	}

	if empty := newStderrTail(2).Tail(5); empty != nil {
		t.Fatalf("expected nil for empty buffer, got %v", empty)
	}
}
