package mcpclient

import (
	"bytes"
	"strings"
	"sync"
)

const maxPartialLine = 4096

// stderrTail keeps the last lines a server process wrote to stderr so
// transport failures can carry them.
type stderrTail struct {
	mu      sync.Mutex
	lines   []string
	next    int
	count   int
	partial []byte
}

func newStderrTail(size int) *stderrTail {
	if size <= 0 {
		size = DefaultStderrLines
	}
	return &stderrTail{lines: make([]string, size)}
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		t.addLocked(strings.TrimRight(string(t.partial[:i]), "\r"))
		t.partial = t.partial[i+1:]
	}
	if len(t.partial) > maxPartialLine {
		t.addLocked(string(t.partial[:maxPartialLine]))
		t.partial = nil
	}
	return len(p), nil
}

func (t *stderrTail) addLocked(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.count < len(t.lines) {
		t.count++
	}
}

// Tail returns up to n of the most recent lines, oldest first. An unterminated
// final line is included.
func (t *stderrTail) Tail(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	if n > t.count {
		n = t.count
	}
	if n > 0 {
		start := (t.next - n + len(t.lines)) % len(t.lines)
		out = make([]string, 0, n+1)
		for i := 0; i < n; i++ {
			out = append(out, t.lines[(start+i)%len(t.lines)])
		}
	}
	if rest := strings.TrimSpace(string(t.partial)); rest != "" {
		out = append(out, rest)
	}
	return out
}
