package engine

import "sync"

// tailWriter retains only the last limit bytes written to it. External
// build tools can produce megabytes of output; keeping the tail bounds
// memory while preserving the part that usually explains a failure.
type tailWriter struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(p) > w.limit {
		w.buf = append(w.buf[:0], p[len(p)-w.limit:]...)
		w.truncated = true

		return len(p), nil
	}

	if overflow := len(w.buf) + len(p) - w.limit; overflow > 0 {
		w.buf = w.buf[overflow:]
		w.truncated = true
	}

	w.buf = append(w.buf, p...)

	return len(p), nil
}

// String returns the retained tail, prefixed with a marker when earlier
// output was discarded.
func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.truncated {
		return "... (earlier output discarded)\n" + string(w.buf)
	}

	return string(w.buf)
}
