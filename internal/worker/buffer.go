package worker

import (
	"io"
	"sync"
	"unicode/utf8"
)

// maxLogBytes caps the build log kept in memory for the queue record.
const maxLogBytes = 64 * 1024

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
	cut bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= b.max {
		b.buf = append(b.buf[:0], p[len(p)-b.max:]...)
		b.cut = true
		return n, nil
	}
	if over := len(b.buf) + len(p) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.cut = true
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

// String returns the kept tail. After a cut, leading bytes of a split rune
// are dropped.
func (b *tailBuffer) String() string {
	i := 0
	if b.cut {
		for i < len(b.buf) && i < utf8.UTFMax-1 && !utf8.RuneStart(b.buf[i]) {
			i++
		}
	}
	return string(b.buf[i:])
}

// syncWriter serializes writes from the runner and its subprocesses.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
