package runner

import (
	"sync"
	"time"
)

const defaultStderrTailBytes = 5 * 1024 * 1024 // 5MB of driver stderr kept in memory per worker

// tailBuffer keeps only the last N bytes written to it. A driver's stderr is
// copied into one for its whole life, and each test takes the slice written
// while it ran so the per-test log carries a representative snippet without
// retaining the entire stream.
//
// The copy from the stderr pipe runs on its own goroutine, so bytes the driver
// wrote just before #EOF may not have arrived yet when the test is sliced.
// Settle narrows that window but cannot close it: a late write still lands in
// the next test's slice.
type tailBuffer struct {
	maxBytes int

	mu        sync.Mutex
	total     int64
	contents  []byte
	lastWrite time.Time
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultStderrTailBytes
	}
	return &tailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, 4096),
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.lastWrite = time.Now()
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// Trim the front to keep the most recent bytes
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
	}
	return len(p), nil
}

// Mark returns a position that can later be handed to Since
func (b *tailBuffer) Mark() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Since returns what was written after mark. If part of it has already been
// trimmed only the retained tail is returned and truncated is set.
func (b *tailBuffer) Since(mark int64) (out string, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.total - mark
	if n <= 0 {
		return "", false
	}
	if n > int64(len(b.contents)) {
		n = int64(len(b.contents))
		truncated = true
	}
	return string(b.contents[int64(len(b.contents))-n:]), truncated
}

// Settle waits until nothing has been written for idle, giving up after limit.
// It returns at once when the last write is already older than idle.
func (b *tailBuffer) Settle(idle, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for {
		b.mu.Lock()
		quiet := time.Since(b.lastWrite)
		b.mu.Unlock()
		if quiet >= idle {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		time.Sleep(min(idle-quiet, remaining))
	}
}
