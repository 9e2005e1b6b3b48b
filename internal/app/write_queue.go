package app

import (
	"os"
	"path/filepath"
	"sync"
)

// WriteQueue serializes appends per file path by chaining each write behind
// the previous one for the same path. Concurrent producers can never
// interleave bytes mid-line, and a failed write is logged while the chain
// continues, so one failure never stalls the file. Different paths never
// contend with each other.
type WriteQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
	log   *Logger

	// appendFile is swappable in tests to inject write failures.
	appendFile func(path string, data []byte) error
}

func NewWriteQueue(log *Logger) *WriteQueue {
	if log == nil {
		log = NewLogger(nil)
	}
	return &WriteQueue{
		tails:      map[string]chan struct{}{},
		log:        log,
		appendFile: appendToFile,
	}
}

// Append schedules data to be appended to path after all previously
// scheduled writes to the same path have finished. It never blocks on disk
// I/O.
func (q *WriteQueue) Append(path string, data []byte) {
	q.mu.Lock()
	prev := q.tails[path]
	done := make(chan struct{})
	q.tails[path] = done
	q.mu.Unlock()

	buf := append([]byte(nil), data...)
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := q.appendFile(path, buf); err != nil {
			q.log.Error("append failed", map[string]any{"path": path, "error": err.Error()})
		}
	}()
}

// Flush waits for every write scheduled before the call to reach disk.
func (q *WriteQueue) Flush() {
	q.mu.Lock()
	tails := make([]chan struct{}, 0, len(q.tails))
	for _, done := range q.tails {
		tails = append(tails, done)
	}
	q.mu.Unlock()
	for _, done := range tails {
		<-done
	}
}

func appendToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
