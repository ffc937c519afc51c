package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryLog keeps entries in memory. Used in tests and as a fallback when
// no audit database is configured.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

func (l *MemoryLog) Append(_ context.Context, entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.ID = l.nextID
	l.nextID++
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.entries = append(l.entries, entry)
	return nil
}

func (l *MemoryLog) Recent(_ context.Context, limit int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit > n {
		limit = n
	}

	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Entries returns a copy of everything appended, oldest first.
func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MemoryLog) Close() error {
	return nil
}
