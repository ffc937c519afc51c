// Package audit persists blocked-query entries. Entries are append-only and
// must never carry session or user identity.
package audit

import (
	"context"
	"time"
)

// Entry records one rejected query. There is intentionally no session or
// user field anywhere in this type.
type Entry struct {
	ID             int64
	BlockedQuery   string
	OriginalPrompt string
	BlockedCommand string
	Reason         string
	Timestamp      time.Time
}

// Log is an append-only sink for rejected queries. Appends must be atomic;
// no cross-entry consistency is required.
type Log interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
