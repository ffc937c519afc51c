// Package session holds the per-connection execution context: one state,
// one in-flight prompt at most, and a bounded history of recent queries.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querylens/backend/internal/models"
)

const DefaultHistorySize = 10

// Session is bound to one connection and destroyed on disconnect. All
// methods are safe for the reader/worker goroutine pair that shares it.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu                 sync.Mutex
	busy               bool
	lastActivity       time.Time
	history            []models.QueryRecord
	historySize        int
	lastInterpretation *models.PromptInterpretation
	lastQuery          *models.GeneratedQuery
}

func New(historySize int) *Session {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	now := time.Now()
	return &Session{
		ID:           uuid.New().String(),
		CreatedAt:    now,
		lastActivity: now,
		historySize:  historySize,
	}
}

// Begin marks the session busy. It reports false when a prompt is already
// in flight; callers must then reject rather than queue.
func (s *Session) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Record appends one query record, evicting the oldest entry once the
// bound is reached.
func (s *Session) Record(record models.QueryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == s.historySize {
		copy(s.history, s.history[1:])
		s.history[len(s.history)-1] = record
		return
	}
	s.history = append(s.history, record)
}

// History returns a copy of the recorded queries, oldest first.
func (s *Session) History() []models.QueryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QueryRecord, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) SetLastResult(interp *models.PromptInterpretation, query *models.GeneratedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInterpretation = interp
	s.lastQuery = query
}

func (s *Session) LastResult() (*models.PromptInterpretation, *models.GeneratedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInterpretation, s.lastQuery
}
