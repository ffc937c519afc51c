// Package engine wraps the language-model call that proposes a structured
// interpretation for one prompt. The model is a black box with two failure
// classes the pipeline cares about: timeout and malformed output.
package engine

import (
	"context"
	"errors"

	"github.com/querylens/backend/internal/catalog"
)

var (
	// ErrTimeout marks an attempt that hit its time bound.
	ErrTimeout = errors.New("engine call timed out")
	// ErrMalformed marks output that violated the candidate schema.
	ErrMalformed = errors.New("engine returned malformed output")
)

// IsTransient reports whether err belongs to one of the two retryable
// failure classes. Everything else is treated as unrecoverable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrMalformed)
}

// Request carries one prompt plus the grounding context built from the
// catalog snapshot. The snapshot is forwarded verbatim; the engine must not
// mutate it.
type Request struct {
	Prompt    string
	Grounding *catalog.Snapshot
	// ChunkSink, when set, receives free-text partial content as it
	// arrives from the model. Advisory only; no ordering guarantee beyond
	// arrival order.
	ChunkSink func(content string)
}

// Engine is the narrow call contract this service consumes.
type Engine interface {
	Interpret(ctx context.Context, req Request) (*Candidate, error)
}
