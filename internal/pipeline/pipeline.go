// Package pipeline owns the interpretation lifecycle: the state machine
// and the interpret -> validate -> refine flow grounded against the
// catalog.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/audit"
	"github.com/querylens/backend/internal/catalog"
	"github.com/querylens/backend/internal/engine"
	"github.com/querylens/backend/internal/models"
	"github.com/querylens/backend/internal/safety"
	"github.com/querylens/backend/pkg/retry"
)

// Config bounds one interpretation run.
type Config struct {
	// MaxPromptChars rejects prompts before the state machine starts.
	MaxPromptChars int
	// Deadline is the overall wall-clock bound for one run.
	Deadline time.Duration
	// EngineAttempts and EngineBackoff drive the retry loop for
	// transient engine failures. Deterministic steps never retry.
	EngineAttempts  int
	EngineBackoff   []time.Duration
	DefaultRowLimit int
}

func DefaultConfig() Config {
	return Config{
		MaxPromptChars:  2000,
		Deadline:        15 * time.Second,
		EngineAttempts:  3,
		EngineBackoff:   []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		DefaultRowLimit: models.DefaultExecutionLimit,
	}
}

// CompositeEngineBound is the worst-case wait before an engine-failure
// terminal state: every attempt running to its cap plus all backoff waits.
func (c Config) CompositeEngineBound(attemptTimeout time.Duration) time.Duration {
	bound := time.Duration(c.EngineAttempts) * attemptTimeout
	for i := 0; i < c.EngineAttempts-1 && i < len(c.EngineBackoff); i++ {
		bound += c.EngineBackoff[i]
	}
	return bound
}

// Outcome is the final report for one submission.
type Outcome struct {
	State          State
	Code           Code
	Message        string
	Suggestions    []string
	Interpretation *models.PromptInterpretation
	Query          *models.GeneratedQuery
	EngineAttempts int
	ElapsedMs      int64
}

func (o Outcome) Ready() bool {
	return o.State == StateReady
}

type runOptions struct {
	observer  Observer
	chunkSink func(string)
}

type Option func(*runOptions)

// WithObserver registers a callback for every accepted state transition.
func WithObserver(observer Observer) Option {
	return func(ro *runOptions) { ro.observer = observer }
}

// WithChunkSink forwards advisory partial engine output.
func WithChunkSink(sink func(string)) Option {
	return func(ro *runOptions) { ro.chunkSink = sink }
}

type Pipeline struct {
	engine   engine.Engine
	catalog  catalog.Context
	auditLog audit.Log
	cfg      Config
	log      *zap.Logger
}

func New(eng engine.Engine, cat catalog.Context, auditLog audit.Log, cfg Config, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{engine: eng, catalog: cat, auditLog: auditLog, cfg: cfg, log: log}
}

// Interpret drives one prompt through the full lifecycle and returns the
// terminal outcome. The run is cancelled cooperatively: the parent context
// is checked at every stage boundary, never mid-stage.
func (p *Pipeline) Interpret(parent context.Context, prompt string, opts ...Option) Outcome {
	start := time.Now()

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Outcome{
			State:     StatePending,
			Code:      CodeValidation,
			Message:   "prompt is empty",
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}
	if len(prompt) > p.cfg.MaxPromptChars {
		return Outcome{
			State:     StatePending,
			Code:      CodeValidation,
			Message:   fmt.Sprintf("prompt exceeds %d characters", p.cfg.MaxPromptChars),
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}

	ctx, cancel := context.WithTimeout(parent, p.cfg.Deadline)
	defer cancel()

	m := newMachine(ro.observer)
	m.to(StateInterpreting, "interpreting prompt")

	snapshot, err := p.catalog.Snapshot(ctx)
	if err != nil {
		p.log.Error("Catalog snapshot failed", zap.Error(err))
		return p.fail(m, start, 0, CodeInternal, "catalog unavailable", nil)
	}

	var candidate *engine.Candidate
	attempts := 0

	retryCfg := retry.Config{
		MaxAttempts: p.cfg.EngineAttempts,
		Backoff:     p.cfg.EngineBackoff,
		Retryable:   engine.IsTransient,
		Logger:      p.log,
	}

	err = retry.Do(ctx, retryCfg, func(attempt int) error {
		attempts = attempt
		c, callErr := p.engine.Interpret(ctx, engine.Request{
			Prompt:    prompt,
			Grounding: snapshot,
			ChunkSink: ro.chunkSink,
		})
		if callErr != nil {
			return callErr
		}
		candidate = c
		return nil
	})
	if err != nil {
		if parent.Err() != nil {
			return p.cancelled(m, start, attempts)
		}
		code, msg := classifyEngineError(err)
		p.log.Warn("Engine interpretation failed",
			zap.Error(err),
			zap.Int("attempts", attempts),
			zap.String("code", string(code)),
		)
		return p.fail(m, start, attempts, code, msg, nil)
	}

	if parent.Err() != nil {
		return p.cancelled(m, start, attempts)
	}

	if len(candidate.Entities) == 0 {
		tables := snapshot.TableNames()
		if len(tables) > maxSuggestions {
			tables = tables[:maxSuggestions]
		}
		return p.fail(m, start, attempts, CodeAmbiguousPrompt,
			"could not identify any table in the request", tables)
	}

	if field, detail, found := findContradiction(candidate.Filters); found {
		msg := fmt.Sprintf("contradictory filters on %q: %s", field, detail)
		return p.fail(m, start, attempts, CodeAmbiguousPrompt, msg,
			[]string{fmt.Sprintf("keep only one condition on %s", field)})
	}

	interp := buildInterpretation(prompt, candidate)

	if offenders := unknownTables(snapshot, candidate.Entities); len(offenders) > 0 {
		msg := fmt.Sprintf("unknown tables: %s", strings.Join(offenders, ", "))
		return p.fail(m, start, attempts, CodeUnrecognizedTables, msg,
			suggestFor(offenders, snapshot.TableNames()))
	}

	resolved := make([]string, 0, len(candidate.Entities))
	for _, e := range candidate.Entities {
		resolved = append(resolved, e.Table)
	}

	if offenders := unknownColumns(snapshot, resolved, candidate); len(offenders) > 0 {
		msg := fmt.Sprintf("unknown columns: %s", strings.Join(offenders, ", "))
		return p.fail(m, start, attempts, CodeUnrecognizedColumns, msg,
			suggestFor(offenders, snapshot.ColumnNames(resolved)))
	}

	m.to(StateValidating, "checking query safety")

	if result := safety.Validate(candidate.SQL); !result.IsValid {
		return p.block(parent, m, interp, candidate.SQL, result.BlockedCommand, start, attempts)
	}

	refined, limit := refineSQL(candidate.SQL, p.cfg.DefaultRowLimit)
	if refined != candidate.SQL {
		m.to(StateRefining, "applying execution limit")
	}

	// The refine output is re-validated regardless of how trivial the
	// rewrite was; READY means 100% validated.
	if result := safety.Validate(refined); !result.IsValid {
		return p.block(parent, m, interp, refined, result.BlockedCommand, start, attempts)
	}

	if parent.Err() != nil {
		return p.cancelled(m, start, attempts)
	}

	query := &models.GeneratedQuery{
		ID:               uuid.New().String(),
		InterpretationID: interp.ID,
		SQL:              refined,
		IsValid:          true,
		ExecutionLimit:   limit,
	}

	m.to(StateReady, "query ready")

	p.log.Info("Prompt interpreted",
		zap.String("interpretation_id", interp.ID),
		zap.String("query_id", query.ID),
		zap.Float64("confidence", interp.Confidence),
		zap.Int("engine_attempts", attempts),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Outcome{
		State:          StateReady,
		Interpretation: interp,
		Query:          query,
		EngineAttempts: attempts,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

func (p *Pipeline) fail(m *machine, start time.Time, attempts int, code Code, msg string, suggestions []string) Outcome {
	m.to(StateError, msg)
	return Outcome{
		State:          StateError,
		Code:           code,
		Message:        msg,
		Suggestions:    suggestions,
		EngineAttempts: attempts,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

func (p *Pipeline) cancelled(m *machine, start time.Time, attempts int) Outcome {
	if !m.current().Terminal() {
		m.to(StateError, "run cancelled")
	}
	return Outcome{
		State:          StateError,
		Code:           CodeCancelled,
		Message:        "run cancelled",
		EngineAttempts: attempts,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

// block writes the mandatory audit entry and reports the attempted
// interpretation alongside the rejected query. Cancelled runs never reach
// here with a live parent, so no partial entry is persisted for them.
func (p *Pipeline) block(parent context.Context, m *machine, interp *models.PromptInterpretation, sql, command string, start time.Time, attempts int) Outcome {
	if parent.Err() != nil {
		return p.cancelled(m, start, attempts)
	}

	// The audit write must survive an exhausted run deadline, so it gets
	// its own short bound. Identity never enters the entry.
	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := audit.Entry{
		BlockedQuery:   sql,
		OriginalPrompt: interp.OriginalPrompt,
		BlockedCommand: command,
		Reason:         "denylisted command in generated query",
		Timestamp:      time.Now(),
	}
	if err := p.auditLog.Append(auditCtx, entry); err != nil {
		p.log.Error("Audit append failed for blocked query", zap.Error(err))
		return p.fail(m, start, attempts, CodeInternal, "failed to record blocked query", nil)
	}

	query := &models.GeneratedQuery{
		ID:               uuid.New().String(),
		InterpretationID: interp.ID,
		SQL:              sql,
		IsValid:          false,
		ValidationErrors: []string{fmt.Sprintf("blocked command: %s", command)},
		ExecutionLimit:   0,
	}

	m.to(StateBlocked, "blocked command "+command)

	p.log.Warn("Generated query blocked",
		zap.String("interpretation_id", interp.ID),
		zap.String("blocked_command", command),
	)

	return Outcome{
		State:          StateBlocked,
		Code:           CodeSQLCommandBlocked,
		Message:        fmt.Sprintf("generated query contains blocked command %s", command),
		Interpretation: interp,
		Query:          query,
		EngineAttempts: attempts,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

func classifyEngineError(err error) (Code, string) {
	if errors.Is(err, engine.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return CodeEngineTimeout, "language model engine timed out"
	}
	return CodeEngineFailure, "language model engine failed"
}

func buildInterpretation(prompt string, candidate *engine.Candidate) *models.PromptInterpretation {
	confidence := candidate.Confidence
	// A non-fatal ambiguity caps confidence; fatal ones never get here.
	if len(candidate.Ambiguities) > 0 && confidence > 0.6 {
		confidence = 0.6
	}

	return &models.PromptInterpretation{
		ID:             uuid.New().String(),
		OriginalPrompt: prompt,
		Entities:       candidate.Entities,
		Filters:        candidate.Filters,
		Ambiguities:    candidate.Ambiguities,
		Explanation:    candidate.Explanation,
		Confidence:     confidence,
		CreatedAt:      time.Now(),
	}
}

func unknownTables(snapshot *catalog.Snapshot, entities []models.Entity) []string {
	var offenders []string
	seen := make(map[string]bool)
	for _, e := range entities {
		if _, ok := snapshot.Resolve(e.Table); !ok {
			key := strings.ToLower(e.Table)
			if !seen[key] {
				seen[key] = true
				offenders = append(offenders, e.Table)
			}
		}
	}
	return offenders
}

func unknownColumns(snapshot *catalog.Snapshot, tables []string, candidate *engine.Candidate) []string {
	known := func(column string) bool {
		for _, table := range tables {
			if snapshot.HasColumn(table, column) {
				return true
			}
		}
		return false
	}

	var offenders []string
	seen := make(map[string]bool)
	flag := func(column string) {
		key := strings.ToLower(column)
		if !seen[key] {
			seen[key] = true
			offenders = append(offenders, column)
		}
	}

	for _, f := range candidate.Filters {
		if !known(f.Field) {
			flag(f.Field)
		}
	}
	for _, c := range candidate.Columns {
		if !known(c) {
			flag(c)
		}
	}
	return offenders
}

// findContradiction looks for same-field filter pairs that cannot both
// hold: two equality filters with different values, or an equals/not-equals
// pair on the same value. Cross-field domain rules need external input and
// are deliberately not guessed here.
func findContradiction(filters []models.Filter) (field, detail string, found bool) {
	byField := make(map[string][]models.Filter)
	for _, f := range filters {
		key := strings.ToLower(f.Field)
		byField[key] = append(byField[key], f)
	}

	for _, group := range byField {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.Operator == models.OpEquals && b.Operator == models.OpEquals &&
					!strings.EqualFold(a.Value, b.Value) {
					return a.Field, fmt.Sprintf("cannot equal both %q and %q", a.Value, b.Value), true
				}
				if sameValueOpposed(a, b) {
					return a.Field, fmt.Sprintf("cannot both equal and not equal %q", a.Value), true
				}
			}
		}
	}
	return "", "", false
}

func sameValueOpposed(a, b models.Filter) bool {
	opposed := (a.Operator == models.OpEquals && b.Operator == models.OpNotEquals) ||
		(a.Operator == models.OpNotEquals && b.Operator == models.OpEquals)
	return opposed && strings.EqualFold(a.Value, b.Value)
}

func suggestFor(offenders, candidates []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, offender := range offenders {
		for _, s := range nearestMatches(offender, candidates) {
			key := strings.ToLower(s)
			if !seen[key] {
				seen[key] = true
				out = append(out, s)
			}
		}
	}
	return out
}
