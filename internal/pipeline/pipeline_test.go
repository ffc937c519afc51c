package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylens/backend/internal/audit"
	"github.com/querylens/backend/internal/catalog"
	"github.com/querylens/backend/internal/engine"
	"github.com/querylens/backend/internal/models"
	"github.com/querylens/backend/internal/safety"
)

// scriptedEngine replays a fixed sequence of responses; the last step
// repeats if called again.
type scriptedEngine struct {
	calls int
	steps []func(engine.Request) (*engine.Candidate, error)
}

func (s *scriptedEngine) Interpret(_ context.Context, req engine.Request) (*engine.Candidate, error) {
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	s.calls++
	return s.steps[idx](req)
}

func respond(c *engine.Candidate) func(engine.Request) (*engine.Candidate, error) {
	return func(engine.Request) (*engine.Candidate, error) { return c, nil }
}

func failWith(err error) func(engine.Request) (*engine.Candidate, error) {
	return func(engine.Request) (*engine.Candidate, error) { return nil, err }
}

func testCatalog() catalog.Context {
	return catalog.NewStatic([]catalog.Table{
		{
			Name: "contas",
			Columns: []catalog.Column{
				{Name: "id", Type: "integer", Required: true},
				{Name: "status", Type: "text", Enumerable: true, AllowedValues: []string{"A", "I"}},
				{Name: "saldo", Type: "numeric"},
				{Name: "criado_em", Type: "date", Required: true},
			},
		},
		{
			Name: "cartoes",
			Columns: []catalog.Column{
				{Name: "id", Type: "integer", Required: true},
				{Name: "status", Type: "text", Enumerable: true, AllowedValues: []string{"A", "B"}},
				{Name: "limite", Type: "numeric"},
			},
		},
	})
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.EngineBackoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return cfg
}

func newTestPipeline(eng engine.Engine) (*Pipeline, *audit.MemoryLog) {
	log := audit.NewMemoryLog()
	return New(eng, testCatalog(), log, fastConfig(), nil), log
}

func activeAccountsCandidate() *engine.Candidate {
	return &engine.Candidate{
		Entities: []models.Entity{{Name: "contas", Table: "contas"}},
		Columns:  []string{"id", "status"},
		Filters: []models.Filter{
			{Field: "status", Operator: models.OpEquals, Value: "A"},
		},
		SQL:         "SELECT id, status FROM contas WHERE status = 'A'",
		Explanation: "Accounts with active status",
		Confidence:  0.82,
	}
}

func TestInterpretRejectsOverLengthPromptBeforeStateMachine(t *testing.T) {
	eng := &scriptedEngine{steps: []func(engine.Request) (*engine.Candidate, error){
		respond(activeAccountsCandidate()),
	}}
	p, _ := newTestPipeline(eng)

	outcome := p.Interpret(context.Background(), strings.Repeat("a", 2001))

	assert.Equal(t, CodeValidation, outcome.Code)
	assert.Equal(t, StatePending, outcome.State)
	assert.Equal(t, 0, eng.calls, "engine must not be called for over-length prompts")
}

func TestInterpretActiveAccountsScenario(t *testing.T) {
	p, auditLog := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(activeAccountsCandidate())},
	})

	var transitions []Transition
	outcome := p.Interpret(context.Background(), "contas ativas",
		WithObserver(func(tr Transition) { transitions = append(transitions, tr) }))

	require.Equal(t, StateReady, outcome.State)
	require.NotNil(t, outcome.Interpretation)
	require.NotNil(t, outcome.Query)

	assert.GreaterOrEqual(t, outcome.Interpretation.Confidence, 0.7)
	require.Len(t, outcome.Interpretation.Filters, 1)
	assert.Equal(t, "status", outcome.Interpretation.Filters[0].Field)
	assert.Equal(t, models.OpEquals, outcome.Interpretation.Filters[0].Operator)
	assert.Equal(t, "A", outcome.Interpretation.Filters[0].Value)

	assert.True(t, outcome.Query.IsValid)
	assert.Equal(t, models.DefaultExecutionLimit, outcome.Query.ExecutionLimit)
	assert.Contains(t, outcome.Query.SQL, "LIMIT 100")
	assert.Equal(t, outcome.Interpretation.ID, outcome.Query.InterpretationID)

	assert.Empty(t, auditLog.Entries())

	var states []State
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{StateInterpreting, StateValidating, StateRefining, StateReady}, states)
}

func TestInterpretKeepsExplicitLimitAndSkipsRefine(t *testing.T) {
	c := activeAccountsCandidate()
	c.SQL = "SELECT id FROM contas WHERE status = 'A' LIMIT 50"
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	var states []State
	outcome := p.Interpret(context.Background(), "contas ativas",
		WithObserver(func(tr Transition) { states = append(states, tr.To) }))

	require.Equal(t, StateReady, outcome.State)
	assert.Equal(t, 50, outcome.Query.ExecutionLimit)
	assert.NotContains(t, states, StateRefining)
}

func TestInterpretZeroEntitiesIsAmbiguous(t *testing.T) {
	c := &engine.Candidate{
		SQL:        "SELECT 1",
		Confidence: 0.4,
	}
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "tudo")

	assert.Equal(t, StateError, outcome.State)
	assert.Equal(t, CodeAmbiguousPrompt, outcome.Code)
	assert.NotEmpty(t, outcome.Suggestions)
	assert.Nil(t, outcome.Query)
}

func TestInterpretContradictoryFiltersAreAmbiguous(t *testing.T) {
	c := &engine.Candidate{
		Entities: []models.Entity{{Name: "cartoes", Table: "cartoes"}},
		Filters: []models.Filter{
			{Field: "status", Operator: models.OpEquals, Value: "A"},
			{Field: "status", Operator: models.OpEquals, Value: "B"},
		},
		SQL:        "SELECT * FROM cartoes WHERE status = 'A' AND status = 'B'",
		Confidence: 0.7,
	}
	p, auditLog := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "cartoes ativos bloqueados")

	assert.Equal(t, StateError, outcome.State)
	assert.Equal(t, CodeAmbiguousPrompt, outcome.Code)
	assert.Contains(t, outcome.Message, "contradictory")
	assert.Contains(t, outcome.Message, "status")
	assert.Nil(t, outcome.Query, "no query is produced for a contradiction")
	assert.Empty(t, auditLog.Entries())
}

func TestInterpretEqualsNotEqualsSameValueIsContradiction(t *testing.T) {
	c := activeAccountsCandidate()
	c.Filters = []models.Filter{
		{Field: "status", Operator: models.OpEquals, Value: "A"},
		{Field: "status", Operator: models.OpNotEquals, Value: "a"},
	}
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "contas ativas e nao ativas")
	assert.Equal(t, CodeAmbiguousPrompt, outcome.Code)
}

func TestInterpretUnknownTable(t *testing.T) {
	c := activeAccountsCandidate()
	c.Entities = []models.Entity{{Name: "conta", Table: "contass"}}
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "contas ativas")

	assert.Equal(t, StateError, outcome.State)
	assert.Equal(t, CodeUnrecognizedTables, outcome.Code)
	assert.Contains(t, outcome.Message, "contass")
	assert.Contains(t, outcome.Suggestions, "contas")
}

func TestInterpretUnknownColumn(t *testing.T) {
	c := activeAccountsCandidate()
	c.Filters = []models.Filter{{Field: "situacao", Operator: models.OpEquals, Value: "A"}}
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "contas ativas")

	assert.Equal(t, CodeUnrecognizedColumns, outcome.Code)
	assert.Contains(t, outcome.Message, "situacao")
}

func TestInterpretBlockedQueryWritesOneAuditEntry(t *testing.T) {
	c := activeAccountsCandidate()
	c.SQL = "DROP TABLE contas"
	p, auditLog := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "remova as contas antigas")

	require.Equal(t, StateBlocked, outcome.State)
	assert.Equal(t, CodeSQLCommandBlocked, outcome.Code)
	assert.Contains(t, outcome.Message, "DROP")
	require.NotNil(t, outcome.Interpretation, "blocked outcomes re-emit the attempted interpretation")
	require.NotNil(t, outcome.Query)
	assert.False(t, outcome.Query.IsValid)
	assert.NotEmpty(t, outcome.Query.ValidationErrors)

	entries := auditLog.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "DROP", entries[0].BlockedCommand)
	assert.Equal(t, "DROP TABLE contas", entries[0].BlockedQuery)
	assert.Equal(t, "remova as contas antigas", entries[0].OriginalPrompt)
	assert.NotEmpty(t, entries[0].Reason)
}

func TestInterpretAmbiguityCapsConfidence(t *testing.T) {
	c := activeAccountsCandidate()
	c.Confidence = 0.95
	c.Ambiguities = []models.Ambiguity{{Term: "ativas", Candidates: []string{"status=A", "saldo>0"}}}
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(c)},
	})

	outcome := p.Interpret(context.Background(), "contas ativas")

	require.Equal(t, StateReady, outcome.State)
	assert.Equal(t, 0.6, outcome.Interpretation.Confidence)
}

func TestInterpretRetriesTransientEngineFailures(t *testing.T) {
	eng := &scriptedEngine{steps: []func(engine.Request) (*engine.Candidate, error){
		failWith(engine.ErrMalformed),
		failWith(engine.ErrTimeout),
		respond(activeAccountsCandidate()),
	}}
	p, _ := newTestPipeline(eng)

	outcome := p.Interpret(context.Background(), "contas ativas")

	assert.Equal(t, StateReady, outcome.State)
	assert.Equal(t, 3, outcome.EngineAttempts)
	assert.Equal(t, 3, eng.calls)
}

func TestInterpretExhaustedRetriesIsTerminalError(t *testing.T) {
	eng := &scriptedEngine{steps: []func(engine.Request) (*engine.Candidate, error){
		failWith(engine.ErrTimeout),
	}}
	p, _ := newTestPipeline(eng)

	outcome := p.Interpret(context.Background(), "contas ativas")

	assert.Equal(t, StateError, outcome.State)
	assert.Equal(t, CodeEngineTimeout, outcome.Code)
	assert.Equal(t, 3, eng.calls)
}

func TestInterpretNonTransientEngineErrorDoesNotRetry(t *testing.T) {
	eng := &scriptedEngine{steps: []func(engine.Request) (*engine.Candidate, error){
		failWith(errors.New("invalid api key")),
	}}
	p, _ := newTestPipeline(eng)

	outcome := p.Interpret(context.Background(), "contas ativas")

	assert.Equal(t, CodeEngineFailure, outcome.Code)
	assert.Equal(t, 1, eng.calls)
}

func TestInterpretCancelledRunPersistsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	c := activeAccountsCandidate()
	c.SQL = "DROP TABLE contas"
	eng := &scriptedEngine{steps: []func(engine.Request) (*engine.Candidate, error){
		func(engine.Request) (*engine.Candidate, error) {
			cancel() // client disconnects while the engine is working
			return c, nil
		},
	}}
	p, auditLog := newTestPipeline(eng)

	outcome := p.Interpret(ctx, "remova as contas")

	assert.Equal(t, CodeCancelled, outcome.Code)
	assert.Empty(t, auditLog.Entries(), "cancelled runs must not persist audit entries")
	assert.Nil(t, outcome.Query)
}

func TestInterpretReadyOutcomePassesDenylist(t *testing.T) {
	p, _ := newTestPipeline(&scriptedEngine{
		steps: []func(engine.Request) (*engine.Candidate, error){respond(activeAccountsCandidate())},
	})

	outcome := p.Interpret(context.Background(), "contas ativas")

	require.Equal(t, StateReady, outcome.State)
	assert.True(t, safety.Validate(outcome.Query.SQL).IsValid)
}

func TestCompositeEngineBound(t *testing.T) {
	cfg := DefaultConfig()
	bound := cfg.CompositeEngineBound(15 * time.Second)
	assert.Equal(t, 45*time.Second+7*time.Second, bound)
}
