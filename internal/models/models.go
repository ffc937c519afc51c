package models

import "time"

// Operator is the fixed set of filter operators the engine may emit.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not-equals"
	OpGreater        Operator = "greater"
	OpGreaterOrEqual Operator = "greater-or-equal"
	OpLess           Operator = "less"
	OpLessOrEqual    Operator = "less-or-equal"
	OpLike           Operator = "like"
	OpIn             Operator = "in"
	OpBetween        Operator = "between"
	OpIsNull         Operator = "is-null"
	OpIsNotNull      Operator = "is-not-null"
)

var validOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true, OpGreater: true, OpGreaterOrEqual: true,
	OpLess: true, OpLessOrEqual: true, OpLike: true, OpIn: true,
	OpBetween: true, OpIsNull: true, OpIsNotNull: true,
}

func (o Operator) Valid() bool {
	return validOperators[o]
}

type Entity struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	Alias string `json:"alias,omitempty"`
}

type Filter struct {
	Field      string   `json:"field"`
	Operator   Operator `json:"operator"`
	Value      string   `json:"value"`
	IsTemporal bool     `json:"is_temporal"`
}

// Ambiguity is a term the engine could not resolve to a single meaning,
// together with the resolutions it considered.
type Ambiguity struct {
	Term       string   `json:"term"`
	Candidates []string `json:"candidates"`
}

// PromptInterpretation is the immutable product of one submission.
type PromptInterpretation struct {
	ID             string      `json:"id"`
	OriginalPrompt string      `json:"original_prompt"`
	Entities       []Entity    `json:"entities"`
	Filters        []Filter    `json:"filters"`
	Ambiguities    []Ambiguity `json:"ambiguities,omitempty"`
	Explanation    string      `json:"explanation,omitempty"`
	Confidence     float64     `json:"confidence"`
	CreatedAt      time.Time   `json:"created_at"`
}

const DefaultExecutionLimit = 100

// GeneratedQuery is produced by the refine stage; at most one per
// interpretation and immutable after validation.
type GeneratedQuery struct {
	ID               string   `json:"id"`
	InterpretationID string   `json:"interpretation_id"`
	SQL              string   `json:"sql"`
	IsValid          bool     `json:"is_valid"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	ExecutionLimit   int      `json:"execution_limit"`
}

// QueryResult is created only when execution is explicitly requested.
type QueryResult struct {
	ID              string `json:"id"`
	QueryID         string `json:"query_id"`
	RowCount        int    `json:"row_count"`
	IsPartial       bool   `json:"is_partial"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// QueryRecord is one entry in a session's bounded history.
type QueryRecord struct {
	ID        string    `json:"id"`
	Prompt    string    `json:"prompt"`
	SQL       string    `json:"sql,omitempty"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}
