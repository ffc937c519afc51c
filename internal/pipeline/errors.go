package pipeline

// Code is the machine-readable classification of an outcome.
type Code string

const (
	// CodeValidation rejects malformed input before the state machine
	// starts (over-length prompt, empty prompt).
	CodeValidation Code = "VALIDATION"
	// CodeAmbiguousPrompt covers zero identified entities and same-field
	// filter contradictions.
	CodeAmbiguousPrompt     Code = "AMBIGUOUS_PROMPT"
	CodeUnrecognizedTables  Code = "UNRECOGNIZED_TABLES"
	CodeUnrecognizedColumns Code = "UNRECOGNIZED_COLUMNS"
	CodeSQLCommandBlocked   Code = "SQL_COMMAND_BLOCKED"
	CodeEngineTimeout       Code = "ENGINE_TIMEOUT"
	CodeEngineFailure       Code = "ENGINE_FAILURE"
	// CodeInternal covers infrastructure failures (catalog unreachable,
	// audit write failed) that are neither input nor engine faults.
	CodeInternal Code = "INTERNAL"
	// CodeCancelled marks a run abandoned because the caller went away.
	// Nothing is emitted or persisted for such runs.
	CodeCancelled Code = "CANCELLED"
)
