package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querylens/backend/internal/models"
)

const validCandidate = `{
	"entities": [{"name": "accounts", "table": "accounts", "alias": "a"}],
	"columns": ["id", "status"],
	"filters": [{"field": "status", "operator": "equals", "value": "A", "is_temporal": false}],
	"sql": "SELECT id, status FROM accounts WHERE status = 'A'",
	"explanation": "Active accounts",
	"confidence": 0.85,
	"ambiguities": []
}`

func TestDecodeCandidate(t *testing.T) {
	c, err := DecodeCandidate(validCandidate)
	require.NoError(t, err)

	assert.Len(t, c.Entities, 1)
	assert.Equal(t, "accounts", c.Entities[0].Table)
	assert.Len(t, c.Filters, 1)
	assert.Equal(t, models.OpEquals, c.Filters[0].Operator)
	assert.Equal(t, 0.85, c.Confidence)
	assert.Equal(t, "SELECT id, status FROM accounts WHERE status = 'A'", c.SQL)
}

func TestDecodeCandidateStripsCodeFence(t *testing.T) {
	fenced := "```json\n" + validCandidate + "\n```"
	c, err := DecodeCandidate(fenced)
	require.NoError(t, err)
	assert.Len(t, c.Entities, 1)
}

func TestDecodeCandidateMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "the accounts table looks relevant"},
		{"unknown field", `{"sql": "SELECT 1", "confidence": 0.5, "bogus": true}`},
		{"confidence above one", `{"sql": "SELECT 1", "confidence": 1.5}`},
		{"negative confidence", `{"sql": "SELECT 1", "confidence": -0.1}`},
		{"empty sql", `{"sql": "  ", "confidence": 0.5}`},
		{"unknown operator", `{"sql": "SELECT 1", "confidence": 0.5,
			"filters": [{"field": "status", "operator": "matches", "value": "A"}]}`},
		{"filter without field", `{"sql": "SELECT 1", "confidence": 0.5,
			"filters": [{"field": "", "operator": "equals", "value": "A"}]}`},
		{"entity without table", `{"sql": "SELECT 1", "confidence": 0.5,
			"entities": [{"name": "accounts", "table": ""}]}`},
		{"trailing data", `{"sql": "SELECT 1", "confidence": 0.5}{"another": 1}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCandidate(tc.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.True(t, IsTransient(err), "malformed output must be retryable")
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTimeout))
	assert.True(t, IsTransient(ErrMalformed))
	assert.False(t, IsTransient(assert.AnError))
	assert.False(t, IsTransient(nil))
}
