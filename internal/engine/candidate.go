package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querylens/backend/internal/models"
)

// Candidate is the structured proposal the engine returns for one prompt,
// prior to any validation against the catalog.
type Candidate struct {
	Entities    []models.Entity
	Columns     []string
	Filters     []models.Filter
	SQL         string
	Explanation string
	Confidence  float64
	Ambiguities []models.Ambiguity
}

type candidateWire struct {
	Entities    []models.Entity    `json:"entities"`
	Columns     []string           `json:"columns"`
	Filters     []models.Filter    `json:"filters"`
	SQL         string             `json:"sql"`
	Explanation string             `json:"explanation"`
	Confidence  float64            `json:"confidence"`
	Ambiguities []models.Ambiguity `json:"ambiguities"`
}

// DecodeCandidate parses raw model output into a Candidate. The decode is
// strict: unknown fields, out-of-range confidence or an operator outside
// the fixed set all classify as malformed output, which routes the caller
// onto the retry path instead of silently accepting a bad candidate.
func DecodeCandidate(raw string) (*Candidate, error) {
	payload := stripCodeFence(raw)

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()

	var wire candidateWire
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after candidate object", ErrMalformed)
	}

	if wire.Confidence < 0 || wire.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformed, wire.Confidence)
	}
	if strings.TrimSpace(wire.SQL) == "" {
		return nil, fmt.Errorf("%w: empty sql", ErrMalformed)
	}
	for _, e := range wire.Entities {
		if strings.TrimSpace(e.Table) == "" {
			return nil, fmt.Errorf("%w: entity %q has no resolved table", ErrMalformed, e.Name)
		}
	}
	for _, f := range wire.Filters {
		if !f.Operator.Valid() {
			return nil, fmt.Errorf("%w: unknown operator %q", ErrMalformed, f.Operator)
		}
		if strings.TrimSpace(f.Field) == "" {
			return nil, fmt.Errorf("%w: filter with empty field", ErrMalformed)
		}
	}

	return &Candidate{
		Entities:    wire.Entities,
		Columns:     wire.Columns,
		Filters:     wire.Filters,
		SQL:         strings.TrimSpace(wire.SQL),
		Explanation: wire.Explanation,
		Confidence:  wire.Confidence,
		Ambiguities: wire.Ambiguities,
	}, nil
}

// stripCodeFence removes a surrounding markdown fence, which chat models
// habitually wrap JSON in even when told not to.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
