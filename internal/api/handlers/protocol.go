package handlers

import (
	"time"

	"github.com/querylens/backend/internal/models"
)

// Inbound and outbound frame types for the streaming session protocol.
const (
	msgTypeInterpret      = "interpret"
	msgTypeStatus         = "status"
	msgTypeChunk          = "chunk"
	msgTypeInterpretation = "interpretation"
	msgTypeQuery          = "query"
	msgTypeError          = "error"
)

// Protocol-level error codes, distinct from pipeline outcome codes.
const (
	errCodeInvalidMessage = "INVALID_MESSAGE"
	errCodeSessionBusy    = "SESSION_BUSY"
)

type inboundMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// outboundMessage is the envelope every frame travels in.
type outboundMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data"`
}

type statusPayload struct {
	State string `json:"state"`
	Note  string `json:"note,omitempty"`
}

type chunkPayload struct {
	Content string `json:"content"`
}

// interpretationPayload reports the terminal interpretation: the result on
// READY, or what was attempted on BLOCKED.
type interpretationPayload struct {
	State          string                       `json:"state"`
	Interpretation *models.PromptInterpretation `json:"interpretation"`
	Query          *models.GeneratedQuery       `json:"query,omitempty"`
	Message        string                       `json:"message,omitempty"`
}

type queryPayload struct {
	QueryID        string `json:"query_id"`
	SQL            string `json:"sql"`
	ExecutionLimit int    `json:"execution_limit"`
}

type errorPayload struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}
