package handlers

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/metrics"
	"github.com/querylens/backend/internal/models"
	"github.com/querylens/backend/internal/pipeline"
	"github.com/querylens/backend/internal/session"
	"github.com/querylens/backend/pkg/logger"
)

// wsConn is the slice of *websocket.Conn the handler needs; tests drive
// the protocol through a scripted implementation.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type WebSocketHandler struct {
	pipeline    *pipeline.Pipeline
	idleTimeout time.Duration
	historySize int
}

func NewWebSocketHandler(p *pipeline.Pipeline, idleTimeout time.Duration, historySize int) *WebSocketHandler {
	return &WebSocketHandler{
		pipeline:    p,
		idleTimeout: idleTimeout,
		historySize: historySize,
	}
}

// HandleConnection owns one connection for its whole life: one session,
// one prompt in flight at most, idle sessions closed normally.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	h.serve(c)
}

func (h *WebSocketHandler) serve(conn wsConn) {
	sess := session.New(h.historySize)

	metrics.SessionsTotal.Inc()
	metrics.ActiveSessions.Inc()
	logger.Info("Session established", zap.String("session_id", sess.ID))

	// Cancelling ctx is how disconnection reaches an in-flight run; the
	// pipeline honors it cooperatively at stage boundaries.
	ctx, cancel := context.WithCancel(context.Background())

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
		metrics.ActiveSessions.Dec()
		logger.Info("Session closed", zap.String("session_id", sess.ID))
	}()

	send := func(msgType string, data interface{}) {
		frame := outboundMessage{
			Type:      msgType,
			Timestamp: time.Now(),
			SessionID: sess.ID,
			Data:      data,
		}
		payload, err := json.Marshal(frame)
		if err != nil {
			logger.Error("Failed to marshal outbound frame", zap.Error(err))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			logger.Debug("Failed to write frame", zap.String("session_id", sess.ID), zap.Error(err))
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(h.idleTimeout))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				logger.Info("Session idle, closing", zap.String("session_id", sess.ID))
				conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "idle timeout"),
					time.Now().Add(time.Second),
				)
			}
			return
		}

		sess.Touch()

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			send(msgTypeError, errorPayload{
				Code:    errCodeInvalidMessage,
				Message: "message is not valid JSON",
			})
			continue
		}

		if msg.Type != msgTypeInterpret {
			send(msgTypeError, errorPayload{
				Code:    errCodeInvalidMessage,
				Message: "unknown message type: " + msg.Type,
			})
			continue
		}

		if !sess.Begin() {
			send(msgTypeError, errorPayload{
				Code:    errCodeSessionBusy,
				Message: "a prompt is already being interpreted on this session",
			})
			continue
		}

		wg.Add(1)
		go func(prompt string) {
			defer wg.Done()
			defer sess.Finish()
			h.runPrompt(ctx, sess, prompt, send)
		}(msg.Prompt)
	}
}

// runPrompt drives one submission and emits its frames in the protocol
// order: status*, chunk*, one interpretation or error, then the query
// frame iff READY.
func (h *WebSocketHandler) runPrompt(ctx context.Context, sess *session.Session, prompt string, send func(string, interface{})) {
	outcome := h.pipeline.Interpret(ctx, prompt,
		pipeline.WithObserver(func(tr pipeline.Transition) {
			send(msgTypeStatus, statusPayload{State: string(tr.To), Note: tr.Note})
		}),
		pipeline.WithChunkSink(func(content string) {
			send(msgTypeChunk, chunkPayload{Content: content})
		}),
	)

	if outcome.Code == pipeline.CodeCancelled {
		return
	}

	recordOutcomeMetrics(outcome)

	switch outcome.State {
	case pipeline.StateReady:
		sess.SetLastResult(outcome.Interpretation, outcome.Query)
		sess.Record(models.QueryRecord{
			ID:        outcome.Query.ID,
			Prompt:    prompt,
			SQL:       outcome.Query.SQL,
			Outcome:   string(pipeline.StateReady),
			CreatedAt: time.Now(),
		})

		send(msgTypeInterpretation, interpretationPayload{
			State:          string(outcome.State),
			Interpretation: outcome.Interpretation,
		})
		send(msgTypeQuery, queryPayload{
			QueryID:        outcome.Query.ID,
			SQL:            outcome.Query.SQL,
			ExecutionLimit: outcome.Query.ExecutionLimit,
		})

	case pipeline.StateBlocked:
		sess.SetLastResult(outcome.Interpretation, outcome.Query)
		sess.Record(models.QueryRecord{
			ID:        outcome.Query.ID,
			Prompt:    prompt,
			Outcome:   string(pipeline.StateBlocked),
			CreatedAt: time.Now(),
		})

		// BLOCKED re-emits the attempted interpretation; the matched
		// command is all the detail the client gets.
		send(msgTypeInterpretation, interpretationPayload{
			State:          string(outcome.State),
			Interpretation: outcome.Interpretation,
			Query:          outcome.Query,
			Message:        outcome.Message,
		})

	default:
		send(msgTypeError, errorPayload{
			Code:        string(outcome.Code),
			Message:     outcome.Message,
			Suggestions: outcome.Suggestions,
		})
	}
}

func recordOutcomeMetrics(outcome pipeline.Outcome) {
	code := string(outcome.Code)
	if outcome.Ready() {
		code = string(pipeline.StateReady)
		metrics.ConfidenceScore.Observe(outcome.Interpretation.Confidence)
	}
	metrics.PromptsTotal.WithLabelValues(code).Inc()
	metrics.InterpretationDuration.WithLabelValues(string(outcome.State)).
		Observe(float64(outcome.ElapsedMs) / 1000)
	if outcome.EngineAttempts > 0 {
		result := "ok"
		if outcome.Code == pipeline.CodeEngineTimeout || outcome.Code == pipeline.CodeEngineFailure {
			result = "error"
		}
		metrics.EngineAttempts.WithLabelValues(result).Add(float64(outcome.EngineAttempts))
	}
	if outcome.Code == pipeline.CodeSQLCommandBlocked && outcome.Query != nil {
		metrics.BlockedCommands.WithLabelValues(blockedCommandOf(outcome)).Inc()
	}
}

func blockedCommandOf(outcome pipeline.Outcome) string {
	if len(outcome.Query.ValidationErrors) == 0 {
		return "unknown"
	}
	// "blocked command: X" is the only error shape the pipeline emits.
	err := outcome.Query.ValidationErrors[0]
	const prefix = "blocked command: "
	if len(err) > len(prefix) {
		return err[len(prefix):]
	}
	return "unknown"
}
