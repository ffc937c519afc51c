package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/executor"
	"github.com/querylens/backend/internal/metrics"
	"github.com/querylens/backend/internal/models"
	"github.com/querylens/backend/internal/pipeline"
	"github.com/querylens/backend/pkg/logger"
)

// InterpretHandler is the non-streaming variant: the same state machine
// runs, intermediate status and chunk events are discarded, and the final
// outcome comes back in one response.
type InterpretHandler struct {
	pipeline *pipeline.Pipeline
	executor *executor.Executor
}

func NewInterpretHandler(p *pipeline.Pipeline, exec *executor.Executor) *InterpretHandler {
	return &InterpretHandler{pipeline: p, executor: exec}
}

type interpretRequest struct {
	Prompt  string `json:"prompt"`
	Execute bool   `json:"execute"`
}

type interpretResponse struct {
	State          string                       `json:"state"`
	Code           string                       `json:"code,omitempty"`
	Message        string                       `json:"message,omitempty"`
	Suggestions    []string                     `json:"suggestions,omitempty"`
	Interpretation *models.PromptInterpretation `json:"interpretation,omitempty"`
	Query          *models.GeneratedQuery       `json:"query,omitempty"`
	Result         *models.QueryResult          `json:"result,omitempty"`
	ElapsedMs      int64                        `json:"elapsed_ms"`
}

func (h *InterpretHandler) HandleInterpret(c *fiber.Ctx) error {
	var req interpretRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	outcome := h.pipeline.Interpret(c.Context(), req.Prompt)
	recordOutcomeMetrics(outcome)

	resp := interpretResponse{
		State:          string(outcome.State),
		Code:           string(outcome.Code),
		Message:        outcome.Message,
		Suggestions:    outcome.Suggestions,
		Interpretation: outcome.Interpretation,
		Query:          outcome.Query,
		ElapsedMs:      outcome.ElapsedMs,
	}

	if outcome.Ready() && req.Execute {
		if h.executor == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{
				"error": "query execution is not configured",
			})
		}
		result, err := h.executor.Execute(c.Context(), outcome.Query)
		if err != nil {
			metrics.QueriesExecuted.WithLabelValues("error").Inc()
			logger.Error("Explicit query execution failed",
				zap.String("query_id", outcome.Query.ID),
				zap.Error(err),
			)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "query execution failed",
			})
		}
		metrics.QueriesExecuted.WithLabelValues("ok").Inc()
		resp.Result = result
	}

	return c.Status(statusFor(outcome)).JSON(resp)
}

func statusFor(outcome pipeline.Outcome) int {
	switch outcome.Code {
	case "":
		return fiber.StatusOK
	case pipeline.CodeValidation:
		return fiber.StatusBadRequest
	case pipeline.CodeAmbiguousPrompt, pipeline.CodeUnrecognizedTables, pipeline.CodeUnrecognizedColumns:
		return fiber.StatusUnprocessableEntity
	case pipeline.CodeSQLCommandBlocked:
		return fiber.StatusForbidden
	case pipeline.CodeEngineTimeout:
		return fiber.StatusGatewayTimeout
	case pipeline.CodeEngineFailure:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
