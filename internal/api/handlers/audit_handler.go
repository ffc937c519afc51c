package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/audit"
	"github.com/querylens/backend/pkg/logger"
)

type AuditHandler struct {
	log audit.Log
}

func NewAuditHandler(log audit.Log) *AuditHandler {
	return &AuditHandler{log: log}
}

type auditEntryView struct {
	BlockedQuery   string    `json:"blocked_query"`
	OriginalPrompt string    `json:"original_prompt"`
	BlockedCommand string    `json:"blocked_command"`
	Reason         string    `json:"reason"`
	Timestamp      time.Time `json:"timestamp"`
}

// HandleRecent lists recent blocked queries. The entries carry no session
// or user identity by construction.
func (h *AuditHandler) HandleRecent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	entries, err := h.log.Recent(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to read audit log", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read audit log",
		})
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			BlockedQuery:   e.BlockedQuery,
			OriginalPrompt: e.OriginalPrompt,
			BlockedCommand: e.BlockedCommand,
			Reason:         e.Reason,
			Timestamp:      e.Timestamp,
		})
	}

	return c.JSON(fiber.Map{"entries": views})
}
