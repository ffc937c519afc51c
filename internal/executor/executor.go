// Package executor runs validated queries against the data store. Nothing
// here runs implicitly: execution happens only on an explicit request, and
// results are never cached.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/models"
	"github.com/querylens/backend/internal/safety"
	"github.com/querylens/backend/pkg/logger"
)

type Executor struct {
	db      *sql.DB
	timeout time.Duration
}

func New(dbPath string, timeout time.Duration) (*Executor, error) {
	// Read-only open: even a denylist escape cannot mutate anything.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open data database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach data database: %w", err)
	}

	logger.Info("Query executor initialized", zap.String("path", dbPath))

	return &Executor{db: db, timeout: timeout}, nil
}

// Execute runs a validated query and reports its shape, not its rows.
// The query is re-checked against the denylist first; an executor must
// never trust that its caller validated.
func (e *Executor) Execute(ctx context.Context, query *models.GeneratedQuery) (*models.QueryResult, error) {
	if !query.IsValid {
		return nil, fmt.Errorf("refusing to execute invalid query %s", query.ID)
	}
	if result := safety.Validate(query.SQL); !result.IsValid {
		return nil, fmt.Errorf("refusing to execute query %s: contains %s", query.ID, result.BlockedCommand)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()

	rows, err := e.db.QueryContext(ctx, query.SQL)
	if err != nil {
		return nil, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	rowCount := 0
	for rows.Next() {
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query iteration failed: %w", err)
	}

	result := &models.QueryResult{
		ID:              uuid.New().String(),
		QueryID:         query.ID,
		RowCount:        rowCount,
		IsPartial:       query.ExecutionLimit > 0 && rowCount >= query.ExecutionLimit,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}

	logger.Info("Query executed",
		zap.String("query_id", query.ID),
		zap.Int("row_count", result.RowCount),
		zap.Bool("is_partial", result.IsPartial),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs),
	)

	return result, nil
}

func (e *Executor) Close() error {
	return e.db.Close()
}
