package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/querylens/backend/pkg/logger"
)

// SQLiteLog is the durable Log implementation. WAL mode gives atomic
// appends under concurrent session writers.
type SQLiteLog struct {
	db *sql.DB
}

func NewSQLiteLog(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS blocked_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		blocked_query TEXT NOT NULL,
		original_prompt TEXT NOT NULL,
		blocked_command TEXT NOT NULL,
		reason TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_created ON blocked_queries(created_at);
	CREATE INDEX IF NOT EXISTS idx_blocked_command ON blocked_queries(blocked_command);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.Info("Audit log initialized", zap.String("path", dbPath))

	return &SQLiteLog{db: db}, nil
}

func (l *SQLiteLog) Append(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO blocked_queries (blocked_query, original_prompt, blocked_command, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := l.db.ExecContext(
		ctx,
		query,
		entry.BlockedQuery,
		entry.OriginalPrompt,
		entry.BlockedCommand,
		entry.Reason,
		ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	logger.Info("Blocked query audited",
		zap.String("blocked_command", entry.BlockedCommand),
		zap.String("reason", entry.Reason),
	)

	return nil
}

func (l *SQLiteLog) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, blocked_query, original_prompt, blocked_command, reason, created_at
		FROM blocked_queries
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := l.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64

		err := rows.Scan(&e.ID, &e.BlockedQuery, &e.OriginalPrompt, &e.BlockedCommand, &e.Reason, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}

		e.Timestamp = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
