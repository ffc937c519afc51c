package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/querylens/backend/pkg/logger"
)

// SQLiteContext reads catalog metadata from the sqlite database maintained
// by the external extraction process. The schema is owned by that process;
// this client only selects from it.
type SQLiteContext struct {
	db *sql.DB
}

func NewSQLiteContext(dbPath string) (*SQLiteContext, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to reach catalog database: %w", err)
	}

	logger.Info("Catalog context initialized", zap.String("path", dbPath))

	return &SQLiteContext{db: db}, nil
}

func (c *SQLiteContext) Snapshot(ctx context.Context) (*Snapshot, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT name FROM catalog_tables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog tables: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Name); err != nil {
			return nil, fmt.Errorf("failed to scan catalog table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tables {
		columns, err := c.loadColumns(ctx, tables[i].Name)
		if err != nil {
			return nil, err
		}
		tables[i].Columns = columns
	}

	return NewSnapshot(tables), nil
}

func (c *SQLiteContext) loadColumns(ctx context.Context, table string) ([]Column, error) {
	query := `
		SELECT name, type, required, enumerable, COALESCE(allowed_values, '')
		FROM catalog_columns
		WHERE table_name = ?
		ORDER BY ordinal
	`

	rows, err := c.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []Column
	for rows.Next() {
		var col Column
		var required, enumerable int
		var allowedJSON string

		err := rows.Scan(&col.Name, &col.Type, &required, &enumerable, &allowedJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog column: %w", err)
		}

		col.Required = required != 0
		col.Enumerable = enumerable != 0
		if col.Enumerable && allowedJSON != "" {
			if err := json.Unmarshal([]byte(allowedJSON), &col.AllowedValues); err != nil {
				logger.Warn("Unparseable allowed values in catalog",
					zap.String("table", table),
					zap.String("column", col.Name),
					zap.Error(err),
				)
			}
		}

		columns = append(columns, col)
	}

	return columns, rows.Err()
}

func (c *SQLiteContext) Close() error {
	return c.db.Close()
}
