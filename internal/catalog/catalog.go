// Package catalog exposes the table metadata this service grounds
// interpretations against. The catalog itself is maintained by an external
// process; everything here is read-only.
package catalog

import (
	"context"
	"strings"
)

type Column struct {
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Required      bool     `json:"required"`
	Enumerable    bool     `json:"enumerable"`
	AllowedValues []string `json:"allowed_values,omitempty"`
}

type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Context is the external catalog lookup. One Snapshot is taken per
// pipeline run so that validation stays deterministic within the run even
// while the underlying catalog is refreshed out-of-band.
type Context interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot is an immutable view of the catalog at one point in time.
type Snapshot struct {
	tables []Table
	byName map[string]*Table
}

func NewSnapshot(tables []Table) *Snapshot {
	s := &Snapshot{
		tables: tables,
		byName: make(map[string]*Table, len(tables)),
	}
	for i := range s.tables {
		s.byName[strings.ToLower(s.tables[i].Name)] = &s.tables[i]
	}
	return s
}

func (s *Snapshot) Tables() []Table {
	return s.tables
}

func (s *Snapshot) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.Name)
	}
	return names
}

// Resolve finds a table by name, case-insensitive.
func (s *Snapshot) Resolve(name string) (*Table, bool) {
	t, ok := s.byName[strings.ToLower(name)]
	return t, ok
}

// HasColumn reports whether table carries the named column.
func (s *Snapshot) HasColumn(table, column string) bool {
	t, ok := s.Resolve(table)
	if !ok {
		return false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, column) {
			return true
		}
	}
	return false
}

// ColumnNames returns the columns of every resolved table in tables,
// deduplicated. Used for nearest-match suggestions.
func (s *Snapshot) ColumnNames(tables []string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range tables {
		t, ok := s.Resolve(name)
		if !ok {
			continue
		}
		for _, c := range t.Columns {
			key := strings.ToLower(c.Name)
			if !seen[key] {
				seen[key] = true
				names = append(names, c.Name)
			}
		}
	}
	return names
}

// Static is a fixed in-memory Context, used in tests and for catalogs
// provided directly through configuration.
type Static struct {
	snapshot *Snapshot
}

func NewStatic(tables []Table) *Static {
	return &Static{snapshot: NewSnapshot(tables)}
}

func (s *Static) Snapshot(_ context.Context) (*Snapshot, error) {
	return s.snapshot, nil
}
