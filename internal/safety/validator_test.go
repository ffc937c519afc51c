package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsReadQueries(t *testing.T) {
	queries := []string{
		"SELECT * FROM accounts WHERE status = 'A' LIMIT 100",
		"select id, name from customers",
		"SELECT updated_at FROM cards WHERE created_at > '2024-01-01'",
		"",
	}

	for _, q := range queries {
		result := Validate(q)
		assert.True(t, result.IsValid, "query should be accepted: %s", q)
		assert.Empty(t, result.BlockedCommand)
	}
}

func TestValidateBlocksDenylistedKeywords(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		blocked string
	}{
		{"insert", "INSERT INTO accounts VALUES (1)", "INSERT"},
		{"update", "update accounts set status = 'I'", "UPDATE"},
		{"delete", "DELETE FROM accounts", "DELETE"},
		{"drop", "DROP TABLE accounts", "DROP"},
		{"truncate", "TRUNCATE accounts", "TRUNCATE"},
		{"alter", "ALTER TABLE accounts ADD COLUMN x", "ALTER"},
		{"mixed case", "DrOp TABLE accounts", "DROP"},
		{"embedded in select", "SELECT 1; DROP TABLE accounts", "DROP"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := Validate(tc.sql)
			assert.False(t, result.IsValid)
			assert.Equal(t, tc.blocked, result.BlockedCommand)
		})
	}
}

func TestValidateWholeWordOnly(t *testing.T) {
	// Keywords inside identifiers must not trigger the denylist.
	queries := []string{
		"SELECT * FROM updates_log",
		"SELECT last_update FROM accounts",
		"SELECT * FROM dropbox_files",
		"SELECT inserted_at FROM audit_view",
		"SELECT alteration FROM tailor_orders",
	}

	for _, q := range queries {
		result := Validate(q)
		assert.True(t, result.IsValid, "identifier should not match: %s", q)
	}
}

func TestValidateReportsFirstInDenylistOrder(t *testing.T) {
	// DROP appears first in the text, but INSERT comes first in the
	// denylist, so INSERT is reported.
	result := Validate("DROP TABLE a; INSERT INTO b VALUES (1)")
	assert.False(t, result.IsValid)
	assert.Equal(t, "INSERT", result.BlockedCommand)
}

func TestValidateIsIdempotent(t *testing.T) {
	sql := "UPDATE accounts SET status = 'I'"
	first := Validate(sql)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Validate(sql))
	}
}
