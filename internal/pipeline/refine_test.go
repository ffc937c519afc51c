package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRefineSQLAppliesDefaultLimit(t *testing.T) {
	refined, limit := refineSQL("SELECT id FROM contas WHERE status = 'A'", 100)
	assert.Equal(t, "SELECT id FROM contas WHERE status = 'A' LIMIT 100", refined)
	assert.Equal(t, 100, limit)
}

func TestRefineSQLKeepsExistingLimit(t *testing.T) {
	refined, limit := refineSQL("SELECT id FROM contas LIMIT 25", 100)
	assert.Equal(t, "SELECT id FROM contas LIMIT 25", refined)
	assert.Equal(t, 25, limit)
}

func TestRefineSQLTrimsSemicolon(t *testing.T) {
	refined, limit := refineSQL("SELECT id FROM contas;  ", 100)
	assert.Equal(t, "SELECT id FROM contas LIMIT 100", refined)
	assert.Equal(t, 100, limit)
}

func TestRefineSQLDoesNotMatchLimitInIdentifier(t *testing.T) {
	refined, limit := refineSQL("SELECT limite FROM cartoes", 100)
	assert.Equal(t, "SELECT limite FROM cartoes LIMIT 100", refined)
	assert.Equal(t, 100, limit)
}

func TestNearestMatches(t *testing.T) {
	candidates := []string{"contas", "cartoes", "clientes"}

	matches := nearestMatches("contass", candidates)
	assert.Equal(t, []string{"contas"}, matches[:1])

	assert.Empty(t, nearestMatches("xyzzyqwerty", candidates))
}
