package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var limitPattern = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)

// refineSQL normalizes a validated statement for execution: trailing
// semicolons go, and a row limit is appended when the statement carries
// none. Filter semantics are never touched.
func refineSQL(sql string, defaultLimit int) (refined string, limit int) {
	refined = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))

	if m := limitPattern.FindStringSubmatch(refined); m != nil {
		limit, _ = strconv.Atoi(m[1])
		return refined, limit
	}

	return fmt.Sprintf("%s LIMIT %d", refined, defaultLimit), defaultLimit
}
