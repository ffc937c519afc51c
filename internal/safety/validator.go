package safety

import (
	"regexp"
	"strings"
)

// Denylist holds the blocked statement keywords in reporting order. The
// first keyword found in a candidate statement is the one reported, so the
// order here is part of the contract.
var Denylist = []string{"insert", "update", "delete", "drop", "truncate", "alter"}

var denyPatterns = func() []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(Denylist))
	for i, word := range Denylist {
		patterns[i] = regexp.MustCompile(`(?i)\b` + word + `\b`)
	}
	return patterns
}()

// Result is the outcome of validating one SQL string.
type Result struct {
	IsValid        bool
	BlockedCommand string
}

// Validate scans sql for denylisted statement keywords, case-insensitive and
// whole-word. It is a pure function: identical input always yields an
// identical result. Anything not matching the denylist is accepted; this is
// deliberately not a parser, since the refine stage only constructs
// read-shaped statements and the denylist is defense in depth.
func Validate(sql string) Result {
	for i, pattern := range denyPatterns {
		if pattern.MatchString(sql) {
			return Result{
				IsValid:        false,
				BlockedCommand: strings.ToUpper(Denylist[i]),
			}
		}
	}
	return Result{IsValid: true}
}
