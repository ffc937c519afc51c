package pipeline

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

const maxSuggestions = 3

// nearestMatches returns up to maxSuggestions candidates closest to term by
// edit distance. Candidates further than half the term length are noise
// and dropped.
func nearestMatches(term string, candidates []string) []string {
	type scored struct {
		name     string
		distance int
	}

	limit := len(term)/2 + 1
	var matches []scored
	for _, candidate := range candidates {
		d := levenshtein.ComputeDistance(strings.ToLower(term), strings.ToLower(candidate))
		if d <= limit {
			matches = append(matches, scored{name: candidate, distance: d})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].distance < matches[j].distance
	})

	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.name)
	}
	return out
}
