package mcpservice

import (
	"sort"

	"github.com/antzucaro/matchr"
)

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a qualified tool
// name to be offered as a suggestion on a [ErrToolNotFound].
const fuzzyThreshold = 0.85

// maxSuggestions bounds how many candidates SuggestTools returns.
const maxSuggestions = 3

// SuggestTools returns up to [maxSuggestions] qualified tool names from
// candidates whose Jaro-Winkler similarity to want is at least
// [fuzzyThreshold], most similar first. Tool names are short identifiers
// rather than phrases, so unlike the teacher's entity-matching phonetic
// package this needs only a single direct comparison, not tokenized or
// phonetic-code strategies.
func SuggestTools(want string, candidates []string) []string {
	type scored struct {
		name  string
		score float64
	}
	var matches []scored
	for _, c := range candidates {
		score := matchr.JaroWinkler(want, c, false)
		if score >= fuzzyThreshold {
			matches = append(matches, scored{name: c, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].name < matches[j].name
	})
	if len(matches) > maxSuggestions {
		matches = matches[:maxSuggestions]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.name
	}
	return out
}
