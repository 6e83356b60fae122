package validate

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// minSuggestionScore filters out terms with no meaningful resemblance.
const minSuggestionScore = 0.3

// DefaultSuggestionLimit is the suggestion count used when callers pass
// max <= 0.
const DefaultSuggestionLimit = 3

// SuggestCorrections returns up to max lexicon terms most similar to term.
//
// The primary ranking is positional character similarity (matching runes at
// the same index over the longer length), which favors the prefix-preserving
// misspellings dictation produces. Ties break by membership in the current
// medical context's expected terms, then by Jaro-Winkler similarity, then
// alphabetically. Suggestions are returned lowercased.
func (v *Validator) SuggestCorrections(term, medicalContext string, max int) []string {
	if max <= 0 {
		max = DefaultSuggestionLimit
	}
	lower := strings.ToLower(term)
	if lower == "" {
		return nil
	}

	contextTerms := map[string]struct{}{}
	for _, t := range v.lex.ContextTerms(medicalContext) {
		contextTerms[strings.ToLower(t)] = struct{}{}
	}

	type candidate struct {
		term      string
		score     float64
		inContext bool
		tie       float64
	}
	var candidates []candidate
	for _, known := range v.lex.Terms() {
		score := positionalSimilarity(lower, known)
		if score < minSuggestionScore {
			continue
		}
		_, inCtx := contextTerms[known]
		candidates = append(candidates, candidate{
			term:      known,
			score:     score,
			inContext: inCtx,
			tie:       matchr.JaroWinkler(lower, known, true),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.inContext != b.inContext {
			return a.inContext
		}
		if a.tie != b.tie {
			return a.tie > b.tie
		}
		return a.term < b.term
	})

	if len(candidates) > max {
		candidates = candidates[:max]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.term
	}
	return out
}

// positionalSimilarity is the fraction of runes matching at the same index,
// over the length of the longer string. Case must be normalized by callers.
func positionalSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < n; i++ {
		if ra[i] == rb[i] {
			matches++
		}
	}
	return float64(matches) / float64(longest)
}
