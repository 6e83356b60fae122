// Package lexicon loads the medical validation lexicon: phonetic correction
// pairs, the known-term taxonomy, hallucination patterns and confidence
// thresholds. The lexicon is read once at startup and treated as immutable
// afterwards, so lookups need no locking.
//
// A missing or malformed lexicon file degrades to [Empty]: validation becomes
// pass-through but the service keeps running. Dictation must not fail because
// a dictionary deploy went wrong.
package lexicon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Severity grades a hallucination pattern.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Pattern is one compiled hallucination pattern.
type Pattern struct {
	// Regex matches suspected recognizer hallucinations, case-insensitive.
	Regex *regexp.Regexp

	// Description explains what the pattern catches, used in warnings.
	Description string

	// Severity grades the finding.
	Severity Severity

	// Exceptions are exact matches (case-insensitive) that suppress the
	// pattern, for legitimate phrases the regex overreaches into.
	Exceptions []string
}

// Matches reports whether text triggers the pattern. Text containing any of
// the exception phrases (case-insensitive) never matches: exceptions mark the
// legitimate phrasings the regex would otherwise overreach into.
func (p *Pattern) Matches(text string) bool {
	if !p.Regex.MatchString(text) {
		return false
	}
	lower := strings.ToLower(text)
	for _, e := range p.Exceptions {
		if e != "" && strings.Contains(lower, strings.ToLower(e)) {
			return false
		}
	}
	return true
}

// Thresholds are the confidence cut-offs for validation decisions.
type Thresholds struct {
	// MinimumForFinal is the confidence below which a transcript can never be
	// valid, regardless of its quality score.
	MinimumForFinal float64

	// FlagForReviewBelow is the confidence below which the transcript is
	// flagged for human review.
	FlagForReviewBelow float64
}

// DefaultThresholds apply when the lexicon file defines none.
func DefaultThresholds() Thresholds {
	return Thresholds{MinimumForFinal: 0.6, FlagForReviewBelow: 0.75}
}

// Lexicon is the loaded, normalized validation dictionary.
type Lexicon struct {
	// corrections maps each canonical term to its misrecognized variants,
	// all lowercased.
	corrections map[string][]string

	// canonical preserves the original casing of each canonical term, keyed
	// by its lowercase form.
	canonical map[string]string

	// orderedCanonical is the deterministic iteration order for corrections.
	orderedCanonical []string

	// terms is the flattened known-term set, lowercased.
	terms map[string]struct{}

	// sortedTerms caches the deterministic term order for suggestion ranking.
	sortedTerms []string

	// patterns are the compiled hallucination patterns.
	patterns []Pattern

	// contextual maps a medical context name (lowercased) to terms expected
	// to appear in dictations of that kind.
	contextual map[string][]string

	thresholds Thresholds
}

// fileSchema is the on-disk JSON layout. The medical_terms taxonomy nests
// arbitrarily (category maps down to term arrays), hence any.
type fileSchema struct {
	PhoneticCorrections map[string][]string `json:"phonetic_corrections"`
	MedicalTerms        any                 `json:"medical_terms"`
	Hallucinations      []patternSchema     `json:"hallucination_patterns"`
	Thresholds          *thresholdSchema    `json:"confidence_thresholds"`
	Contextual          map[string][]string `json:"contextual_validation"`
}

type patternSchema struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Severity    string   `json:"severity"`
	Exceptions  []string `json:"exceptions"`
}

type thresholdSchema struct {
	MinimumForFinal    *float64 `json:"minimum_for_final"`
	FlagForReviewBelow *float64 `json:"flag_for_review_below"`
}

// Empty returns a lexicon with no entries and default thresholds. Validation
// against it is pass-through.
func Empty() *Lexicon {
	return &Lexicon{
		corrections: map[string][]string{},
		canonical:   map[string]string{},
		terms:       map[string]struct{}{},
		contextual:  map[string][]string{},
		thresholds:  DefaultThresholds(),
	}
}

// Load reads and normalizes the lexicon at path.
func Load(path string) (*Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lexicon: read %s: %w", path, err)
	}
	return Parse(raw)
}

// LoadOrEmpty loads path, degrading to [Empty] with a warning on any failure.
// An empty path degrades silently, for deployments that run without a lexicon.
func LoadOrEmpty(path string) *Lexicon {
	if path == "" {
		return Empty()
	}
	lex, err := Load(path)
	if err != nil {
		slog.Warn("lexicon: falling back to empty lexicon", "path", path, "error", err)
		return Empty()
	}
	return lex
}

// Parse normalizes raw lexicon JSON.
func Parse(raw []byte) (*Lexicon, error) {
	var file fileSchema
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("lexicon: parse: %w", err)
	}

	lex := Empty()

	for canon, variants := range file.PhoneticCorrections {
		key := strings.ToLower(canon)
		lex.canonical[key] = canon
		for _, v := range variants {
			lex.corrections[key] = append(lex.corrections[key], strings.ToLower(v))
		}
		// Canonical correction targets are known terms by definition.
		lex.terms[key] = struct{}{}
	}
	lex.orderedCanonical = make([]string, 0, len(lex.corrections))
	for key := range lex.corrections {
		lex.orderedCanonical = append(lex.orderedCanonical, key)
	}
	sort.Strings(lex.orderedCanonical)

	flattenTerms(file.MedicalTerms, lex.terms)
	lex.sortedTerms = make([]string, 0, len(lex.terms))
	for t := range lex.terms {
		lex.sortedTerms = append(lex.sortedTerms, t)
	}
	sort.Strings(lex.sortedTerms)

	for _, p := range file.Hallucinations {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			slog.Warn("lexicon: skipping invalid hallucination pattern", "pattern", p.Pattern, "error", err)
			continue
		}
		lex.patterns = append(lex.patterns, Pattern{
			Regex:       re,
			Description: p.Description,
			Severity:    parseSeverity(p.Severity),
			Exceptions:  p.Exceptions,
		})
	}

	if t := file.Thresholds; t != nil {
		if t.MinimumForFinal != nil {
			lex.thresholds.MinimumForFinal = *t.MinimumForFinal
		}
		if t.FlagForReviewBelow != nil {
			lex.thresholds.FlagForReviewBelow = *t.FlagForReviewBelow
		}
	}

	for ctx, terms := range file.Contextual {
		lex.contextual[strings.ToLower(ctx)] = terms
	}

	return lex, nil
}

// flattenTerms walks the nested taxonomy and collects every string leaf as a
// lowercased term. Branch keys are categories, not terms.
func flattenTerms(node any, into map[string]struct{}) {
	switch v := node.(type) {
	case string:
		if t := strings.ToLower(strings.TrimSpace(v)); t != "" {
			into[t] = struct{}{}
		}
	case []any:
		for _, item := range v {
			flattenTerms(item, into)
		}
	case map[string]any:
		for _, item := range v {
			flattenTerms(item, into)
		}
	}
}

func parseSeverity(s string) Severity {
	switch Severity(strings.ToLower(s)) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// HasTerm reports whether word (any casing) is a known medical term.
func (l *Lexicon) HasTerm(word string) bool {
	_, ok := l.terms[strings.ToLower(word)]
	return ok
}

// Terms returns all known terms, lowercased and sorted.
func (l *Lexicon) Terms() []string {
	return l.sortedTerms
}

// NumTerms returns the size of the known-term set.
func (l *Lexicon) NumTerms() int {
	return len(l.terms)
}

// CorrectionPairs calls fn for every (canonical, variant) pair in a
// deterministic order: canonical terms sorted, variants in file order.
// Returning false stops the iteration.
func (l *Lexicon) CorrectionPairs(fn func(canonical, variant string) bool) {
	for _, key := range l.orderedCanonical {
		canon := l.canonical[key]
		for _, variant := range l.corrections[key] {
			if !fn(canon, variant) {
				return
			}
		}
	}
}

// NumCorrectionVariants returns the total number of (canonical, variant) pairs.
func (l *Lexicon) NumCorrectionVariants() int {
	n := 0
	for _, vs := range l.corrections {
		n += len(vs)
	}
	return n
}

// Patterns returns the compiled hallucination patterns.
func (l *Lexicon) Patterns() []Pattern {
	return l.patterns
}

// Thresholds returns the confidence cut-offs.
func (l *Lexicon) Thresholds() Thresholds {
	return l.thresholds
}

// ContextTerms returns the terms expected for a medical context, or nil if the
// context is unknown.
func (l *Lexicon) ContextTerms(context string) []string {
	return l.contextual[strings.ToLower(context)]
}
