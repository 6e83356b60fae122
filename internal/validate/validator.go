// Package validate checks recognized dictation text against the medical
// lexicon: it applies phonetic corrections, detects recognizer hallucinations
// and unknown medical-looking terms, and derives a quality score that decides
// whether a transcript can stand as a final result or needs human review.
//
// Corrections never lower the quality score. A misrecognized term that the
// lexicon can repair is a solved problem; only findings the validator cannot
// repair (hallucinations, unknown terms, low confidence) reduce trust in the
// transcript.
package validate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/medscribe/medscribe/internal/lexicon"
	"github.com/medscribe/medscribe/internal/observe"
	"github.com/medscribe/medscribe/internal/phonetic"
)

const (
	// hallucinationPenalty is applied once if any pattern matches.
	hallucinationPenalty = 0.7

	// unknownTermPenalty is applied once if any medical-looking token is
	// absent from the lexicon.
	unknownTermPenalty = 0.8

	// minQualityScore and maxQualityScore bound the final score.
	minQualityScore = 0.1
	maxQualityScore = 1.0

	// validScoreFloor is the quality score below which a transcript is never
	// valid.
	validScoreFloor = 0.5

	// streamingCorrectionLimit caps the corrections applied on the fast
	// streaming path.
	streamingCorrectionLimit = 10

	// minTokenRunes is the shortest token the terminology check considers.
	minTokenRunes = 4

	// minMedicalTermRunes is the shortest token the medical-morphology
	// heuristic can flag.
	minMedicalTermRunes = 6
)

// correctionRule is one precompiled variant-to-canonical substitution.
type correctionRule struct {
	canonical string
	variant   string
	re        *regexp.Regexp
}

// Validator validates transcripts against one immutable lexicon. Safe for
// concurrent use.
type Validator struct {
	lex     *lexicon.Lexicon
	rules   []correctionRule
	matcher *phonetic.Matcher
	metrics *observe.Metrics
}

// Option configures a [Validator].
type Option func(*Validator)

// WithMetrics injects the metrics sink. Without it the validator records
// nothing.
func WithMetrics(m *observe.Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// New builds a validator over lex, precompiling one case-insensitive pattern
// per correction variant. Whole-word boundaries are checked over runes at
// apply time: RE2's \b knows only ASCII word characters and would never
// match a variant that starts or ends in an umlaut (Ödem, Übelkeit).
// Rule order is deterministic: canonical terms sorted, variants in lexicon
// file order.
func New(lex *lexicon.Lexicon, opts ...Option) *Validator {
	v := &Validator{lex: lex, matcher: phonetic.New()}
	lex.CorrectionPairs(func(canonical, variant string) bool {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(variant))
		if err != nil {
			return true
		}
		v.rules = append(v.rules, correctionRule{canonical: canonical, variant: variant, re: re})
		return true
	})
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the full validation pipeline over one recognized transcript:
// phonetic corrections, hallucination patterns, terminology check, contextual
// check, confidence check, then scoring.
//
// medicalContext optionally names the dictation kind (e.g. "mammographie")
// and activates the lexicon's contextual expectations for it.
func (v *Validator) Validate(ctx context.Context, text string, confidence float64, medicalContext string) *Result {
	start := time.Now()
	res := v.newResult(text, confidence)
	score := 1.0

	// Step 1: phonetic corrections. Never penalized.
	res.CorrectedText, res.Corrections = v.applyCorrections(text, -1)

	// Step 2: hallucination patterns. One-shot penalty.
	hallucinated := false
	for i := range v.lex.Patterns() {
		p := &v.lex.Patterns()[i]
		if p.Matches(res.CorrectedText) {
			hallucinated = true
			res.Warnings = append(res.Warnings, Warning{
				Type:     "hallucination",
				Message:  fmt.Sprintf("suspected hallucination: %s", p.Description),
				Severity: p.Severity,
			})
		}
	}
	if hallucinated {
		score *= hallucinationPenalty
	}

	// Step 3: terminology. One-shot penalty for unknown medical-looking terms.
	unknown := v.checkTerminology(res)
	if unknown {
		score *= unknownTermPenalty
	}

	// Step 4: contextual expectations. Informational only.
	v.checkContext(res, medicalContext)

	// Step 5: confidence.
	if confidence < v.lex.Thresholds().FlagForReviewBelow {
		res.addFlag(FlagLowConfidence)
		res.Warnings = append(res.Warnings, Warning{
			Type:     "confidence",
			Message:  fmt.Sprintf("confidence %.2f below review threshold %.2f", confidence, v.lex.Thresholds().FlagForReviewBelow),
			Severity: lexicon.SeverityHigh,
		})
	}

	v.finish(res, score)
	v.record(ctx, res, hallucinated, time.Since(start))
	return res
}

// ValidateStreaming is the fast path for interim transcripts: it applies at
// most the first ten phonetic corrections and the confidence check, skipping
// pattern matching and terminology analysis.
func (v *Validator) ValidateStreaming(ctx context.Context, text string, confidence float64) *Result {
	res := v.newResult(text, confidence)
	res.CorrectedText, res.Corrections = v.applyCorrections(text, streamingCorrectionLimit)

	if confidence < v.lex.Thresholds().FlagForReviewBelow {
		res.addFlag(FlagLowConfidence)
	}

	v.finish(res, 1.0)
	return res
}

func (v *Validator) newResult(text string, confidence float64) *Result {
	return &Result{
		OriginalText:  text,
		CorrectedText: text,
		Confidence:    confidence,
		Corrections:   []Correction{},
		Warnings:      []Warning{},
		Flags:         []string{},
	}
}

// finish derives the quality score and validity from the accumulated penalty
// score and the recognizer confidence.
func (v *Validator) finish(res *Result, score float64) {
	q := score * res.Confidence
	if q < minQualityScore {
		q = minQualityScore
	}
	if q > maxQualityScore {
		q = maxQualityScore
	}
	res.QualityScore = q
	res.IsValid = q >= validScoreFloor && res.Confidence >= v.lex.Thresholds().MinimumForFinal
}

// applyCorrections substitutes known misrecognitions with their canonical
// terms. Matching is whole-word and case-insensitive. limit < 0 means
// unlimited; otherwise at most limit corrections are recorded.
func (v *Validator) applyCorrections(text string, limit int) (string, []Correction) {
	corrected := text
	corrections := []Correction{}
	for _, rule := range v.rules {
		if limit >= 0 && len(corrections) >= limit {
			break
		}
		spans := rule.re.FindAllStringIndex(corrected, -1)
		if len(spans) == 0 {
			continue
		}
		var b strings.Builder
		prev := 0
		replaced := false
		for _, span := range spans {
			if limit >= 0 && len(corrections) >= limit {
				break
			}
			if !onWordBoundary(corrected, span[0], span[1]) {
				continue
			}
			b.WriteString(corrected[prev:span[0]])
			b.WriteString(rule.canonical)
			corrections = append(corrections, Correction{
				Type:      "phonetic",
				Original:  corrected[span[0]:span[1]],
				Corrected: rule.canonical,
			})
			prev = span[1]
			replaced = true
		}
		if !replaced {
			continue
		}
		b.WriteString(corrected[prev:])
		corrected = b.String()
	}
	return corrected, corrections
}

// onWordBoundary reports whether the match at [start, end) in s is bounded
// by non-word runes or the string edges on both sides.
func onWordBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// checkTerminology scans the corrected text for tokens that look like medical
// terminology but are absent from the lexicon. Reports whether any were found.
func (v *Validator) checkTerminology(res *Result) bool {
	if v.lex.NumTerms() == 0 {
		return false
	}
	unknown := false
	seen := map[string]struct{}{}
	for _, token := range strings.Fields(res.CorrectedText) {
		word := strings.ToLower(strings.Trim(token, ".,;:!?()[]\"'"))
		if utf8.RuneCountInString(word) < minTokenRunes {
			continue
		}
		if v.lex.HasTerm(word) {
			continue
		}
		if !looksMedical(word) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		unknown = true
		msg := fmt.Sprintf("unknown medical term: %s", word)
		if match, _, ok := v.matcher.Match(word, v.lex.Terms()); ok {
			msg = fmt.Sprintf("unknown medical term: %s (did you mean %q?)", word, match)
		}
		res.Warnings = append(res.Warnings, Warning{
			Type:     "terminology",
			Message:  msg,
			Severity: lexicon.SeverityMedium,
		})
	}
	return unknown
}

// checkContext warns when a dictation of a known kind mentions none of the
// terms expected for it. Informational, never penalized.
func (v *Validator) checkContext(res *Result, medicalContext string) {
	if medicalContext == "" {
		return
	}
	expected := v.lex.ContextTerms(medicalContext)
	if len(expected) == 0 {
		return
	}
	lower := strings.ToLower(res.CorrectedText)
	for _, term := range expected {
		if strings.Contains(lower, strings.ToLower(term)) {
			return
		}
	}
	res.Warnings = append(res.Warnings, Warning{
		Type:     "context",
		Message:  fmt.Sprintf("no %s-typical terms found in transcript", medicalContext),
		Severity: lexicon.SeverityLow,
	})
}

func (v *Validator) record(ctx context.Context, res *Result, hallucinated bool, elapsed time.Duration) {
	if v.metrics == nil {
		return
	}
	v.metrics.ValidationDuration.Record(ctx, elapsed.Seconds())
	v.metrics.RecordValidation(ctx, res.IsValid, len(res.Corrections), hallucinated, res.HasFlag(FlagLowConfidence))
}

// medicalSuffixes and medicalSubstrings drive the morphological heuristic for
// German medical terminology.
var (
	medicalSuffixes   = []string{"graphie", "tomie", "skopie", "pathie", "itis", "ose", "isch", "om", "gen"}
	medicalSubstrings = []string{"lymph", "karpal"}
)

// looksMedical reports whether a lowercased token is plausibly medical
// terminology based on its morphology.
func looksMedical(word string) bool {
	if utf8.RuneCountInString(word) < minMedicalTermRunes {
		return false
	}
	for _, suffix := range medicalSuffixes {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	for _, sub := range medicalSubstrings {
		if strings.Contains(word, sub) {
			return true
		}
	}
	return false
}
