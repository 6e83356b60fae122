package validate

import "github.com/medscribe/medscribe/internal/lexicon"

// FlagLowConfidence marks a transcript whose confidence fell below the
// review threshold.
const FlagLowConfidence = "low_confidence"

// Correction records one applied text substitution.
type Correction struct {
	// Type is the correction mechanism. Currently always "phonetic".
	Type string `json:"type"`

	// Original is the text as it appeared in the transcript.
	Original string `json:"original"`

	// Corrected is the canonical replacement.
	Corrected string `json:"corrected"`
}

// Warning is a non-fatal validation finding.
type Warning struct {
	// Type categorizes the finding: "hallucination", "terminology",
	// "context" or "confidence".
	Type string `json:"type"`

	// Message describes the finding for the reviewing clinician.
	Message string `json:"message"`

	// Severity grades the finding.
	Severity lexicon.Severity `json:"severity"`
}

// Result is the outcome of validating one transcript.
type Result struct {
	// OriginalText is the transcript as received from the recognizer.
	OriginalText string `json:"originalText"`

	// CorrectedText is the transcript after phonetic corrections.
	CorrectedText string `json:"correctedText"`

	// Confidence is the recognizer confidence, passed through unchanged.
	Confidence float64 `json:"confidence"`

	// QualityScore is the penalty-adjusted confidence, clamped to [0.1, 1.0].
	QualityScore float64 `json:"qualityScore"`

	// IsValid reports whether the transcript may be used as a final result
	// without human review.
	IsValid bool `json:"isValid"`

	// Corrections lists the applied substitutions, in application order.
	Corrections []Correction `json:"corrections"`

	// Warnings lists all findings, in detection order.
	Warnings []Warning `json:"warnings"`

	// Flags is a deduplicated set of machine-readable markers, e.g.
	// [FlagLowConfidence].
	Flags []string `json:"flags"`
}

// HasFlag reports whether the result carries the named flag.
func (r *Result) HasFlag(name string) bool {
	for _, f := range r.Flags {
		if f == name {
			return true
		}
	}
	return false
}

// addFlag appends name unless already present.
func (r *Result) addFlag(name string) {
	if !r.HasFlag(name) {
		r.Flags = append(r.Flags, name)
	}
}
