package lexicon_test

import (
	"testing"

	"github.com/medscribe/medscribe/internal/lexicon"
)

func loadTestdata(t *testing.T) *lexicon.Lexicon {
	t.Helper()
	lex, err := lexicon.Load("testdata/lexicon.json")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return lex
}

func TestLoadFlattensTaxonomy(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)

	for _, term := range []string{"mammographie", "sonographie", "lymphknoten", "unauffällig", "mikrokalk"} {
		if !lex.HasTerm(term) {
			t.Errorf("HasTerm(%q) = false", term)
		}
	}
	// Branch keys are categories, not terms.
	if lex.HasTerm("radiologie") || lex.HasTerm("untersuchungen") {
		t.Error("taxonomy category keys leaked into the term set")
	}
	if lex.HasTerm("blutdruck") {
		t.Error("HasTerm matched an absent term")
	}
}

func TestHasTermIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)
	if !lex.HasTerm("MAMMOGRAPHIE") || !lex.HasTerm("Axilla") {
		t.Error("term lookup must ignore case")
	}
}

func TestCanonicalCorrectionTargetsAreKnownTerms(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)
	if !lex.HasTerm("karpaltunnelsyndrom") {
		t.Error("canonical correction target missing from term set")
	}
}

func TestCorrectionPairsDeterministicOrder(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)

	collect := func() []string {
		var pairs []string
		lex.CorrectionPairs(func(canonical, variant string) bool {
			pairs = append(pairs, canonical+"|"+variant)
			return true
		})
		return pairs
	}

	first := collect()
	if len(first) != lex.NumCorrectionVariants() {
		t.Fatalf("iterated %d pairs, want %d", len(first), lex.NumCorrectionVariants())
	}
	second := collect()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("iteration order not deterministic at %d: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestPatternExceptionsSuppressMatch(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)
	patterns := lex.Patterns()
	if len(patterns) != 2 {
		t.Fatalf("got %d patterns, want 2", len(patterns))
	}

	subtitle := patterns[1]
	if !subtitle.Matches("Untertitel von Amara.org") {
		t.Error("pattern did not match subtitle credit")
	}
	if subtitle.Matches("siehe Untertitel der Abbildung") {
		t.Error("exception did not suppress the match")
	}
}

func TestThresholds(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)
	thr := lex.Thresholds()
	if thr.MinimumForFinal != 0.6 || thr.FlagForReviewBelow != 0.75 {
		t.Errorf("thresholds = %+v", thr)
	}
}

func TestContextTerms(t *testing.T) {
	t.Parallel()

	lex := loadTestdata(t)
	if terms := lex.ContextTerms("Mammographie"); len(terms) != 4 {
		t.Errorf("ContextTerms = %v", terms)
	}
	if terms := lex.ContextTerms("nephrologie"); terms != nil {
		t.Errorf("unknown context returned %v", terms)
	}
}

func TestParseInvalidPatternIsSkipped(t *testing.T) {
	t.Parallel()

	lex, err := lexicon.Parse([]byte(`{
		"hallucination_patterns": [
			{"pattern": "([unclosed", "severity": "high"},
			{"pattern": "valid", "severity": "low"}
		]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(lex.Patterns()) != 1 {
		t.Errorf("got %d patterns, want 1 (invalid skipped)", len(lex.Patterns()))
	}
	if lex.Patterns()[0].Severity != lexicon.SeverityLow {
		t.Errorf("severity = %q", lex.Patterns()[0].Severity)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	t.Parallel()

	if _, err := lexicon.Parse([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadOrEmptyDegrades(t *testing.T) {
	t.Parallel()

	lex := lexicon.LoadOrEmpty("testdata/does-not-exist.json")
	if lex.NumTerms() != 0 {
		t.Error("missing file must degrade to an empty lexicon")
	}
	if thr := lex.Thresholds(); thr != lexicon.DefaultThresholds() {
		t.Errorf("empty lexicon thresholds = %+v", thr)
	}

	if lex := lexicon.LoadOrEmpty(""); lex.NumTerms() != 0 {
		t.Error("empty path must degrade to an empty lexicon")
	}
}
