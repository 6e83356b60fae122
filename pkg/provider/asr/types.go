package asr

// Transcript is one recognized utterance.
type Transcript struct {
	// Text is the recognized text, whitespace-trimmed.
	Text string

	// Confidence is the recognizer's score for Text in [0.0, 1.0]. Recognizers
	// that report no score use a fixed implementation-documented default.
	Confidence float64

	// Language is the detected or configured language code, if known.
	Language string

	// IsFinal distinguishes finalized utterances from interim hypotheses.
	// Providers without interim results always set it.
	IsFinal bool

	// AudioMs is the duration of the recognized utterance in milliseconds.
	AudioMs int
}
