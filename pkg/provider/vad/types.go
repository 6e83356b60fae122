package vad

// VADEvent represents the classification of a single audio frame.
type VADEvent struct {
	// Type is the classification result.
	Type VADEventType

	// Probability is a speech likelihood score in [0.0, 1.0]. Backends without
	// a native probability report 1.0 for speech frames and 0.0 for silence.
	Probability float64
}

// VADEventType enumerates frame classification results.
type VADEventType int

const (
	// VADSilence indicates the frame carries no speech.
	VADSilence VADEventType = iota

	// VADSpeech indicates the frame carries speech.
	VADSpeech
)

// String returns the lowercase name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeech:
		return "speech"
	case VADSilence:
		return "silence"
	default:
		return "unknown"
	}
}
