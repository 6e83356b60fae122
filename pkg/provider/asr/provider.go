// Package asr defines the provider interface for the external speech
// recognition boundary. The recognition engine itself is not part of this
// service: implementations adapt a remote recognizer (e.g. a whisper-server
// HTTP endpoint) behind a streaming session API, and tests substitute the
// mock subpackage.
//
// A session receives gated speech PCM via SendAudio, is told where utterances
// end via Flush, and delivers recognized text with a confidence score on the
// Results channel.
package asr

import "context"

// StreamConfig describes the audio a recognition session will receive.
type StreamConfig struct {
	// SampleRate is the PCM sample rate in Hz. Typical: 16000.
	SampleRate int

	// Channels is the channel count. Dictation streams are mono.
	Channels int

	// Language is the expected spoken language as a BCP 47 / ISO 639-1 code
	// (e.g. "de"). Empty lets the recognizer detect it.
	Language string
}

// SessionHandle is an active recognition session for a single dictation
// stream. SendAudio and Flush are called from the audio pipeline goroutine;
// Results is consumed elsewhere. Implementations must support that split.
type SessionHandle interface {
	// SendAudio appends gated speech PCM to the current utterance. It must not
	// block on recognition; audio is buffered until Flush.
	SendAudio(pcm []byte) error

	// Flush marks the end of the current utterance and schedules it for
	// recognition. Flushing an empty utterance is a no-op. The resulting
	// Transcript arrives on Results.
	Flush() error

	// Results delivers recognized utterances in submission order. The channel
	// is closed after Close once all pending utterances have been recognized
	// or abandoned.
	Results() <-chan Transcript

	// Close flushes any remaining audio, releases session resources and
	// closes the Results channel. Calling Close more than once is safe.
	Close() error
}

// Provider is the factory for recognition sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call StartStream simultaneously to create independent sessions.
type Provider interface {
	// StartStream opens a recognition session. The context bounds the life of
	// the session; cancelling it abandons pending recognitions.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
