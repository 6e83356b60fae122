// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a frame-level speech classifier (the adaptive energy/ZCR
// detector in [github.com/medscribe/medscribe/pkg/provider/vad/energy], or the
// WebRTC detector in [github.com/medscribe/medscribe/pkg/provider/vad/webrtc])
// and surfaces it as a stateful, per-stream session. Each session maintains its
// own internal state (energy history, noise floor) so that multiple concurrent
// dictation streams can be processed independently.
//
// Backends classify individual frames only. Segment-level behavior — re-framing
// arbitrary PCM buffers into fixed frames and applying enter/leave hysteresis —
// lives in [Gate], which works against any SessionHandle.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// classification, making it suitable for low-latency pipeline stages that gate
// recognizer input.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Zero values select each
// backend's defaults; see the backend documentation for recommended starting
// values.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame. Common values: 8000, 16000, 48000.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame will return an error if the supplied frame does not match
	// this size. Typical: 20.
	FrameSizeMs int

	// NoiseFloor is the minimum RMS energy (on samples normalized to [-1, 1])
	// below which a frame is never classified as speech, regardless of the
	// adaptive threshold. Used by the energy backend. Typical: 0.01.
	NoiseFloor float64

	// ZCRThreshold is the zero-crossing-rate fraction above which a
	// medium-energy frame still counts as speech; fricatives and sibilants
	// carry little energy but cross zero often. Used by the energy backend.
	// Typical: 0.3.
	ZCRThreshold float64

	// Aggressiveness selects the WebRTC VAD operating mode, 0 (least
	// aggressive about classifying silence) through 3 (most aggressive).
	// Used by the webrtc backend only.
	Aggressiveness int
}

// SessionHandle represents an active VAD session for a single audio stream. It
// is an interface so that test code can supply mock implementations without a
// live classifier. Each session maintains its own detection state; Reset clears
// this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessFrame classifies a single audio frame as speech or silence. The
	// frame must be raw little-endian s16le mono PCM at the SampleRate and
	// FrameSizeMs configured when the session was created. Returns an error if
	// the frame size is wrong or if the classifier encounters an internal
	// failure.
	//
	// This method is designed to be called synchronously in the audio pipeline
	// loop; it must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state (energy history, adaptive
	// threshold) without closing the session. Use this when the audio stream is
	// interrupted or restarted to avoid stale state from the previous segment
	// affecting subsequent frames.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame must return an error and Reset must be a no-op. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may call
// NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration. The
	// session is immediately ready to accept audio frames.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate or frame size) or if the engine cannot allocate resources
	// for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
