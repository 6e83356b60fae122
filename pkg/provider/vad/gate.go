package vad

// GateConfig holds the segment-level parameters for a [Gate].
type GateConfig struct {
	// SampleRate is the PCM sample rate in Hz. Must match the rate the wrapped
	// session was created with.
	SampleRate int

	// FrameSizeMs is the classifier frame duration in milliseconds. Incoming
	// PCM buffers are re-cut into frames of exactly this length; a trailing
	// sub-frame remainder is carried over to the next Process call.
	FrameSizeMs int

	// SpeechFrames is the number of consecutive speech-classified frames
	// required to enter the speaking state. Defaults to 2.
	SpeechFrames int

	// SilenceFrames is the number of consecutive silence-classified frames
	// required to leave the speaking state. Defaults to 40 (800 ms at 20 ms
	// frames), long enough to bridge natural dictation pauses.
	SilenceFrames int
}

// DefaultGateConfig returns the gate parameters used for dictation streams:
// 16 kHz, 20 ms frames, 2 frames to open, 40 frames to close.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		SampleRate:    16000,
		FrameSizeMs:   20,
		SpeechFrames:  2,
		SilenceFrames: 40,
	}
}

// Gate applies enter/leave hysteresis on top of a frame-level [SessionHandle].
// It owns the per-stream segmentation state: fixed-size re-framing with
// sub-frame leftover carry, consecutive speech/silence run counters, and the
// current speaking flag.
//
// A Gate is bound to a single audio stream and is not safe for concurrent use.
type Gate struct {
	sess SessionHandle
	cfg  GateConfig

	frameBytes int
	leftover   []byte

	speechRun  int
	silenceRun int
	speaking   bool
}

// NewGate wraps sess with hysteresis using cfg. Zero thresholds and sizes fall
// back to [DefaultGateConfig] values.
func NewGate(sess SessionHandle, cfg GateConfig) *Gate {
	def := DefaultGateConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSizeMs <= 0 {
		cfg.FrameSizeMs = def.FrameSizeMs
	}
	if cfg.SpeechFrames <= 0 {
		cfg.SpeechFrames = def.SpeechFrames
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = def.SilenceFrames
	}
	return &Gate{
		sess:       sess,
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}
}

// Process feeds a PCM buffer of arbitrary length through the gate. The buffer
// is cut into classifier frames; any trailing remainder shorter than one frame
// is buffered and prepended to the next call.
//
// It returns the unmodified input buffer and true when the gate is in the
// speaking state after the final complete frame of this call, or nil and false
// otherwise. Gating is span-level: a buffer is forwarded or withheld as a
// whole, never sliced mid-span.
func (g *Gate) Process(pcm []byte) ([]byte, bool) {
	buf := pcm
	if len(g.leftover) > 0 {
		buf = append(g.leftover, pcm...)
		g.leftover = nil
	}

	for len(buf) >= g.frameBytes {
		g.observe(buf[:g.frameBytes])
		buf = buf[g.frameBytes:]
	}
	if len(buf) > 0 {
		g.leftover = append([]byte(nil), buf...)
	}

	if g.speaking {
		return pcm, true
	}
	return nil, false
}

// observe updates the hysteresis state with one frame classification.
// Classifier errors leave the run counters untouched so a transient failure
// cannot open or close the gate.
func (g *Gate) observe(frame []byte) {
	ev, err := g.sess.ProcessFrame(frame)
	if err != nil {
		return
	}
	if ev.Type == VADSpeech {
		g.speechRun++
		g.silenceRun = 0
		if !g.speaking && g.speechRun >= g.cfg.SpeechFrames {
			g.speaking = true
		}
		return
	}
	g.silenceRun++
	g.speechRun = 0
	if g.speaking && g.silenceRun >= g.cfg.SilenceFrames {
		g.speaking = false
	}
}

// Speaking reports whether the gate is currently in the speaking state.
func (g *Gate) Speaking() bool {
	return g.speaking
}

// Reset clears the gate's segmentation state and resets the wrapped session.
// The gate returns to the not-speaking state with no buffered remainder.
func (g *Gate) Reset() {
	g.leftover = nil
	g.speechRun = 0
	g.silenceRun = 0
	g.speaking = false
	g.sess.Reset()
}

// FrameBytes returns the size in bytes of one classifier frame.
func (g *Gate) FrameBytes() int {
	return g.frameBytes
}
