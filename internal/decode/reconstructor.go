package decode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medscribe/medscribe/internal/observe"
)

const (
	// DefaultFlushGrace bounds how long EndSession waits for a decoder to
	// flush before killing it.
	DefaultFlushGrace = 2 * time.Second

	// maxPreHeaderBytes bounds how much data is buffered while waiting for a
	// container header. A stream that produced this much without a header is
	// not a container stream and errors out.
	maxPreHeaderBytes = 64 * 1024
)

// Config holds the reconstruction parameters shared by all sessions.
type Config struct {
	// FFmpegPath is the ffmpeg binary to spawn. Empty means "ffmpeg" on PATH.
	FFmpegPath string

	// SampleRate is the target PCM rate in Hz. Defaults to 16000.
	SampleRate int

	// OpusPackets switches from container decoding to the in-process bare
	// Opus packet decoder: one packet per chunk, no header detection.
	OpusPackets bool

	// FlushGrace bounds the decoder flush on EndSession. Defaults to
	// [DefaultFlushGrace].
	FlushGrace time.Duration
}

// DecoderFactory creates one decoder per session.
type DecoderFactory func() (Decoder, error)

// Reconstructor rebuilds PCM streams for many concurrent sessions. Each
// session owns one decoder; sessions never share decode state, so one
// caller's chunks can never surface in another caller's PCM.
type Reconstructor struct {
	cfg        Config
	newDecoder DecoderFactory
	metrics    *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState is the per-session decode state. Guarded by its own mutex so
// one session's blocking decoder write cannot stall the others.
type sessionState struct {
	mu sync.Mutex

	dec Decoder

	// header buffers pre-header bytes until a container magic appears.
	header     []byte
	headerSeen bool

	// errored marks the session dead: chunks are dropped silently.
	errored bool
}

// Option configures a [Reconstructor].
type Option func(*Reconstructor)

// WithDecoderFactory overrides how per-session decoders are created. Tests
// use this to substitute in-memory decoders.
func WithDecoderFactory(f DecoderFactory) Option {
	return func(r *Reconstructor) { r.newDecoder = f }
}

// WithMetrics injects the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Reconstructor) { r.metrics = m }
}

// New creates a Reconstructor. Without [WithDecoderFactory], sessions decode
// via ffmpeg, or via the in-process Opus decoder when cfg.OpusPackets is set.
func New(cfg Config, opts ...Option) *Reconstructor {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FlushGrace == 0 {
		cfg.FlushGrace = DefaultFlushGrace
	}
	r := &Reconstructor{
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
	}
	r.newDecoder = func() (Decoder, error) {
		if cfg.OpusPackets {
			return newOpusDecoder(cfg.SampleRate)
		}
		return newFFmpegDecoder(cfg.FFmpegPath, cfg.SampleRate, cfg.FlushGrace)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitSession ensures decode state exists for id. Idempotent; AddData also
// initializes implicitly.
func (r *Reconstructor) InitSession(id string) {
	r.state(id)
}

func (r *Reconstructor) state(id string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[id]
	if !ok {
		st = &sessionState{}
		r.sessions[id] = st
	}
	return st
}

// AddData applies the next chunk of a session's compressed stream. Chunks
// must arrive in capture order. Decode failures mark the session errored and
// are swallowed: the session silently stops yielding PCM.
func (r *Reconstructor) AddData(id string, chunk []byte) {
	st := r.state(id)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.errored || len(chunk) == 0 {
		return
	}

	if !st.headerSeen {
		if r.cfg.OpusPackets {
			// Bare packets carry no container header; decode from the first
			// chunk on.
			if !r.spawn(id, st) {
				return
			}
			st.headerSeen = true
		} else {
			st.header = append(st.header, chunk...)
			start, ok := sniffContainer(st.header)
			if !ok {
				if len(st.header) > maxPreHeaderBytes {
					r.fail(id, st, "no container header found")
				}
				return
			}
			if !r.spawn(id, st) {
				return
			}
			st.headerSeen = true
			chunk = st.header[start:]
			st.header = nil
		}
	}

	if err := st.dec.Feed(chunk); err != nil {
		r.fail(id, st, err.Error())
	}
}

// spawn creates the session decoder. Reports success; on failure the session
// is marked errored.
func (r *Reconstructor) spawn(id string, st *sessionState) bool {
	dec, err := r.newDecoder()
	if err != nil {
		r.fail(id, st, err.Error())
		return false
	}
	st.dec = dec
	return true
}

// fail marks the session errored. Called with st.mu held.
func (r *Reconstructor) fail(id string, st *sessionState, reason string) {
	st.errored = true
	st.header = nil
	if st.dec != nil {
		_ = st.dec.Close()
	}
	slog.Warn("decode: session errored, dropping further audio", "sessionId", id, "reason", reason)
	if r.metrics != nil {
		r.metrics.RecordDecodeError(context.Background(), "decoder_failure")
	}
}

// GetPCMData returns all PCM decoded for id since the last call, or nil if
// the session is unknown, errored, or has produced nothing new.
func (r *Reconstructor) GetPCMData(id string) []byte {
	r.mu.Lock()
	st, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.dec == nil {
		return nil
	}
	pcm := st.dec.Drain()
	if len(pcm) > 0 && r.metrics != nil {
		r.metrics.PCMBytesDecoded.Add(context.Background(), int64(len(pcm)))
	}
	return pcm
}

// EndSession closes the session's decoder, allowing it the flush grace, and
// returns any PCM that surfaced during the flush. Unknown ids and repeated
// calls return nil. The session's state is released either way.
func (r *Reconstructor) EndSession(id string) []byte {
	r.mu.Lock()
	st, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.dec == nil {
		return nil
	}
	_ = st.dec.Close()
	pcm := st.dec.Drain()
	if len(pcm) > 0 && r.metrics != nil {
		r.metrics.PCMBytesDecoded.Add(context.Background(), int64(len(pcm)))
	}
	return pcm
}

// ActiveSessions returns the number of sessions currently holding decode
// state.
func (r *Reconstructor) ActiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
