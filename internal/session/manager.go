package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/decode"
	"github.com/medscribe/medscribe/internal/observe"
	"github.com/medscribe/medscribe/internal/validate"
	"github.com/medscribe/medscribe/pkg/provider/asr"
	"github.com/medscribe/medscribe/pkg/provider/vad"
)

// Config holds the manager-wide pipeline parameters.
type Config struct {
	// SampleRate is the reconstructed PCM rate in Hz. Defaults to 16000.
	SampleRate int

	// FrameSizeMs is the classifier frame duration. Defaults to 20.
	FrameSizeMs int

	// SpeechFrames and SilenceFrames are the gate hysteresis thresholds.
	// Zero values fall back to the gate defaults.
	SpeechFrames  int
	SilenceFrames int

	// NoiseFloor and ZCRThreshold tune the energy classifier. Zero values
	// fall back to the engine defaults.
	NoiseFloor   float64
	ZCRThreshold float64

	// Aggressiveness tunes the webrtc classifier, range [0, 3].
	Aggressiveness int

	// Language is the default recognition language for sessions that do not
	// configure one. Defaults to "de".
	Language string

	// DefaultContext is the medical context applied to sessions that do not
	// configure one.
	DefaultContext string

	// IdleTimeout reaps sessions with no inbound messages for this long.
	// Defaults to 5 minutes.
	IdleTimeout time.Duration

	// CleanupInterval is the idle-reaper tick. Defaults to 30 seconds.
	CleanupInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSizeMs <= 0 {
		c.FrameSizeMs = 20
	}
	if c.Language == "" {
		c.Language = "de"
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics injects the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// Manager owns all active sessions and drives audio through the pipeline:
// reconstructor, voice gate, recognizer, validator. Safe for concurrent use.
type Manager struct {
	cfg       Config
	rec       *decode.Reconstructor
	vadEngine vad.Engine
	provider  asr.Provider
	validator *validate.Validator
	metrics   *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires the pipeline stages together. Call [Manager.Start] to run
// the idle reaper and [Manager.Close] on shutdown.
func NewManager(cfg Config, rec *decode.Reconstructor, vadEngine vad.Engine, provider asr.Provider, validator *validate.Validator, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:       cfg,
		rec:       rec,
		vadEngine: vadEngine,
		provider:  provider,
		validator: validator,
		sessions:  make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the idle-session reaper.
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.reapLoop(ctx)
}

// Close ends all sessions and stops the reaper. The manager must not be used
// afterwards.
func (m *Manager) Close(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.EndAll(ctx)
	m.wg.Wait()
}

// StartSession creates the session if needed and applies cfg. It returns the
// session id, generated when id is empty. On an existing session only the
// medical context is updated; the language is fixed at stream creation.
func (m *Manager) StartSession(ctx context.Context, id string, cfg SessionConfig, emit EmitFunc) (string, error) {
	s, created, err := m.getOrCreate(ctx, id, cfg, emit)
	if err != nil {
		return "", err
	}
	if !created {
		s.updateConfig(cfg)
	}
	s.touch()
	return s.ID, nil
}

// HandleAudio routes one compressed chunk into the session's pipeline,
// creating the session on first contact. It returns the session id.
//
// Chunks for a session whose decoder has failed are dropped silently; the
// error was already reported when the decoder died.
func (m *Manager) HandleAudio(ctx context.Context, id string, chunk []byte, emit EmitFunc) (string, error) {
	s, _, err := m.getOrCreate(ctx, id, SessionConfig{}, emit)
	if err != nil {
		return "", err
	}
	s.touch()
	if m.metrics != nil {
		m.metrics.ChunksReceived.Add(ctx, 1)
	}

	m.rec.AddData(s.ID, chunk)
	if pcm := m.rec.GetPCMData(s.ID); len(pcm) > 0 {
		s.forward(pcm, func() {
			if m.metrics != nil {
				m.metrics.SpeechSegments.Add(ctx, 1)
			}
		})
	}
	return s.ID, nil
}

// EndSession flushes the session's decoder tail through the pipeline, closes
// the recognizer stream and emits the session_ended event. Idempotent:
// ending an unknown session is a no-op.
func (m *Manager) EndSession(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.end(ctx, s)
}

// EndAll ends every active session, e.g. on server shutdown.
func (m *Manager) EndAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, s := range all {
		m.end(ctx, s)
	}
}

// ActiveSessions returns the number of currently tracked sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) getOrCreate(ctx context.Context, id string, cfg SessionConfig, emit EmitFunc) (*Session, bool, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, false, nil
	}

	if cfg.Language == "" {
		cfg.Language = m.cfg.Language
	}
	if cfg.MedicalContext == "" {
		cfg.MedicalContext = m.cfg.DefaultContext
	}

	vadSess, err := m.vadEngine.NewSession(vad.Config{
		SampleRate:     m.cfg.SampleRate,
		FrameSizeMs:    m.cfg.FrameSizeMs,
		NoiseFloor:     m.cfg.NoiseFloor,
		ZCRThreshold:   m.cfg.ZCRThreshold,
		Aggressiveness: m.cfg.Aggressiveness,
	})
	if err != nil {
		return nil, false, fmt.Errorf("session: create voice classifier: %w", err)
	}

	asrSess, err := m.provider.StartStream(ctx, asr.StreamConfig{
		SampleRate: m.cfg.SampleRate,
		Channels:   1,
		Language:   cfg.Language,
	})
	if err != nil {
		_ = vadSess.Close()
		return nil, false, fmt.Errorf("session: open recognizer stream: %w", err)
	}

	s := &Session{
		ID:      id,
		cfg:     cfg,
		vadSess: vadSess,
		asrSess: asrSess,
		gate: vad.NewGate(vadSess, vad.GateConfig{
			SampleRate:    m.cfg.SampleRate,
			FrameSizeMs:   m.cfg.FrameSizeMs,
			SpeechFrames:  m.cfg.SpeechFrames,
			SilenceFrames: m.cfg.SilenceFrames,
		}),
		emit:        emit,
		createdAt:   time.Now(),
		resultsDone: make(chan struct{}),
	}
	s.touch()
	m.rec.InitSession(id)
	m.sessions[id] = s

	m.wg.Add(1)
	go m.pumpResults(s)

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session: started", "sessionId", id, "language", cfg.Language, "context", cfg.MedicalContext)
	return s, true, nil
}

// pumpResults validates every recognizer transcript and emits it as a
// transcription event. It exits when the recognizer stream closes.
func (m *Manager) pumpResults(s *Session) {
	defer m.wg.Done()
	defer close(s.resultsDone)

	ctx := context.Background()
	for t := range s.asrSess.Results() {
		if m.metrics != nil {
			if flushed := s.lastFlush.Load(); flushed > 0 {
				m.metrics.ASRDuration.Record(ctx, time.Since(time.Unix(0, flushed)).Seconds())
			}
		}

		var res *validate.Result
		if t.IsFinal {
			res = m.validator.Validate(ctx, t.Text, t.Confidence, s.medicalContext())
			s.transcripts.Add(1)
		} else {
			res = m.validator.ValidateStreaming(ctx, t.Text, t.Confidence)
		}

		s.emit(TranscriptionEvent(s.ID, t, res))
		slog.Debug("session: transcription",
			"sessionId", s.ID, "final", t.IsFinal, "quality", res.QualityScore, "valid", res.IsValid)
	}
}

func (m *Manager) end(ctx context.Context, s *Session) {
	tail := m.rec.EndSession(s.ID)
	s.shutdown(tail)

	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	s.emit(Event{
		Type:           EventSessionEnded,
		SessionID:      s.ID,
		Transcriptions: int(s.transcripts.Load()),
		DurationMs:     time.Since(s.createdAt).Milliseconds(),
	})
	slog.Info("session: ended",
		"sessionId", s.ID,
		"transcriptions", s.transcripts.Load(),
		"durationMs", time.Since(s.createdAt).Milliseconds())
}

// reapLoop periodically ends sessions that have been idle past the timeout.
func (m *Manager) reapLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout).UnixNano()

	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if s.lastActivity.Load() < cutoff {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		slog.Info("session: reaping idle session", "sessionId", s.ID)
		m.end(context.Background(), s)
	}
}
