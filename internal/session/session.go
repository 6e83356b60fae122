// Package session orchestrates the per-dictation pipeline: compressed chunks
// in, validated transcription events out. A [Manager] owns the full session
// lifecycle and wires the stream reconstructor, the voice-activity gate, the
// recognizer and the transcript validator together.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/medscribe/medscribe/pkg/provider/asr"
	"github.com/medscribe/medscribe/pkg/provider/vad"
)

// SessionConfig holds the client-controlled parameters of one session.
type SessionConfig struct {
	// Language is the recognition language code, e.g. "de". Fixed once the
	// recognizer stream is open.
	Language string

	// MedicalContext names the expected specialty, e.g. "mammographie".
	// May be updated mid-session.
	MedicalContext string
}

// Session is the state of one active dictation. All pipeline access goes
// through the Manager; sessions are not used directly.
type Session struct {
	// ID uniquely identifies the session. Generated when the client did not
	// supply one.
	ID string

	gate    *vad.Gate
	vadSess vad.SessionHandle
	asrSess asr.SessionHandle
	emit    EmitFunc

	createdAt time.Time

	lastActivity atomic.Int64 // unix nanos of the last inbound message
	lastFlush    atomic.Int64 // unix nanos of the last utterance flush
	transcripts  atomic.Int64

	mu          sync.Mutex
	cfg         SessionConfig
	wasSpeaking bool
	ended       bool

	// resultsDone closes when the recognizer result pump has drained.
	resultsDone chan struct{}
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Session) medicalContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MedicalContext
}

// updateConfig applies a mid-session config message. The language is bound to
// the open recognizer stream and cannot change.
func (s *Session) updateConfig(cfg SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.MedicalContext != "" {
		s.cfg.MedicalContext = cfg.MedicalContext
	}
	if cfg.Language != "" && cfg.Language != s.cfg.Language {
		slog.Warn("session: language change ignored on open stream",
			"sessionId", s.ID, "current", s.cfg.Language, "requested", cfg.Language)
	}
}

// forward runs reconstructed PCM through the voice gate and ships speech
// spans to the recognizer. On a speaking-to-silence transition the current
// utterance is flushed for recognition.
func (s *Session) forward(pcm []byte, onSegmentStart func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}

	span, speaking := s.gate.Process(pcm)
	switch {
	case speaking:
		if !s.wasSpeaking && onSegmentStart != nil {
			onSegmentStart()
		}
		if len(span) > 0 {
			if err := s.asrSess.SendAudio(span); err != nil {
				slog.Warn("session: send audio", "sessionId", s.ID, "error", err)
			}
		}
	case s.wasSpeaking:
		s.lastFlush.Store(time.Now().UnixNano())
		if err := s.asrSess.Flush(); err != nil {
			slog.Warn("session: flush utterance", "sessionId", s.ID, "error", err)
		}
	}
	s.wasSpeaking = speaking
}

// shutdown forwards the decoder tail, closes the recognizer stream (which
// flushes any pending utterance) and releases the classifier.
func (s *Session) shutdown(tail []byte) {
	s.mu.Lock()
	s.ended = true
	if len(tail) > 0 {
		if span, speaking := s.gate.Process(tail); speaking && len(span) > 0 {
			if err := s.asrSess.SendAudio(span); err != nil {
				slog.Warn("session: send tail audio", "sessionId", s.ID, "error", err)
			}
		}
	}
	if err := s.asrSess.Close(); err != nil {
		slog.Warn("session: close recognizer stream", "sessionId", s.ID, "error", err)
	}
	if err := s.vadSess.Close(); err != nil {
		slog.Warn("session: close voice classifier", "sessionId", s.ID, "error", err)
	}
	s.mu.Unlock()

	// Let the result pump drain so transcription events precede session_ended.
	<-s.resultsDone
}
