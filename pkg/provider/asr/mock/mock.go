// Package mock provides test doubles for the asr package interfaces.
//
// Session replays scripted transcripts: each Flush that follows at least one
// SendAudio emits the next queued Transcript on Results. This mirrors the
// utterance lifecycle of real providers closely enough for pipeline tests.
package mock

import (
	"context"
	"sync"

	"github.com/medscribe/medscribe/pkg/provider/asr"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg asr.StreamConfig
}

// Provider is a mock implementation of asr.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session.
	Session asr.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream in order.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(_ context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)

// Session is a mock implementation of asr.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Scripted transcripts, consumed one per non-empty Flush.
	queue []asr.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// FlushErr, if non-nil, is returned by every Flush call.
	FlushErr error

	// --- Call records ---

	// SentAudio records a copy of every SendAudio payload in order.
	SentAudio [][]byte

	// FlushCount is the number of times Flush was called.
	FlushCount int

	// CloseCount is the number of times Close was called.
	CloseCount int

	pending bool
	results chan asr.Transcript
	closed  bool
}

// NewSession returns an empty scripted session.
func NewSession(script ...asr.Transcript) *Session {
	return &Session{
		queue:   append([]asr.Transcript(nil), script...),
		results: make(chan asr.Transcript, 32),
	}
}

// Queue appends a transcript to the script. Thread-safe.
func (s *Session) Queue(t asr.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, t)
}

// SendAudio records the payload and marks the current utterance non-empty.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	s.SentAudio = append(s.SentAudio, cp)
	if len(pcm) > 0 {
		s.pending = true
	}
	return s.SendAudioErr
}

// Flush emits the next scripted transcript if audio was sent since the last
// Flush, mirroring real providers' empty-utterance no-op.
func (s *Session) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	s.FlushCount++
	if s.pending && len(s.queue) > 0 {
		s.results <- s.queue[0]
		s.queue = s.queue[1:]
	}
	s.pending = false
	return s.FlushErr
}

// Results returns the scripted transcript channel.
func (s *Session) Results() <-chan asr.Transcript {
	return s.results
}

// Close flushes the pending utterance and closes Results. Safe to call twice.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCount++
	if s.closed {
		return nil
	}
	if s.pending && len(s.queue) > 0 {
		s.results <- s.queue[0]
		s.queue = s.queue[1:]
	}
	s.pending = false
	s.closed = true
	close(s.results)
	return nil
}

var _ asr.SessionHandle = (*Session)(nil)

var errClosed = &closedError{}

type closedError struct{}

func (*closedError) Error() string { return "mock asr: session closed" }
