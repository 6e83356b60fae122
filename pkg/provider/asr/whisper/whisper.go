// Package whisper implements [asr.Provider] against a whisper-server HTTP
// endpoint (the `server` example that ships with whisper.cpp, or any service
// exposing the same /inference contract).
//
// Utterances are buffered in memory, WAV-wrapped and posted as multipart form
// data when the pipeline flushes them. Recognition runs on a per-session
// goroutine so SendAudio and Flush never block on network I/O.
package whisper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/medscribe/medscribe/internal/resilience"
	"github.com/medscribe/medscribe/pkg/audio"
	"github.com/medscribe/medscribe/pkg/provider/asr"
)

const (
	defaultTemperature = 0.0

	// defaultConfidence is reported when the server response carries no
	// confidence field; whisper-server omits one.
	defaultConfidence = 0.95

	// defaultMaxUtteranceMs force-flushes an utterance that never sees a
	// Flush, bounding per-session memory.
	defaultMaxUtteranceMs = 30_000
)

// Provider creates recognition sessions against one whisper-server instance.
// All sessions share one circuit breaker: when the server fails repeatedly,
// inference requests are rejected outright until it recovers, instead of
// stacking 30 s timeouts per utterance.
type Provider struct {
	baseURL        string
	client         *http.Client
	temperature    float64
	confidence     float64
	maxUtteranceMs int
	breaker        *resilience.CircuitBreaker
}

// Option configures a [Provider].
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the sampling temperature sent to the server.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithDefaultConfidence sets the confidence reported for responses that carry
// no confidence field of their own.
func WithDefaultConfidence(c float64) Option {
	return func(p *Provider) { p.confidence = c }
}

// WithMaxUtteranceMs caps how much audio accumulates before a forced flush.
func WithMaxUtteranceMs(ms int) Option {
	return func(p *Provider) { p.maxUtteranceMs = ms }
}

// New returns a Provider talking to the whisper-server at baseURL,
// e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Provider {
	p := &Provider{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{Timeout: 30 * time.Second},
		temperature:    defaultTemperature,
		confidence:     defaultConfidence,
		maxUtteranceMs: defaultMaxUtteranceMs,
		breaker:        resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "whisper"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// StartStream opens a recognition session.
func (p *Provider) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	if p.baseURL == "" {
		return nil, fmt.Errorf("whisper: empty base URL")
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &session{
		provider: p,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		cmds:     make(chan command, 64),
		results:  make(chan asr.Transcript, 16),
		done:     make(chan struct{}),
	}
	go s.processLoop()
	return s, nil
}

// Ping probes the server's /health endpoint. Used by the readiness check.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("whisper: build health request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: health check returned %s", resp.Status)
	}
	return nil
}

var _ asr.Provider = (*Provider)(nil)

type command struct {
	pcm   []byte
	flush bool
}

type session struct {
	provider *Provider
	cfg      asr.StreamConfig
	ctx      context.Context
	cancel   context.CancelFunc

	cmds    chan command
	results chan asr.Transcript
	done    chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func (s *session) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	return s.submit(command{pcm: cp})
}

func (s *session) Flush() error {
	return s.submit(command{flush: true})
}

func (s *session) submit(cmd command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("whisper: session closed")
	}
	select {
	case s.cmds <- cmd:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("whisper: session context: %w", s.ctx.Err())
	}
}

func (s *session) Results() <-chan asr.Transcript {
	return s.results
}

// Close flushes the pending utterance, waits for in-flight recognitions and
// closes the Results channel.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.cmds)
		<-s.done
		s.cancel()
	})
	return nil
}

var _ asr.SessionHandle = (*session)(nil)

// processLoop owns the utterance buffer. It is the only goroutine touching it.
func (s *session) processLoop() {
	defer close(s.done)
	defer close(s.results)

	var buf []byte
	maxBytes := s.cfg.SampleRate * s.cfg.Channels * 2 * s.provider.maxUtteranceMs / 1000

	for {
		select {
		case <-s.ctx.Done():
			return
		case cmd, ok := <-s.cmds:
			if !ok {
				s.infer(buf)
				return
			}
			if cmd.flush {
				s.infer(buf)
				buf = nil
				continue
			}
			buf = append(buf, cmd.pcm...)
			if len(buf) >= maxBytes {
				s.infer(buf)
				buf = nil
			}
		}
	}
}

// infer posts one utterance to the server and forwards the transcript.
// Recognition failures are logged and dropped; they must not tear down the
// session.
func (s *session) infer(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	var (
		text       string
		confidence float64
		language   string
	)
	err := s.provider.breaker.Execute(func() error {
		var err error
		text, confidence, language, err = s.provider.transcribe(s.ctx, pcm, s.cfg)
		return err
	})
	if err != nil {
		slog.Warn("whisper: inference failed", "error", err, "audioBytes", len(pcm))
		return
	}
	if text == "" {
		return
	}
	t := asr.Transcript{
		Text:       text,
		Confidence: confidence,
		Language:   language,
		IsFinal:    true,
		AudioMs:    audio.DurationMs(pcm, s.cfg.SampleRate*s.cfg.Channels),
	}
	select {
	case s.results <- t:
	case <-s.ctx.Done():
	}
}

// inferenceResponse is the whisper-server /inference reply. The confidence
// and language fields are extensions some deployments add; both are optional.
type inferenceResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Language   string   `json:"language,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (p *Provider) transcribe(ctx context.Context, pcm []byte, cfg asr.StreamConfig) (text string, confidence float64, language string, err error) {
	var body strings.Builder
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", 0, "", fmt.Errorf("whisper: build request: %w", err)
	}
	if _, err := part.Write(audio.EncodeWAV(pcm, cfg.SampleRate, cfg.Channels)); err != nil {
		return "", 0, "", fmt.Errorf("whisper: build request: %w", err)
	}
	_ = w.WriteField("response_format", "json")
	_ = w.WriteField("temperature", strconv.FormatFloat(p.temperature, 'f', -1, 64))
	if cfg.Language != "" {
		_ = w.WriteField("language", cfg.Language)
	}
	if err := w.Close(); err != nil {
		return "", 0, "", fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/inference", strings.NewReader(body.String()))
	if err != nil {
		return "", 0, "", fmt.Errorf("whisper: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", 0, "", fmt.Errorf("whisper: post inference: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, "", fmt.Errorf("whisper: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, "", fmt.Errorf("whisper: server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", 0, "", fmt.Errorf("whisper: decode response: %w", err)
	}
	if parsed.Error != "" {
		return "", 0, "", fmt.Errorf("whisper: server error: %s", parsed.Error)
	}

	confidence = p.confidence
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	language = parsed.Language
	if language == "" {
		language = cfg.Language
	}
	return strings.TrimSpace(parsed.Text), confidence, language, nil
}
