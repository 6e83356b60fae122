// Package server exposes the dictation pipeline over WebSocket and serves
// the operational HTTP endpoints.
//
// Clients connect to /ws and exchange JSON text messages: audio chunks and
// config updates inbound, transcription and error events outbound. Sessions
// opened over a connection are ended when that connection goes away.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/medscribe/medscribe/internal/health"
	"github.com/medscribe/medscribe/internal/observe"
	"github.com/medscribe/medscribe/internal/session"
)

// outboundBuffer is the per-connection event queue depth. Events beyond it
// are dropped rather than stalling the pipeline on a slow client.
const outboundBuffer = 64

// Option configures a [Server].
type Option func(*Server)

// WithMetrics injects the metrics sink and enables the HTTP middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithOriginPatterns restricts WebSocket upgrades to the given host patterns.
// The default accepts any origin.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithReadinessChecks registers dependency probes served on /readyz.
func WithReadinessChecks(checks ...health.Checker) Option {
	return func(s *Server) { s.checks = checks }
}

// Server routes WebSocket connections into the session manager.
type Server struct {
	manager *session.Manager
	metrics *observe.Metrics
	origins []string
	checks  []health.Checker
}

// New creates a Server on top of mgr.
func New(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		manager: mgr,
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routing for the service: /ws for the dictation
// stream, /healthz for liveness, /metrics for Prometheus scrapes.
func (s *Server) Handler() http.Handler {
	wrap := func(h http.Handler) http.Handler { return h }
	if s.metrics != nil {
		wrap = observe.Middleware(s.metrics)
	}

	hh := health.New(s.manager.ActiveSessions, s.checks...)

	mux := http.NewServeMux()
	// The WebSocket endpoint stays outside the middleware: the upgrade needs
	// the raw ResponseWriter for hijacking, and a connection-long duration
	// sample would only distort the histogram.
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/healthz", wrap(http.HandlerFunc(hh.Healthz)))
	mux.Handle("/readyz", wrap(http.HandlerFunc(hh.Readyz)))
	mux.Handle("/metrics", wrap(promhttp.Handler()))
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		slog.Warn("server: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer ws.Close(websocket.StatusInternalError, "connection torn down")

	c := &conn{
		srv:    s,
		ws:     ws,
		events: make(chan session.Event, outboundBuffer),
		owned:  make(map[string]struct{}),
	}
	slog.Info("server: client connected", "remote", r.RemoteAddr)
	c.run(r.Context())
	slog.Info("server: client disconnected", "remote", r.RemoteAddr)
}

// conn is the state of one WebSocket connection: its outbound event queue
// and the sessions it opened.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	events chan session.Event

	mu    sync.Mutex
	owned map[string]struct{}
}

// emit queues an event for the writer. It never blocks: when the client
// cannot keep up the event is dropped and logged.
func (c *conn) emit(ev session.Event) {
	select {
	case c.events <- ev:
	default:
		slog.Warn("server: dropping event for slow client", "sessionId", ev.SessionID, "type", ev.Type)
	}
}

func (c *conn) own(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned[id] = struct{}{}
}

func (c *conn) disown(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owned, id)
}

// run drives the connection until either pump fails, then ends every session
// the connection still owns.
func (c *conn) run(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(ctx) })
	g.Go(func() error { return c.writeLoop(ctx) })
	if err := g.Wait(); err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		slog.Warn("server: connection error", "error", err)
	}

	c.mu.Lock()
	ids := make([]string, 0, len(c.owned))
	for id := range c.owned {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.srv.manager.EndSession(context.Background(), id)
	}
}

func (c *conn) readLoop(ctx context.Context) error {
	for {
		typ, raw, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			c.emit(session.ErrorEvent("", "type", "binary messages are not supported"))
			continue
		}

		msg, perr := parseMessage(raw)
		if perr != nil {
			c.emit(session.ErrorEvent("", perr.Field, perr.Message))
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *conn) dispatch(ctx context.Context, msg *inboundMessage) {
	switch msg.Type {
	case msgAudio:
		id, err := c.srv.manager.HandleAudio(ctx, msg.SessionID, msg.chunk, c.emit)
		if err != nil {
			slog.Warn("server: audio rejected", "sessionId", msg.SessionID, "error", err)
			c.emit(session.ErrorEvent(msg.SessionID, "", "failed to process audio"))
			return
		}
		c.own(id)
	case msgConfig:
		id, err := c.srv.manager.StartSession(ctx, msg.SessionID, session.SessionConfig{
			Language:       msg.Config.Language,
			MedicalContext: msg.Config.MedicalContext,
		}, c.emit)
		if err != nil {
			slog.Warn("server: config rejected", "sessionId", msg.SessionID, "error", err)
			c.emit(session.ErrorEvent(msg.SessionID, "", "failed to configure session"))
			return
		}
		c.own(id)
	case msgEndSession:
		c.srv.manager.EndSession(ctx, msg.SessionID)
		c.disown(msg.SessionID)
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			buf, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("server: encode event: %w", err)
			}
			if err := c.ws.Write(ctx, websocket.MessageText, buf); err != nil {
				return err
			}
		}
	}
}
