package server_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/medscribe/medscribe/internal/decode"
	"github.com/medscribe/medscribe/internal/health"
	"github.com/medscribe/medscribe/internal/lexicon"
	"github.com/medscribe/medscribe/internal/server"
	"github.com/medscribe/medscribe/internal/session"
	"github.com/medscribe/medscribe/internal/validate"
	"github.com/medscribe/medscribe/pkg/provider/asr"
	asrmock "github.com/medscribe/medscribe/pkg/provider/asr/mock"
	"github.com/medscribe/medscribe/pkg/provider/vad"
	vadmock "github.com/medscribe/medscribe/pkg/provider/vad/mock"
)

const frameBytes = 640

// identityDecoder passes chunks through unchanged so tests control the PCM
// that reaches the voice gate.
type identityDecoder struct{ buf []byte }

func (d *identityDecoder) Feed(chunk []byte) error {
	d.buf = append(d.buf, chunk...)
	return nil
}

func (d *identityDecoder) Drain() []byte {
	out := d.buf
	d.buf = nil
	return out
}

func (d *identityDecoder) Close() error { return nil }

func newManager(t *testing.T, vadSess *vadmock.Session, provider *asrmock.Provider) *session.Manager {
	t.Helper()
	rec := decode.New(decode.Config{OpusPackets: true}, decode.WithDecoderFactory(func() (decode.Decoder, error) {
		return &identityDecoder{}, nil
	}))
	mgr := session.NewManager(
		session.Config{},
		rec,
		&vadmock.Engine{Session: vadSess},
		provider,
		validate.New(lexicon.Empty()),
	)
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}

func newTestServer(t *testing.T, mgr *session.Manager) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(server.New(mgr).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) session.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, raw, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev session.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode event %q: %v", raw, err)
	}
	return ev
}

func audioMsg(sessionID string, nFrames int) string {
	data := base64.StdEncoding.EncodeToString(make([]byte, nFrames*frameBytes))
	return `{"type":"audio","sessionId":"` + sessionID + `","data":"` + data + `"}`
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, newManager(t, &vadmock.Session{}, &asrmock.Provider{}))

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("body = %s", body)
	}
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, &vadmock.Session{}, &asrmock.Provider{})
	srv := server.New(mgr, server.WithReadinessChecks(health.Checker{
		Name:  "recognizer",
		Check: func(context.Context) error { return errors.New("connection refused") },
	}))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "connection refused") {
		t.Errorf("body = %s", body)
	}
}

func TestMetricsServed(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t, newManager(t, &vadmock.Session{}, &asrmock.Provider{}))

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDictationRoundTrip(t *testing.T) {
	t.Parallel()

	vadSess := &vadmock.Session{
		EventQueue: []vad.VADEvent{
			{Type: vad.VADSpeech, Probability: 0.9},
			{Type: vad.VADSpeech, Probability: 0.9},
		},
	}
	provider := &asrmock.Provider{Session: asrmock.NewSession(asr.Transcript{
		Text:       "Mammographie beidseits unauffällig",
		Confidence: 0.9,
		Language:   "de",
		IsFinal:    true,
	})}
	mgr := newManager(t, vadSess, provider)
	ws := dial(t, newTestServer(t, mgr))

	send(t, ws, `{"type":"config","sessionId":"s1","config":{"language":"de","medicalContext":"mammographie"}}`)
	send(t, ws, audioMsg("s1", 2))
	send(t, ws, audioMsg("s1", 40))

	ev := readEvent(t, ws)
	if ev.Type != session.EventTranscription {
		t.Fatalf("event type = %q, want transcription", ev.Type)
	}
	if ev.SessionID != "s1" {
		t.Errorf("sessionId = %q", ev.SessionID)
	}
	if ev.CorrectedText != "Mammographie beidseits unauffällig" {
		t.Errorf("correctedText = %q", ev.CorrectedText)
	}
	if !ev.IsValid {
		t.Error("transcription not valid")
	}

	send(t, ws, `{"type":"end_session","sessionId":"s1"}`)
	ev = readEvent(t, ws)
	if ev.Type != session.EventSessionEnded {
		t.Fatalf("event type = %q, want session_ended", ev.Type)
	}
	if ev.Transcriptions != 1 {
		t.Errorf("transcriptions = %d, want 1", ev.Transcriptions)
	}
}

func TestMalformedMessageKeepsConnection(t *testing.T) {
	t.Parallel()

	ws := dial(t, newTestServer(t, newManager(t, &vadmock.Session{}, &asrmock.Provider{})))

	send(t, ws, `{"type":"video"}`)
	ev := readEvent(t, ws)
	if ev.Type != session.EventError || ev.Field != "type" {
		t.Fatalf("event = %+v, want error on field type", ev)
	}

	// The connection survives a rejected message.
	send(t, ws, `{"type":"audio"}`)
	ev = readEvent(t, ws)
	if ev.Type != session.EventError || ev.Field != "data" {
		t.Fatalf("event = %+v, want error on field data", ev)
	}
}

func TestDisconnectEndsOwnedSessions(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, &vadmock.Session{}, &asrmock.Provider{})
	ws := dial(t, newTestServer(t, mgr))

	send(t, ws, audioMsg("s1", 1))
	waitFor(t, func() bool { return mgr.ActiveSessions() == 1 })

	ws.Close(websocket.StatusNormalClosure, "done")
	waitFor(t, func() bool { return mgr.ActiveSessions() == 0 })
}
