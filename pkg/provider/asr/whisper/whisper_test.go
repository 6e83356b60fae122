package whisper_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medscribe/medscribe/pkg/provider/asr"
	"github.com/medscribe/medscribe/pkg/provider/asr/whisper"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFlushPostsUtteranceAndDeliversTranscript(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path != "/inference" {
			t.Errorf("path = %q, want /inference", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			f.Close()
		}
		if lang := r.FormValue("language"); lang != "de" {
			t.Errorf("language = %q, want de", lang)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": " Mammographie beidseits unauffällig. "}`))
	})

	p := whisper.New(srv.URL)
	sess, err := p.StartStream(context.Background(), asr.StreamConfig{SampleRate: 16000, Channels: 1, Language: "de"})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	if err := sess.SendAudio(make([]byte, 32000)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case tr := <-sess.Results():
		if tr.Text != "Mammographie beidseits unauffällig." {
			t.Errorf("text = %q", tr.Text)
		}
		if tr.Confidence != 0.95 {
			t.Errorf("confidence = %v, want default 0.95", tr.Confidence)
		}
		if tr.Language != "de" {
			t.Errorf("language = %q, want de", tr.Language)
		}
		if tr.AudioMs != 1000 {
			t.Errorf("audioMs = %d, want 1000", tr.AudioMs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no transcript delivered")
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestEmptyFlushIsNoOp(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`{"text": "x"}`))
	})

	sess, err := whisper.New(srv.URL).StartStream(context.Background(), asr.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := requests.Load(); got != 0 {
		t.Errorf("server saw %d requests, want 0", got)
	}
}

func TestServerErrorIsDroppedNotFatal(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	sess, err := whisper.New(srv.URL).StartStream(context.Background(), asr.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Results closes without delivering anything.
	if tr, ok := <-sess.Results(); ok {
		t.Errorf("unexpected transcript %+v after server error", tr)
	}
}

func TestCloseFlushesPendingAudio(t *testing.T) {
	t.Parallel()

	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "Befund folgt.", "confidence": 0.81}`))
	})

	sess, err := whisper.New(srv.URL).StartStream(context.Background(), asr.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := sess.SendAudio(make([]byte, 640)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	tr, ok := <-sess.Results()
	if !ok {
		t.Fatal("results closed without the pending utterance")
	}
	if tr.Text != "Befund folgt." || tr.Confidence != 0.81 {
		t.Errorf("transcript = %+v", tr)
	}
	if err := sess.SendAudio(make([]byte, 2)); err == nil {
		t.Error("SendAudio after Close succeeded")
	}
}
