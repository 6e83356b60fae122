package vad_test

import (
	"bytes"
	"testing"

	"github.com/medscribe/medscribe/pkg/provider/vad"
	"github.com/medscribe/medscribe/pkg/provider/vad/mock"
)

const frameBytes = 640 // 20 ms at 16 kHz, s16le mono

var (
	speechEvent  = vad.VADEvent{Type: vad.VADSpeech, Probability: 0.9}
	silenceEvent = vad.VADEvent{Type: vad.VADSilence, Probability: 0.1}
)

func TestGateOpensAfterConsecutiveSpeechFrames(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: speechEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	out, speaking := gate.Process(make([]byte, frameBytes))
	if speaking || out != nil {
		t.Fatal("gate opened after a single speech frame")
	}

	in := make([]byte, frameBytes)
	out, speaking = gate.Process(in)
	if !speaking {
		t.Fatal("gate still closed after two consecutive speech frames")
	}
	if !bytes.Equal(out, in) {
		t.Error("speaking gate did not return its input span")
	}
}

func TestGateIgnoresIsolatedSpeechFrames(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	// Alternate speech and silence so no two speech frames are consecutive.
	for i := 0; i < 50; i++ {
		sess.EventQueue = append(sess.EventQueue, speechEvent, silenceEvent)
	}
	for i := 0; i < 100; i++ {
		if _, speaking := gate.Process(make([]byte, frameBytes)); speaking {
			t.Fatal("gate opened on isolated speech frames")
		}
	}
}

func TestGateClosesAfterSilenceRun(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: silenceEvent}
	sess.EventQueue = []vad.VADEvent{speechEvent, speechEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	if _, speaking := gate.Process(make([]byte, 2*frameBytes)); !speaking {
		t.Fatal("gate did not open")
	}

	// 39 silence frames: one short of the closing threshold.
	for i := 0; i < 39; i++ {
		out, speaking := gate.Process(make([]byte, frameBytes))
		if !speaking {
			t.Fatalf("gate closed after %d silence frames, want 40", i+1)
		}
		if len(out) != frameBytes {
			t.Fatalf("speaking gate returned %d bytes, want %d", len(out), frameBytes)
		}
	}

	out, speaking := gate.Process(make([]byte, frameBytes))
	if speaking || out != nil {
		t.Error("gate still open after 40 consecutive silence frames")
	}
}

func TestGateSilenceNeverOpens(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: silenceEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	for i := 0; i < 500; i++ {
		if _, speaking := gate.Process(make([]byte, frameBytes)); speaking {
			t.Fatal("gate opened on pure silence")
		}
	}
	if gate.Speaking() {
		t.Error("Speaking() = true after pure silence")
	}
}

func TestGateCarriesSubFrameRemainder(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: silenceEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	gate.Process(make([]byte, frameBytes+frameBytes/2))
	if got := len(sess.ProcessFrameCalls); got != 1 {
		t.Fatalf("classifier saw %d frames, want 1", got)
	}

	// The half-frame remainder plus another half frame completes one frame.
	gate.Process(make([]byte, frameBytes/2))
	if got := len(sess.ProcessFrameCalls); got != 2 {
		t.Fatalf("classifier saw %d frames, want 2", got)
	}
	for i, call := range sess.ProcessFrameCalls {
		if len(call.Frame) != frameBytes {
			t.Errorf("frame %d is %d bytes, want %d", i, len(call.Frame), frameBytes)
		}
	}
}

func TestGateHoldsStateOnClassifierError(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: silenceEvent}
	sess.EventQueue = []vad.VADEvent{speechEvent, speechEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	if _, speaking := gate.Process(make([]byte, 2*frameBytes)); !speaking {
		t.Fatal("gate did not open")
	}

	sess.ProcessFrameErr = errFrame
	for i := 0; i < 100; i++ {
		if _, speaking := gate.Process(make([]byte, frameBytes)); !speaking {
			t.Fatal("classifier errors closed the gate")
		}
	}
}

var errFrame = &frameError{}

type frameError struct{}

func (*frameError) Error() string { return "frame error" }

func TestGateReset(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{EventResult: speechEvent}
	gate := vad.NewGate(sess, vad.DefaultGateConfig())

	if _, speaking := gate.Process(make([]byte, 2*frameBytes)); !speaking {
		t.Fatal("gate did not open")
	}

	gate.Reset()
	if gate.Speaking() {
		t.Error("gate still speaking after Reset")
	}
	if sess.ResetCallCount != 1 {
		t.Errorf("session Reset called %d times, want 1", sess.ResetCallCount)
	}

	// Re-framing state is also cleared: a half frame after Reset does not
	// combine with pre-Reset leftover.
	gate.Process(make([]byte, frameBytes/2))
	if got := len(sess.ProcessFrameCalls); got != 2 {
		t.Errorf("classifier saw %d frames after Reset, want 2", got)
	}
}

func TestGateDefaults(t *testing.T) {
	t.Parallel()

	gate := vad.NewGate(&mock.Session{}, vad.GateConfig{})
	if got := gate.FrameBytes(); got != frameBytes {
		t.Errorf("FrameBytes() = %d, want %d", got, frameBytes)
	}
}
