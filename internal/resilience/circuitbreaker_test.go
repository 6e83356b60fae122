package resilience

import (
	"errors"
	"testing"
	"time"
)

// errInferenceDown stands in for a recognizer endpoint refusing connections.
var errInferenceDown = errors.New("inference: connection refused")

// newRecognizerBreaker returns a breaker tuned small enough for tests: two
// failures open it, the probe budget is two, and it stays open for resetAfter.
func newRecognizerBreaker(resetAfter time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "whisper",
		MaxFailures:  2,
		ResetTimeout: resetAfter,
		HalfOpenMax:  2,
	})
}

// trip drives cb into the open state with consecutive failed inferences.
func trip(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		if err := cb.Execute(func() error { return errInferenceDown }); !errors.Is(err, errInferenceDown) {
			t.Fatalf("failing inference returned %v, want errInferenceDown", err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after %d failures, want open", cb.State(), failures)
	}
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "whisper"})
	if cb.State() != StateClosed {
		t.Errorf("new breaker state = %v, want closed", cb.State())
	}
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d failures / %v / %d probes, want 5 / 30s / 3",
			cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
}

func TestBreakerForwardsWhileRecognizerHealthy(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(time.Hour)
	calls := 0
	for i := 0; i < 10; i++ {
		if err := cb.Execute(func() error { calls++; return nil }); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if calls != 10 {
		t.Errorf("inference called %d times, want 10", calls)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestBreakerOpensWhenRecognizerStaysDown(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(time.Hour)
	trip(t, cb, 2)

	// While open, the next utterance is rejected without touching the
	// endpoint at all.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker still forwarded the inference call")
	}
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(time.Hour)

	// One failure, one recovery: the streak restarts, so one more failure
	// must not open the breaker.
	_ = cb.Execute(func() error { return errInferenceDown })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errInferenceDown })

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after interleaved success", cb.State())
	}
}

func TestBreakerRecoversThroughProbes(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(10 * time.Millisecond)
	trip(t, cb, 2)

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open once the reset timeout elapsed", cb.State())
	}

	// The recognizer came back: two clean probes close the breaker again.
	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probes", cb.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(time.Minute)
	trip(t, cb, 2)

	cb.mu.Lock()
	cb.lastFailure = time.Now().Add(-2 * time.Minute) // reset timeout elapsed
	cb.mu.Unlock()

	// The first probe still fails, so the breaker snaps back open and the
	// following utterance is rejected outright.
	if err := cb.Execute(func() error { return errInferenceDown }); !errors.Is(err, errInferenceDown) {
		t.Fatalf("failing probe returned %v, want errInferenceDown", err)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen after failed probe", err)
	}
}

func TestBreakerManualReset(t *testing.T) {
	t.Parallel()

	cb := newRecognizerBreaker(time.Hour)
	trip(t, cb, 2)

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestStateString(t *testing.T) {
	t.Parallel()

	for state, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
