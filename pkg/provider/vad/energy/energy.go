// Package energy implements [vad.Engine] with an adaptive RMS-energy and
// zero-crossing-rate classifier. It needs no model files and no cgo, which
// makes it the default backend for dictation streams.
//
// Per frame it computes the RMS energy of the samples normalized to [-1, 1]
// and the fraction of adjacent sample pairs that change sign. The speech
// threshold adapts to the ambient noise level: it is the mean of roughly the
// last second of silence-frame energies scaled by 1.2, floored at the
// configured noise floor. The first second of audio feeds the history
// unconditionally as a calibration warm-up, so a room whose noise sits above
// the floor still establishes a baseline. A frame counts as speech when its
// energy exceeds the threshold outright, or when it exceeds half the
// threshold with a high zero-crossing rate, which keeps low-energy fricatives
// at word boundaries from being cut off.
package energy

import (
	"fmt"
	"math"

	"github.com/medscribe/medscribe/pkg/audio"
	"github.com/medscribe/medscribe/pkg/provider/vad"
)

const (
	defaultSampleRate   = 16000
	defaultFrameSizeMs  = 20
	defaultNoiseFloor   = 0.01
	defaultZCRThreshold = 0.3

	// historyFrames is the adaptive window: 50 frames of 20 ms is one second.
	historyFrames = 50

	// minHistoryFrames is the minimum number of observed silence frames before
	// the threshold starts adapting; below this the noise floor alone decides.
	minHistoryFrames = 10

	// thresholdGain scales the mean ambient energy into the speech threshold.
	thresholdGain = 1.2
)

// Engine creates adaptive energy/ZCR sessions. The zero value is ready to use.
type Engine struct{}

// New returns a new energy VAD engine.
func New() *Engine {
	return &Engine{}
}

// NewSession creates a classifier session. Zero Config fields fall back to
// 16 kHz, 20 ms frames, noise floor 0.01 and ZCR threshold 0.3.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.FrameSizeMs == 0 {
		cfg.FrameSizeMs = defaultFrameSizeMs
	}
	if cfg.NoiseFloor == 0 {
		cfg.NoiseFloor = defaultNoiseFloor
	}
	if cfg.ZCRThreshold == 0 {
		cfg.ZCRThreshold = defaultZCRThreshold
	}
	if cfg.SampleRate < 0 || cfg.FrameSizeMs < 0 {
		return nil, fmt.Errorf("energy: negative sample rate or frame size")
	}
	if cfg.NoiseFloor < 0 || cfg.NoiseFloor > 1 {
		return nil, fmt.Errorf("energy: noise floor %v outside [0, 1]", cfg.NoiseFloor)
	}
	if cfg.ZCRThreshold < 0 || cfg.ZCRThreshold > 1 {
		return nil, fmt.Errorf("energy: zcr threshold %v outside [0, 1]", cfg.ZCRThreshold)
	}
	frameSamples := cfg.SampleRate * cfg.FrameSizeMs / 1000
	if frameSamples == 0 {
		return nil, fmt.Errorf("energy: sample rate %d at %d ms yields empty frames", cfg.SampleRate, cfg.FrameSizeMs)
	}
	return &session{
		frameBytes:   frameSamples * 2,
		noiseFloor:   cfg.NoiseFloor,
		zcrThreshold: cfg.ZCRThreshold,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

type session struct {
	frameBytes   int
	noiseFloor   float64
	zcrThreshold float64

	// history is a ring of recent ambient energies. The first historyFrames
	// frames feed it unconditionally (calibration warm-up); after that only
	// frames classified as silence do, so sustained speech cannot drag the
	// threshold up and gate itself off, while noise above the floor cannot
	// pin every frame as speech forever.
	history [historyFrames]float64
	histLen int
	histPos int
	warmup  int

	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, fmt.Errorf("energy: session closed")
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	samples := audio.BytesToInt16(frame)
	e := rmsEnergy(samples)
	zcr := zeroCrossingRate(samples)
	thr := s.threshold()

	speech := e > thr || (e > 0.5*thr && zcr > s.zcrThreshold)
	if s.warmup < historyFrames {
		s.warmup++
		s.push(e)
	} else if !speech {
		s.push(e)
	}

	ev := vad.VADEvent{Type: vad.VADSilence, Probability: clamp01(e / thr)}
	if speech {
		ev.Type = vad.VADSpeech
		if ev.Probability < 0.5 {
			ev.Probability = 0.5
		}
	}
	return ev, nil
}

func (s *session) Reset() {
	s.histLen = 0
	s.histPos = 0
	s.warmup = 0
}

func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// threshold returns the current speech threshold: the scaled mean of the
// ambient energy history, floored at the noise floor. Before enough history
// accumulates, the noise floor alone applies.
func (s *session) threshold() float64 {
	if s.histLen < minHistoryFrames {
		return s.noiseFloor
	}
	var sum float64
	for i := 0; i < s.histLen; i++ {
		sum += s.history[i]
	}
	adaptive := sum / float64(s.histLen) * thresholdGain
	return math.Max(s.noiseFloor, adaptive)
}

func (s *session) push(e float64) {
	s.history[s.histPos] = e
	s.histPos = (s.histPos + 1) % historyFrames
	if s.histLen < historyFrames {
		s.histLen++
	}
}

// rmsEnergy returns the root-mean-square of the samples scaled to [-1, 1].
func rmsEnergy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		n := float64(v) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// zeroCrossingRate returns the fraction of adjacent sample pairs with opposite
// sign. Transitions through exact zero do not count as crossings.
func zeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if int32(samples[i-1])*int32(samples[i]) < 0 {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
