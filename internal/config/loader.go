package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidVADEngines lists the known voice-activity backends.
var ValidVADEngines = []string{"energy", "webrtc"}

// ValidASRProviders lists the known recognizer boundary implementations.
var ValidASRProviders = []string{"whisper", "mock"}

// ValidDecoderFormats lists the known inbound audio framings.
var ValidDecoderFormats = []string{"webm", "ogg", "opus"}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("server.listen_addr is required"))
	}

	// Audio
	if !slices.Contains([]int{8000, 16000, 32000, 48000}, cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: 8000, 16000, 32000, 48000", cfg.Audio.SampleRate))
	}
	if !slices.Contains([]int{10, 20, 30}, cfg.Audio.FrameSizeMs) {
		errs = append(errs, fmt.Errorf("audio.frame_size_ms %d is invalid; valid values: 10, 20, 30", cfg.Audio.FrameSizeMs))
	}
	if cfg.Audio.SpeechFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.speech_frames must be positive"))
	}
	if cfg.Audio.SilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("audio.silence_frames must be positive"))
	}
	if cfg.Audio.NoiseFloor < 0 || cfg.Audio.NoiseFloor > 1 {
		errs = append(errs, fmt.Errorf("audio.noise_floor %.3f is out of range [0, 1]", cfg.Audio.NoiseFloor))
	}
	if cfg.Audio.ZCRThreshold < 0 || cfg.Audio.ZCRThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.zcr_threshold %.3f is out of range [0, 1]", cfg.Audio.ZCRThreshold))
	}

	// Decoder
	if !slices.Contains(ValidDecoderFormats, cfg.Decoder.Format) {
		errs = append(errs, fmt.Errorf("decoder.format %q is invalid; valid values: webm, ogg, opus", cfg.Decoder.Format))
	}
	if cfg.Decoder.FlushGraceMs < 0 || cfg.Decoder.FlushGraceMs > 10000 {
		errs = append(errs, fmt.Errorf("decoder.flush_grace_ms %d is out of range [0, 10000]", cfg.Decoder.FlushGraceMs))
	}

	// VAD
	if !slices.Contains(ValidVADEngines, cfg.VAD.Engine) {
		errs = append(errs, fmt.Errorf("vad.engine %q is invalid; valid values: energy, webrtc", cfg.VAD.Engine))
	}
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}

	// ASR
	if !slices.Contains(ValidASRProviders, cfg.ASR.Provider) {
		errs = append(errs, fmt.Errorf("asr.provider %q is invalid; valid values: whisper, mock", cfg.ASR.Provider))
	}
	if cfg.ASR.Provider == "whisper" && cfg.ASR.BaseURL == "" {
		errs = append(errs, fmt.Errorf("asr.base_url is required for the whisper provider"))
	}

	// Sessions
	if cfg.Sessions.IdleTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("sessions.idle_timeout_s must be positive"))
	}

	// Logging
	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	return errors.Join(errs...)
}
