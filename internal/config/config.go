// Package config defines the YAML configuration schema for the medscribe
// dictation service and its loader. See [Load] for entry points and
// [Validate] for the coherence rules.
package config

import "time"

// LogLevel is a validated logging verbosity value.
type LogLevel string

// Valid log levels.
const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether the level is one of the known values.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration document.
type Config struct {
	// Server configures the HTTP/WebSocket listener.
	Server ServerConfig `yaml:"server"`

	// Audio configures the PCM format and voice-activity gating.
	Audio AudioConfig `yaml:"audio"`

	// Decoder configures per-session stream reconstruction.
	Decoder DecoderConfig `yaml:"decoder"`

	// VAD selects and tunes the voice-activity backend.
	VAD VADConfig `yaml:"vad"`

	// ASR configures the external recognizer boundary.
	ASR ASRConfig `yaml:"asr"`

	// Lexicon configures transcript validation.
	Lexicon LexiconConfig `yaml:"lexicon"`

	// Sessions configures session lifecycle housekeeping.
	Sessions SessionsConfig `yaml:"sessions"`

	// Logging configures structured log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the network listener.
type ServerConfig struct {
	// ListenAddr is the host:port the HTTP server binds. Default ":8085".
	ListenAddr string `yaml:"listen_addr"`
}

// AudioConfig configures the PCM pipeline. The decoder always produces s16le
// mono at SampleRate; these values also parameterize the VAD gate.
type AudioConfig struct {
	// SampleRate in Hz. One of 8000, 16000, 32000, 48000. Default 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSizeMs is the VAD classifier frame length. One of 10, 20, 30.
	// Default 20.
	FrameSizeMs int `yaml:"frame_size_ms"`

	// SpeechFrames is the consecutive speech frames needed to open the gate.
	// Default 2.
	SpeechFrames int `yaml:"speech_frames"`

	// SilenceFrames is the consecutive silence frames needed to close the
	// gate. Default 40.
	SilenceFrames int `yaml:"silence_frames"`

	// NoiseFloor is the energy backend's minimum speech energy. Default 0.01.
	NoiseFloor float64 `yaml:"noise_floor"`

	// ZCRThreshold is the energy backend's zero-crossing-rate gate.
	// Default 0.3.
	ZCRThreshold float64 `yaml:"zcr_threshold"`
}

// DecoderConfig configures stream reconstruction.
type DecoderConfig struct {
	// FFmpegPath is the ffmpeg binary. Default "ffmpeg" (resolved on PATH).
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Format is the inbound audio framing: "webm" or "ogg" for container
	// streams decoded via ffmpeg, "opus" for bare Opus packets decoded
	// in-process. Default "webm".
	Format string `yaml:"format"`

	// FlushGraceMs bounds the decoder flush when a session ends. Default 2000.
	FlushGraceMs int `yaml:"flush_grace_ms"`
}

// FlushGrace returns the flush grace as a duration.
func (d DecoderConfig) FlushGrace() time.Duration {
	return time.Duration(d.FlushGraceMs) * time.Millisecond
}

// VADConfig selects the voice-activity backend.
type VADConfig struct {
	// Engine is "energy" or "webrtc". Default "energy".
	Engine string `yaml:"engine"`

	// Aggressiveness tunes the webrtc backend, 0 through 3. Default 1.
	Aggressiveness int `yaml:"aggressiveness"`
}

// ASRConfig configures the recognizer boundary.
type ASRConfig struct {
	// Provider is "whisper" or "mock". Default "whisper".
	Provider string `yaml:"provider"`

	// BaseURL is the whisper-server endpoint, e.g. "http://localhost:8080".
	// Required for the whisper provider.
	BaseURL string `yaml:"base_url"`

	// Language is the expected dictation language code, e.g. "de".
	Language string `yaml:"language"`
}

// LexiconConfig configures transcript validation.
type LexiconConfig struct {
	// Path to the lexicon JSON. Empty runs with an empty lexicon
	// (pass-through validation).
	Path string `yaml:"path"`

	// DefaultContext is the medical context assumed for sessions that do not
	// set one, e.g. "mammographie".
	DefaultContext string `yaml:"default_context"`
}

// SessionsConfig configures session housekeeping.
type SessionsConfig struct {
	// IdleTimeoutS expires sessions with no inbound audio for this many
	// seconds. Default 300.
	IdleTimeoutS int `yaml:"idle_timeout_s"`
}

// IdleTimeout returns the idle timeout as a duration.
func (s SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutS) * time.Second
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn, error. Default "info".
	Level LogLevel `yaml:"level"`

	// File enables rotating file output at this path. Empty logs to stderr
	// only.
	File string `yaml:"file"`

	// Stderr additionally mirrors logs to stderr when File is set.
	// Default true.
	Stderr *bool `yaml:"stderr"`

	// MaxSizeMB rotates the log file at this size. Default 20.
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups keeps this many rotated files. Default 3.
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays deletes rotated files older than this. Default 30.
	MaxAgeDays int `yaml:"max_age_days"`
}

// StderrEnabled reports whether stderr output is on (the default).
func (l LoggingConfig) StderrEnabled() bool {
	return l.Stderr == nil || *l.Stderr
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8085"},
		Audio: AudioConfig{
			SampleRate:    16000,
			FrameSizeMs:   20,
			SpeechFrames:  2,
			SilenceFrames: 40,
			NoiseFloor:    0.01,
			ZCRThreshold:  0.3,
		},
		Decoder: DecoderConfig{
			FFmpegPath:   "ffmpeg",
			Format:       "webm",
			FlushGraceMs: 2000,
		},
		VAD: VADConfig{Engine: "energy", Aggressiveness: 1},
		ASR: ASRConfig{Provider: "whisper", BaseURL: "http://localhost:8080"},
		Sessions: SessionsConfig{
			IdleTimeoutS: 300,
		},
		Logging: LoggingConfig{
			Level:      LogInfo,
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}
