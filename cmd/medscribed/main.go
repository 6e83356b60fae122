// Command medscribed is the medical dictation backend: it accepts compressed
// browser audio over WebSocket and streams back validated transcriptions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medscribe/medscribe/internal/config"
	"github.com/medscribe/medscribe/internal/decode"
	"github.com/medscribe/medscribe/internal/health"
	"github.com/medscribe/medscribe/internal/lexicon"
	"github.com/medscribe/medscribe/internal/logging"
	"github.com/medscribe/medscribe/internal/observe"
	"github.com/medscribe/medscribe/internal/server"
	"github.com/medscribe/medscribe/internal/session"
	"github.com/medscribe/medscribe/internal/validate"
	"github.com/medscribe/medscribe/pkg/provider/asr"
	asrmock "github.com/medscribe/medscribe/pkg/provider/asr/mock"
	"github.com/medscribe/medscribe/pkg/provider/asr/whisper"
	"github.com/medscribe/medscribe/pkg/provider/vad"
	"github.com/medscribe/medscribe/pkg/provider/vad/energy"
	"github.com/medscribe/medscribe/pkg/provider/vad/webrtc"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "medscribed: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medscribed: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := logging.Setup(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("medscribed starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Logging.Level,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Lexicon ───────────────────────────────────────────────────────────────
	lex := lexicon.LoadOrEmpty(cfg.Lexicon.Path)
	slog.Info("lexicon loaded",
		"path", cfg.Lexicon.Path,
		"terms", lex.NumTerms(),
		"correction_variants", lex.NumCorrectionVariants(),
	)

	// ── Pipeline stages ───────────────────────────────────────────────────────
	vadEngine, err := buildVADEngine(cfg)
	if err != nil {
		slog.Error("failed to build vad engine", "err", err)
		return 1
	}
	asrProvider, err := buildASRProvider(cfg)
	if err != nil {
		slog.Error("failed to build asr provider", "err", err)
		return 1
	}

	rec := decode.New(decode.Config{
		FFmpegPath:  cfg.Decoder.FFmpegPath,
		SampleRate:  cfg.Audio.SampleRate,
		OpusPackets: cfg.Decoder.Format == "opus",
		FlushGrace:  cfg.Decoder.FlushGrace(),
	}, decode.WithMetrics(metrics))

	validator := validate.New(lex, validate.WithMetrics(metrics))

	manager := session.NewManager(session.Config{
		SampleRate:     cfg.Audio.SampleRate,
		FrameSizeMs:    cfg.Audio.FrameSizeMs,
		SpeechFrames:   cfg.Audio.SpeechFrames,
		SilenceFrames:  cfg.Audio.SilenceFrames,
		NoiseFloor:     cfg.Audio.NoiseFloor,
		ZCRThreshold:   cfg.Audio.ZCRThreshold,
		Aggressiveness: cfg.VAD.Aggressiveness,
		Language:       cfg.ASR.Language,
		DefaultContext: cfg.Lexicon.DefaultContext,
		IdleTimeout:    cfg.Sessions.IdleTimeout(),
	}, rec, vadEngine, asrProvider, validator, session.WithMetrics(metrics))
	manager.Start()

	// ── HTTP server ───────────────────────────────────────────────────────────
	var checks []health.Checker
	if wp, ok := asrProvider.(*whisper.Provider); ok {
		checks = append(checks, health.Checker{Name: "recognizer", Check: wp.Ping})
	}
	srv := server.New(manager,
		server.WithMetrics(metrics),
		server.WithReadinessChecks(checks...),
	)
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server ready", "listen_addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	manager.Close(shutdownCtx)

	slog.Info("goodbye")
	return 0
}

// ── Pipeline wiring ───────────────────────────────────────────────────────────

func buildVADEngine(cfg *config.Config) (vad.Engine, error) {
	switch cfg.VAD.Engine {
	case "energy":
		return energy.New(), nil
	case "webrtc":
		return webrtc.New(), nil
	default:
		return nil, fmt.Errorf("unknown vad engine %q", cfg.VAD.Engine)
	}
}

func buildASRProvider(cfg *config.Config) (asr.Provider, error) {
	switch cfg.ASR.Provider {
	case "whisper":
		return whisper.New(cfg.ASR.BaseURL), nil
	case "mock":
		// Recognizer-less mode for pipeline smoke tests and demos.
		return &asrmock.Provider{}, nil
	default:
		return nil, fmt.Errorf("unknown asr provider %q", cfg.ASR.Provider)
	}
}
