package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"kitchen-voice/internal/application"
	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra/audio"
	"kitchen-voice/internal/infra/httpapi"
	"kitchen-voice/internal/infra/metrics"
	"kitchen-voice/internal/infra/orderstore"
	"kitchen-voice/internal/infra/recognizer"
	"kitchen-voice/internal/infra/wakeword"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice engine and the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, logCloser := setupLogger(cfg.Log, os.Stdout)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	capture, err := buildCapture(cfg.Audio, logger)
	if err != nil {
		return err
	}
	spool, err := buildSpool(cfg.Audio)
	if err != nil {
		return err
	}
	vad := audio.NewVAD(cfg.Audio.VADMode, logger)

	whisper := buildWhisper(cfg.STT)
	if cfg.STT.APIKey == "" {
		logger.Warn("no speech-to-text API key configured; voice commands will fail")
	}

	wake := wakeword.NewSelector(
		wakeword.NewKeywordBackend(wakeword.KeywordConfig{
			Endpoint:  cfg.WakeWord.Endpoint,
			AccessKey: cfg.WakeWord.AccessKey,
		}, logger),
		wakeword.NewContinuousBackend(whisper, nil, vad, audio.DefaultSegmenterConfig(), logger),
		logger,
	)
	rec := recognizer.New(whisper, vad, spool, recognizer.DefaultConfig(), logger)

	chain, textService, cloud := parserStack(cfg.NLP, m.ParserOutcome, logger)
	defer func() {
		if err := cloud.Close(); err != nil {
			logger.Warn("closing NLP clients", "error", err)
		}
	}()

	notifier := buildNotifier(cfg.Pushover)
	hub := httpapi.NewHub(logger)

	engine, err := application.NewEngine(cfg.Engine, application.Dependencies{
		Capture:    capture,
		Wake:       wake,
		Recognizer: rec,
		Parser:     chain,
		Speaker:    buildSpeaker(cfg.TTS, cfg.Audio, logger),
		Notifier:   notifier,
		Observer:   application.Observers{m, hub},
	}, logger)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}
	defer engine.Destroy()

	hub.Attach(engine)
	engine.OnCommand(func(vc domain.VoiceCommand) {
		logger.Info("voice command",
			"action", vc.Action,
			"order_id", vc.OrderID,
			"status", vc.Status,
			"session", vc.SessionID,
		)
	})
	engine.OnErrorOccurred(func(msg string) {
		logger.Warn("voice engine error", "message", msg)
	})

	sinks := application.OrderSinks{engine, textService}

	if cfg.OrderStore.BaseURL != "" {
		store := orderstore.NewClient(cfg.OrderStore.BaseURL, cfg.OrderStore.Token, cfg.OrderStore.WebhookSecret)
		bridge := application.NewBridge(store, sinks, notifier, logger)
		engine.OnCommand(bridge.Forward(ctx))
		go func() {
			if err := bridge.Run(ctx, cfg.OrderStore.SyncIntervalDuration()); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("order store bridge stopped", "error", err)
			}
		}()
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:          cfg.HTTP.Addr,
		AuthToken:     cfg.HTTP.AuthToken,
		RatePerMinute: cfg.HTTP.RatePerMinute,
		Burst:         cfg.HTTP.Burst,
	}, httpapi.Deps{
		Parser:   textService,
		Orders:   sinks,
		Engine:   engine,
		Gatherer: reg,
		Requests: m,
		Events:   hub,
	}, logger)
	if err := server.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Warn("stopping HTTP server", "error", err)
		}
	}()

	logger.Info("starting kitchen voice",
		"audio_source", cfg.Audio.Source,
		"nlp_provider", cfg.NLP.Provider,
		"wake_word", cfg.Engine.WakeWord,
	)

	if _, err := engine.StartListening(ctx); err != nil {
		logger.Error("voice engine not listening; text commands remain available", "error", err)
	}

	<-ctx.Done()
	return nil
}
