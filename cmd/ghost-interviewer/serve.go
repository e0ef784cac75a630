package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/dialogue"
	"github.com/sjawhar/ghost-interviewer/internal/feedback"
	"github.com/sjawhar/ghost-interviewer/internal/gdrive"
	"github.com/sjawhar/ghost-interviewer/internal/logger"
	"github.com/sjawhar/ghost-interviewer/internal/room"
	"github.com/sjawhar/ghost-interviewer/internal/server"
	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the interview server",
		Long:  "Starts the HTTP API, the candidate room websocket and, when configured, the LiveKit transport. Runs until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ghost-interviewer.yaml", "path to config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err := cfg.Require(); err != nil {
		return err
	}

	limiter, limiterCloser, err := buildLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	if limiterCloser != nil {
		defer func() { _ = limiterCloser.Close() }()
	}

	gws, err := buildGateways(ctx, cfg, limiter, log)
	if err != nil {
		return err
	}
	defer func() { _ = gws.Close() }()

	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	hub := server.NewHub(log)
	defer hub.Close()

	deps := session.Deps{
		STT:    gws.stt,
		TTS:    gws.tts,
		Store:  store,
		Events: hub,
		Log:    log,
	}
	if cfg.Dialogue.Phrasing && gws.llm != nil {
		deps.Phraser = dialogue.NewLLMPhraser(gws.llm)
	}
	if cfg.Session.RecordAudio {
		deps.Recorder = audio.NewRecorder(cfg.Storage.AudioDir, cfg.VAD.SampleRate)
	}

	sinks, webhook := buildSinks(ctx, cfg, store, log)
	deps.Sinks = sinks
	if webhook != nil {
		defer webhook.Wait()
	}

	manager := session.NewManager(sessionConfig(cfg), deps, cfg.Session.MaxConcurrent)

	srvDeps := server.Deps{
		Sessions:     manager,
		Store:        store,
		Hub:          hub,
		Providers:    gws.Snapshot,
		FrameSamples: cfg.FrameSamples(),
		Log:          log,
	}
	if lk, err := room.NewLiveKit(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret); err == nil {
		srvDeps.LiveKit = lk
		srvDeps.JoinLiveKit = func(ctx context.Context, sessionID string) (room.Room, error) {
			rm, err := lk.Join(ctx, sessionID, cfg.FrameSamples(), cfg.VAD.SampleRate, log.WithField("session", sessionID))
			if err != nil {
				return nil, err
			}
			return rm, nil
		}
	}

	httpServer := server.New(cfg.Server.Addr, srvDeps)
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("ghost-interviewer listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if err := manager.StopAll(drainCtx); err != nil {
		log.WithError(err).Warn("stopping sessions")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	return nil
}

// buildSinks returns the completion sinks in delivery order. The store
// always comes first so the transcript is durable before export.
func buildSinks(ctx context.Context, cfg config.Config, store *storage.SQLiteStore, log logrus.FieldLogger) ([]session.CompletionSink, *feedback.Webhook) {
	sinks := []session.CompletionSink{store}

	if cfg.Storage.TranscriptDir != "" {
		sinks = append(sinks, storage.NewWriter(cfg.Storage.TranscriptDir))
	}

	if cfg.GDrive.FolderID != "" {
		exporter, err := gdrive.NewExporter(ctx, cfg.GoogleCredentialsFile, cfg.GDrive.FolderID)
		if err != nil {
			log.WithError(err).Warn("gdrive export disabled")
		} else {
			sinks = append(sinks, exporter)
		}
	}

	var webhook *feedback.Webhook
	if cfg.Feedback.WebhookURL != "" {
		webhook = feedback.NewWebhook(cfg.Feedback.WebhookURL, log)
		sinks = append(sinks, webhook)
	}
	return sinks, webhook
}
