package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sjawhar/interview-room/internal/blobstore"
	"github.com/sjawhar/interview-room/internal/config"
	"github.com/sjawhar/interview-room/internal/conversation"
	"github.com/sjawhar/interview-room/internal/llm"
	"github.com/sjawhar/interview-room/internal/logging"
	"github.com/sjawhar/interview-room/internal/recording"
	"github.com/sjawhar/interview-room/internal/server"
	"github.com/sjawhar/interview-room/internal/session"
	"github.com/sjawhar/interview-room/internal/speech"
	"github.com/sjawhar/interview-room/internal/storage"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "interview-room",
		Short:         "Run the interview session server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", envOr(config.EnvPrefix+"CONFIG", "config.yaml"), "Path to the YAML config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "interview-room: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range warnings {
		logger.Warn(w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	model, grader := newModels(cfg.Model, func(opts ...llm.Option) (llm.Client, error) {
		return llm.NewFromModel(cfg.Model, cfg.APIKeyFor, opts...)
	}, logger)

	coord := session.NewCoordinator(session.NewMemoryStore(), store,
		conversation.NewOrchestrator(model, cfg.ParsedGenerationTimeout(), logger),
		conversation.NewEvaluator(grader, nil, logger),
		session.Options{
			DeliveryDelay: cfg.ParsedDeliveryDelay(),
			Transcripts:   storage.NewTranscriptWriter(cfg.TranscriptDir),
			Reaper:        session.NewReaper(cfg.ParsedSessionTTL(), cfg.ParsedDisconnectGrace(), nil),
			Logger:        logger,
		})
	defer coord.Close()

	var blobs blobstore.Store = blobstore.NewDirStore(cfg.RecordingDir)
	if cfg.GDriveFolderID != "" {
		drive, err := blobstore.NewDriveStore(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			msg := fmt.Sprintf("Google Drive upload disabled, storing recordings in %s: %v", cfg.RecordingDir, err)
			logger.Warn(msg)
			warnings = append(warnings, msg)
		} else {
			blobs = drive
			logger.Info("recordings upload to google drive", zap.String("folder_id", cfg.GDriveFolderID))
		}
	}

	var synth speech.Synthesizer
	if cfg.DeepgramAPIKey != "" {
		synth = speech.NewDeepgram(cfg.DeepgramAPIKey, cfg.SpeechModel, logger)
	}

	srv, err := server.New(server.Deps{
		Sessions:   coord,
		Interviews: store,
		Blobs:      blobs,
		Encoder:    recording.NewEncoder(logger),
		Speech:     synth,
		Warnings:   func() []string { return warnings },
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	logger.Info("interview-room starting",
		zap.String("addr", cfg.ListenAddr),
		zap.String("model", cfg.Model),
		zap.String("db", cfg.DBPath),
	)
	err = srv.Serve(ctx, cfg.ListenAddr)
	logger.Info("interview-room stopped")
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// newModels builds the chat model and its JSON-mode grader. A client that
// cannot be built is logged and left nil.
func newModels(name string, build func(opts ...llm.Option) (llm.Client, error), logger *zap.Logger) (model, grader llm.Client) {
	var err error
	if model, err = build(); err != nil {
		logger.Warn("model unavailable, questions fall back to the default", zap.String("model", name), zap.Error(err))
		return nil, nil
	}
	if grader, err = build(llm.WithJSONOutput(), llm.WithTemperature(0.2)); err != nil {
		logger.Warn("grading model unavailable, interviews cannot be scored", zap.String("model", name), zap.Error(err))
		return model, nil
	}
	return model, grader
}
