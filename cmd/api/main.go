package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/statement-analyzer/internal/api/handlers"
	"github.com/dvloznov/statement-analyzer/internal/api/middleware"
	"github.com/dvloznov/statement-analyzer/internal/chunker"
	"github.com/dvloznov/statement-analyzer/internal/config"
	infraBQ "github.com/dvloznov/statement-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/statement-analyzer/internal/jobs"
	"github.com/dvloznov/statement-analyzer/internal/jobs/inmemory"
	"github.com/dvloznov/statement-analyzer/internal/llm"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/metrics"
	"github.com/dvloznov/statement-analyzer/internal/notionsync"
	"github.com/dvloznov/statement-analyzer/internal/pipeline"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	log.Info().Object("config", cfg).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server exited")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	metrics.Init()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close resource")
			}
		}
	}()

	tokenizer, err := chunker.NewTiktoken(cfg.Pipeline.Encoding)
	if err != nil {
		return err
	}

	// Run auditing is optional.
	var recorder *infraBQ.RunRecorder
	if cfg.BigQuery.ProjectID != "" {
		recorder, err = infraBQ.NewRunRecorder(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.Dataset)
		if err != nil {
			return fmt.Errorf("creating run recorder: %w", err)
		}
		closers = append(closers, recorder)
		log.Info().Str("project", cfg.BigQuery.ProjectID).Str("dataset", cfg.BigQuery.Dataset).Msg("Run auditing enabled")
	}

	engineCfg := pipeline.EngineConfig{
		Factory:       llm.NewGeminiFactory(cfg.Model.Name, cfg.Model.Timeout),
		Tokenizer:     tokenizer,
		ChunkTokens:   cfg.Pipeline.ChunkTokens,
		Gate:          llm.NewGate(cfg.Pipeline.ThrottleInterval, cfg.Pipeline.ThrottleBurst),
		Budget:        cfg.Pipeline.Budget,
		Observe:       metrics.ObserveModelCall,
		DefaultAPIKey: cfg.Model.APIKey,
		Logger:        log,
	}
	if recorder != nil {
		engineCfg.Recorder = recorder
	}
	engine, err := pipeline.NewEngine(engineCfg)
	if err != nil {
		return err
	}

	stores, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	closers = append(closers, stores)
	log.Info().Str("backend", cfg.Store.Backend).Msg("Analyses store opened")

	var publisher handlers.AnalysisPublisher
	if cfg.Notion.Token != "" && cfg.Notion.DatabaseID != "" {
		publisher = notionsync.NewPublisher(notionsync.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, log)
		log.Info().Msg("Notion publishing enabled")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, jobStore,
		inmemory.WithWorkers(cfg.Jobs.Workers),
		inmemory.WithMaxRetries(cfg.Jobs.MaxRetries),
		inmemory.WithLogger(log),
	)
	jobHandler := jobs.NewProcessStatementsHandler(engine.Process, jobStore, log)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	if err := jobQueue.Start(workerCtx, jobHandler); err != nil {
		return fmt.Errorf("starting job queue: %w", err)
	}
	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Job workers started")

	routes := handlers.Routes{
		Statements: handlers.NewStatementsHandler(engine, stores.Uploads, cfg.Server.MaxUploadMB<<20, log),
		Documents:  handlers.NewDocumentsHandler(engine, log),
		Analyses:   handlers.NewAnalysesHandler(stores.Analyses, engine, publisher, log),
		Jobs:       handlers.NewJobsHandler(engine, jobQueue, jobStore, log),
		Metrics:    metrics.Handler(),
	}
	if recorder != nil {
		routes.Runs = handlers.NewRunsHandler(recorder, log)
	}
	mux := handlers.NewRouter(routes)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(
					middleware.Auth(cfg.Auth.JWTSecret, "/health", "/metrics")(
						middleware.Metrics(mux),
					),
				),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Server.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)

		// Let in-flight jobs finish before cancelling the workers.
		if stopErr := jobQueue.Stop(shutdownCtx); stopErr != nil {
			log.Error().Err(stopErr).Msg("Error stopping job queue")
			cancelWorkers()
		}
		return err
	})

	return g.Wait()
}
