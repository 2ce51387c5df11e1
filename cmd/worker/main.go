package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spendwise/internal/archive"
	"github.com/dvloznov/spendwise/internal/categorize"
	"github.com/dvloznov/spendwise/internal/events"
	infraBQ "github.com/dvloznov/spendwise/internal/infra/bigquery"
	"github.com/dvloznov/spendwise/internal/jobs/inmemory"
	"github.com/dvloznov/spendwise/internal/logger"
	"github.com/dvloznov/spendwise/internal/pipeline"
	"github.com/dvloznov/spendwise/internal/reconcile"
	"github.com/dvloznov/spendwise/internal/store"
	"github.com/dvloznov/spendwise/internal/store/memory"
	"github.com/dvloznov/spendwise/internal/subscriptions"
)

func main() {
	log := logger.New()

	var (
		project       = flag.String("project", os.Getenv("BQ_PROJECT"), "GCP project ID (or set BQ_PROJECT env)")
		dataset       = flag.String("dataset", envOr("BQ_DATASET", "spendwise"), "BigQuery dataset (or set BQ_DATASET env)")
		model         = flag.String("model", os.Getenv("GEMINI_MODEL"), "Gemini model name (or set GEMINI_MODEL env)")
		archiveBucket = flag.String("archive-bucket", os.Getenv("ORACLE_ARCHIVE_BUCKET"), "GCS bucket for encrypted oracle response archives (or set ORACLE_ARCHIVE_BUCKET env)")
		archiveKey    = flag.String("archive-key", os.Getenv("ORACLE_ARCHIVE_KEY"), "hex-encoded 32-byte archive encryption key (or set ORACLE_ARCHIVE_KEY env)")
		workers       = flag.Int("workers", 5, "Number of concurrent job workers")
		useMemory     = flag.Bool("memory", false, "Use the in-memory store instead of BigQuery (local development)")
	)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var stores store.Stores
	var profiles categorize.ProfileSource
	if *useMemory {
		stores = memory.New().Stores()
		log.Warn().Msg("Using in-memory store, all state is lost on exit")
	} else {
		if *project == "" {
			log.Fatal().Msg("Error: --project is required (or set BQ_PROJECT)")
		}
		bq, err := infraBQ.NewStore(ctx, *project, *dataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery store")
		}
		defer bq.Close()
		stores = bq.Stores()
		profiles = bq
	}

	var archiver categorize.ResponseArchiver
	if *archiveBucket != "" {
		key, err := archive.ParseKey(*archiveKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid archive encryption key")
		}
		gcs, err := archive.NewGCSArchiver(ctx, *archiveBucket, key)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create oracle response archiver")
		}
		defer gcs.Close()
		archiver = gcs
	}

	dispatcher := events.LogDispatcher{Log: log}
	oracle := categorize.NewGeminiOracle(*model, archiver)

	handler := pipeline.New(
		categorize.New(stores.Transactions, stores.Questions, oracle, profiles, dispatcher, categorize.DefaultConfig()),
		subscriptions.New(stores.Transactions, stores.Subscriptions, dispatcher, subscriptions.DefaultConfig()),
		reconcile.New(stores, reconcile.DefaultConfig()),
	)

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)

	if err := jobQueue.Start(ctx, handler.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().
		Int("workers", *workers).
		Bool("memory_store", *useMemory).
		Msg("Worker service started, waiting for jobs...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	log.Info().Msg("Worker service exited")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
