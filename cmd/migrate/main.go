package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-analyzer/internal/config"
	"github.com/dvloznov/statement-analyzer/internal/logger"
	"github.com/dvloznov/statement-analyzer/internal/store"
)

const (
	targetBigQuery = "bigquery"
	targetPostgres = "postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var (
		target    = flag.String("target", targetPostgres, "Migration target: postgres or bigquery")
		projectID = flag.String("project", cfg.BigQuery.ProjectID, "GCP project ID (bigquery target)")
		datasetID = flag.String("dataset", cfg.BigQuery.Dataset, "BigQuery dataset ID")
		dsn       = flag.String("dsn", cfg.Store.PostgresDSN, "Postgres DSN (postgres target)")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	)
	flag.Parse()

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format).With().Str("target", *target).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var (
		migrator     Migrator
		placeholders map[string]string
	)
	switch *target {
	case targetBigQuery:
		if *projectID == "" {
			log.Fatal().Msg("-project flag (or BQ_PROJECT) is required for the bigquery target")
		}
		client, err := bigquery.NewClient(ctx, *projectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		defer client.Close()

		migrator = &bigqueryMigrator{client: client, project: *projectID, dataset: *datasetID}
		placeholders = map[string]string{"PROJECT_ID": *projectID, "DATASET_ID": *datasetID}
		log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	case targetPostgres:
		if *dsn == "" {
			log.Fatal().Msg("-dsn flag (or DATABASE_URL) is required for the postgres target")
		}
		db, err := store.OpenPostgres(ctx, *dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		defer db.Close()

		migrator = &postgresMigrator{db: db}
		log.Info().Msg("Connected to Postgres")

	default:
		log.Fatal().Msgf("Unknown target %q", *target)
	}

	if err := migrate(ctx, migrator, *target, placeholders, *appliedBy, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func migrate(ctx context.Context, m Migrator, target string, placeholders map[string]string, appliedBy string, log zerolog.Logger) error {
	migrations, err := readMigrations(migrationFiles, "migrations/"+target, placeholders, log)
	if err != nil {
		return err
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	count, err := applyPending(ctx, m, migrations, appliedBy, log)
	if err != nil {
		return err
	}
	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
	return nil
}
