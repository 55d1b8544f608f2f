// Standalone entry point for the ingestion phase: imports one analyzer
// output file into the store, exactly as the server's Phase 2 does.
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/config"
	"github.com/mvirta/mobwatch/internal/importer"
	"github.com/mvirta/mobwatch/internal/migration"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	if len(os.Args) != 2 {
		logger.Fatal().Msgf("usage: %s <detection_file>", os.Args[0])
	}

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	migration.RunMigrations(cfg.DatabaseURL, logger)

	summary, err := importer.New(db, cfg.Import.BatchSize, logger).Run(context.Background(), os.Args[1])
	if err != nil {
		logger.Fatal().Err(err).Msg("Import failed")
	}

	logger.Info().
		Int64("video_id", summary.VideoID).
		Int64("model_id", summary.ModelID).
		Int64("rows", summary.Rows).
		Msg("Import succeeded")
}
