package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"

	"github.com/mvirta/mobwatch/internal/analyzer"
	"github.com/mvirta/mobwatch/internal/authz"
	"github.com/mvirta/mobwatch/internal/config"
	"github.com/mvirta/mobwatch/internal/handlers"
	"github.com/mvirta/mobwatch/internal/importer"
	"github.com/mvirta/mobwatch/internal/middleware"
	"github.com/mvirta/mobwatch/internal/migration"
	"github.com/mvirta/mobwatch/internal/repository"
	"github.com/mvirta/mobwatch/internal/routes"
	"github.com/mvirta/mobwatch/internal/runner"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config *config.Config
	db     *sql.DB
	runner *runner.Runner
	logger zerolog.Logger
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	if err := os.MkdirAll(cfg.Analyzer.ResultsDir, 0o755); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create results directory")
	}

	app := &application{
		config: cfg,
		db:     db,
		logger: logger,
	}
	app.runner = app.startRunner(logger)
	defer app.runner.Close()

	// Initialize the HTTP router and middleware.
	router := app.initRouter(logger)
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, logger)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter(logger zerolog.Logger) http.Handler {
	catalogRepo := repository.NewCatalogRepository(app.db)
	detectionRepo := repository.NewDetectionRepository(app.db)

	jobHandler := handlers.NewJobHandler(app.runner, logger)
	catalogHandler := handlers.NewCatalogHandler(catalogRepo, logger)
	detectionHandler := handlers.NewDetectionHandler(detectionRepo, app.config.Query.ConfidenceThreshold, logger)

	requireAdmin := authz.RequireAdmin([]byte(app.config.AdminTokenSecret))
	return routes.NewRouter(jobHandler, catalogHandler, detectionHandler, requireAdmin)
}

func (app *application) startRunner(logger zerolog.Logger) *runner.Runner {
	var (
		launcher analyzer.Launcher
		err      error
	)
	if app.config.Analyzer.UseDocker {
		launcher, err = analyzer.NewDockerLauncher(
			app.config.Analyzer.EngineImage,
			app.config.Analyzer.ContainerCPULimit,
			app.config.Analyzer.ContainerMemoryLimit,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Docker launcher")
		}
	} else {
		launcher = analyzer.NewExecLauncher(app.config.Analyzer.Command, app.config.Analyzer.ExtraArgs)
	}

	runImport := func(ctx context.Context, resultPath string, logs io.Writer) error {
		importLogger := zerolog.New(zerolog.ConsoleWriter{Out: logs, NoColor: true}).With().Timestamp().Logger()
		_, err := importer.New(app.db, app.config.Import.BatchSize, importLogger).Run(ctx, resultPath)
		return err
	}

	return runner.New(runner.Config{
		Launcher:   launcher,
		Models:     repository.NewCatalogRepository(app.db),
		Import:     runImport,
		TempDir:    app.config.Analyzer.TempDir,
		ResultsDir: app.config.Analyzer.ResultsDir,
		Conf:       app.config.Analyzer.Confidence,
		IOU:        app.config.Analyzer.IOU,
		ImageSize:  app.config.Analyzer.ImageSize,
	}, logger)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}
}
