package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velora/dropgate/dropgate"
	"github.com/velora/dropgate/dropgate/database"
	"github.com/velora/dropgate/dropgate/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	customHandler := logger.NewHandler()
	slog.SetDefault(slog.New(customHandler))

	slog.Info("Starting DropGate allocation engine",
		slog.String("version", version),
		slog.String("commit", commit))

	shouldSweepOnStart := flag.Bool("sweep-on-start", false, "Run an expiry sweep immediately on startup")
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := dropgate.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}
	// Re-install the handler at the configured level now that we know it.
	slog.SetDefault(slog.New(logger.NewHandlerWithLevel(cfg.Log.SlogLevel())))
	slog.Info("Configuration loaded successfully")

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}

	app := dropgate.New(*cfg, version, commit)
	app.DB = db
	app.SetupEngine()

	// The seed is computed once here; every scorer and claim-code caller
	// reads the same cached value for the life of the process.
	seed := app.Seed.Generate()
	slog.Info("Allocation engine ready",
		slog.String("seed", seed.Seed))

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	app.ClaimRepository.StartCleanupRoutine(sweepCtx, app.SweepInterval())

	if *shouldSweepOnStart {
		updated, err := app.Engine.CleanupExpiredClaims(ctx)
		if err != nil {
			slog.Error("Startup expiry sweep failed", slog.Any("error", err))
		} else {
			slog.Info("Startup expiry sweep complete", slog.Int64("expired", updated))
		}
	}

	slog.Info("DropGate is running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s
	slog.Info("Shutting down...")
}
