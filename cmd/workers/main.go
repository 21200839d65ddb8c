package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/config"
	"csquare/marketplace/marketplace-backend/internal/database"
	"csquare/marketplace/marketplace-backend/internal/logging"
	"csquare/marketplace/marketplace-backend/internal/projects"
	"csquare/marketplace/marketplace-backend/internal/search"
)

func main() {
	configPath := flag.String("config", "config.json", "path to an optional JSON config file")
	once := flag.Bool("once", false, "run a single reconciliation and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Service = "csquare-workers"

	logger, err := logging.New(cfg.Environment, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close(context.Background())

	var index search.Index
	if len(cfg.Search.Addresses) > 0 {
		elastic, err := search.NewElasticIndex(cfg.Search, logger)
		if err != nil {
			logger.Warn("Search reindex disabled", zap.Error(err))
		} else {
			index = elastic
		}
	}

	worker := NewReconcileWorker(
		companies.NewRepository(db.Database()),
		projects.NewRepository(db.Database()),
		index,
		cfg.Worker.BatchTimeout,
		logger,
	)

	if *once {
		worker.runOnce(ctx)
		return
	}

	if err := worker.Start(ctx, cfg.Worker.ReconcileSchedule); err != nil {
		logger.Fatal("Failed to start reconcile worker", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	worker.Stop()
	logger.Info("Reconcile worker stopped")
}
