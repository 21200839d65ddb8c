package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/config"
	"csquare/marketplace/marketplace-backend/internal/database"
	"csquare/marketplace/marketplace-backend/internal/logging"
	"csquare/marketplace/marketplace-backend/internal/projects"
)

func main() {
	configPath := flag.String("config", "config.json", "path to an optional JSON config file")
	reset := flag.Bool("reset", false, "drop the companies and projects collections first")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Logging.Format = "console"

	logger, err := logging.New(cfg.Environment, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Database.URI == "" {
		logger.Fatal("MONGO_URI must be set to seed the database")
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close(ctx)

	if *reset {
		for _, name := range []string{companies.CollectionName, projects.CollectionName} {
			if err := db.Database().Collection(name).Drop(ctx); err != nil {
				logger.Fatal("Failed to drop collection", zap.String("collection", name), zap.Error(err))
			}
		}
		logger.Info("Collections dropped")
	}

	if err := companies.EnsureIndexes(ctx, db.Database()); err != nil {
		logger.Fatal("Failed to create company indexes", zap.Error(err))
	}
	if err := projects.EnsureIndexes(ctx, db.Database()); err != nil {
		logger.Fatal("Failed to create project indexes", zap.Error(err))
	}

	data, err := LoadDataset()
	if err != nil {
		logger.Fatal("Failed to load dataset", zap.Error(err))
	}

	seeder := NewSeeder(companies.NewRepository(db.Database()), projects.NewRepository(db.Database()), cfg.Security.BcryptCost, logger)
	stats, err := seeder.Run(ctx, data)
	if err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}

	logger.Info("Seeding complete",
		zap.Int("companies", stats.Companies),
		zap.Int("projects", stats.Projects),
		zap.Int("skipped", stats.Skipped))
}
