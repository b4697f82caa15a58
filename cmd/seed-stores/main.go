package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/fiscusdev/grocery-price-scraper/internal/config"
	"github.com/fiscusdev/grocery-price-scraper/internal/database"
	"github.com/fiscusdev/grocery-price-scraper/internal/models"
)

// seed-stores loads the store catalog from a JSON file and upserts it.
// Safe to re-run: stores are matched on external_store_id.
func main() {
	var file string
	flag.StringVar(&file, "file", "stores.json", "path to the store catalog JSON file")
	flag.Parse()

	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		logger.Error("failed to read store catalog", "file", file, "error", err)
		os.Exit(1)
	}

	var stores []models.Store
	if err := json.Unmarshal(data, &stores); err != nil {
		logger.Error("failed to parse store catalog", "file", file, "error", err)
		os.Exit(1)
	}
	if len(stores) == 0 {
		logger.Error("store catalog is empty", "file", file)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Name,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnLife: cfg.Database.MaxConnLife,
		MaxConnIdle: cfg.Database.MaxConnIdle,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	seeded := 0
	for i := range stores {
		s := &stores[i]
		if s.ChainName == "" || s.ExternalStoreID == "" {
			logger.Warn("skipping store without chain or external id", "address", s.Address)
			continue
		}
		// Catalog entries are active; closures go through DeactivateStore.
		s.IsActive = true
		if err := db.UpsertStore(ctx, s); err != nil {
			logger.Error("failed to upsert store",
				"chain", s.ChainName, "external_store_id", s.ExternalStoreID, "error", err)
			os.Exit(1)
		}
		seeded++
	}

	logger.Info("store catalog seeded", "file", file, "count", seeded)
}
