package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/catalog"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/google/uuid"
)

// seedProduct is one entry of the catalog seed file.
type seedProduct struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Stock         int              `json:"stock"`
	Inactive      bool             `json:"inactive,omitempty"`
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate|seed")
	dir := flag.String("dir", "", "migrations directory (default: the set built into this binary; create writes to "+migrate.DefaultDir+")")

	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	seedFile := flag.String("file", "", "catalog seed JSON (for seed)")

	flag.Parse()

	// create/validate only touch the filesystem
	switch *cmd {
	case "create":
		if *name == "" {
			exitf("missing -name for create\n")
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name)
		if err != nil {
			exitf("failed to create migration: %v\n", err)
		}
		fmt.Println("created migration:", path)
		return

	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			exitf("migration validation failed: %v\n", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	var runner *migrate.Runner
	if *cmd != "seed" {
		runner, err = migrate.NewRunner(sqlDB, *dir)
		requireResource(ctx, logg, "migrations", err)
	}

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up":
		applied, err := runner.Up(ctx)
		if err != nil {
			exitf("%v\n", err)
		}
		fmt.Printf("applied %d migration(s)\n", applied)

	case "down":
		if err := runner.Down(ctx); err != nil {
			exitf("%v\n", err)
		}

	case "status":
		lines, err := runner.Status(ctx)
		if err != nil {
			exitf("%v\n", err)
		}
		for _, l := range lines {
			state := "pending"
			if l.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %d  %s\n", state, l.Version, l.Path)
		}

	case "version":
		if *version == "" {
			exitf("missing -version for version command\n")
		}
		if err := runner.To(ctx, *version); err != nil {
			exitf("%v\n", err)
		}

	case "seed":
		if *seedFile == "" {
			exitf("missing -file for seed\n")
		}
		products, err := loadSeed(*seedFile)
		if err != nil {
			exitf("failed to read seed file: %v\n", err)
		}
		if err := catalog.NewRepository(dbClient.DB()).Upsert(ctx, products); err != nil {
			exitf("catalog seed failed: %v\n", err)
		}
		logg.Info(ctx, fmt.Sprintf("seeded %d products", len(products)))

	default:
		exitf("unknown -cmd value: %s\n", *cmd)
	}
}

func loadSeed(path string) ([]models.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []seedProduct
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	products := make([]models.Product, 0, len(entries))
	for i, e := range entries {
		if e.Name == "" || e.Price.IsNegative() || e.Stock < 0 {
			return nil, fmt.Errorf("entry %d: name, non-negative price and stock required", i)
		}
		products = append(products, models.Product{
			ID:            e.ID,
			Name:          e.Name,
			Price:         e.Price,
			DiscountPrice: e.DiscountPrice,
			Stock:         e.Stock,
			IsActive:      !e.Inactive,
		})
	}
	return products, nil
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
