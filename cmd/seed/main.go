package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/tangle-social/backend/internal/config"
	"github.com/tangle-social/backend/internal/database"
	"github.com/tangle-social/backend/internal/logger"
	"github.com/tangle-social/backend/internal/seed"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg := config.Load()
	if err := logger.Initialize(cfg.LogLevel, "tangle-seed.log"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	if err := database.Initialize(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	seeder := seed.NewSeeder(database.DB)

	switch command {
	case "dev":
		if err := seeder.SeedDev(context.Background()); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
		log.Println("Development data seeded")
	case "clean":
		if err := seeder.Clean(); err != nil {
			log.Fatalf("Clean failed: %v", err)
		}
		log.Println("Seed data removed")
	default:
		fmt.Println("Usage: seed [dev|clean]")
		fmt.Println("  dev   - Seed development database with realistic data")
		fmt.Println("  clean - Remove all data (use with caution)")
		os.Exit(1)
	}
}
