package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lgulliver/webglpub/pkg/config"
	"github.com/lgulliver/webglpub/pkg/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	var (
		up     = flag.Bool("up", false, "Run pending migrations")
		down   = flag.Bool("down", false, "Roll back the last migration")
		status = flag.Bool("status", false, "Show which migrations have been applied")
	)
	flag.Parse()

	if !*up && !*down && !*status {
		fmt.Printf("Usage: %s [-up | -down | -status]\n", os.Args[0])
		fmt.Println("  -up      Run pending migrations")
		fmt.Println("  -down    Roll back the last migration")
		fmt.Println("  -status  Show which migrations have been applied")
		os.Exit(1)
	}

	cfg := config.LoadFromEnv()
	cfg.Logging.SetupLogging()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	migrator, err := migrate.NewMigrator(ctx, &cfg.Database, migrationsFS, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer migrator.Close()

	switch {
	case *up:
		count, err := migrator.Up(ctx)
		if err != nil {
			log.Fatal().Err(err).Int("applied", count).Msg("Failed to run migrations")
		}
		log.Info().Int("applied", count).Msg("Migrations completed successfully")
	case *down:
		if err := migrator.Down(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to roll back migration")
		}
		log.Info().Msg("Rollback completed successfully")
	case *status:
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migration status")
		}
		for _, s := range statuses {
			applied := "pending"
			if s.AppliedAt != nil {
				applied = s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Printf("%03d  %-30s  %s\n", s.Version, s.Name, applied)
		}
	}
}
