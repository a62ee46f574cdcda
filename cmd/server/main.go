package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fifoshop/backend/internal/config"
	"fifoshop/backend/internal/logger"
	"fifoshop/backend/internal/store"
	"fifoshop/backend/internal/store/memory"
	pgstore "fifoshop/backend/internal/store/postgres"
)

var version = "0.1.0"

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	cfg := config.Load()
	if err := logger.Setup(cfg.LoggerConfig()); err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	if err := newRootCmd(cfg).Execute(); err != nil {
		logger.WithComponent("cmd").Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "fifoshop",
		Short:         "FIFO inventory and sales backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(cfg), newMigrateCmd(cfg), newUserCmd(cfg))
	return root
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// openRepository picks postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. The returned close func is never nil.
func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	log := logger.WithComponent("main")
	if cfg.DatabaseURL == "" {
		log.Info().Str("repository", "memory").Msg("repository selected")
		return memory.NewSeeded(cfg.DefaultShopName), func() error { return nil }, nil
	}

	pg, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
	}
	log.Info().Str("repository", "postgres").Msg("repository selected")
	return pg, pg.Close, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*pgstore.Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return pgstore.New(connectCtx, cfg.DatabaseURL)
}
