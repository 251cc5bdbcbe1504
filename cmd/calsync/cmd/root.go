package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/jw6ventures/calsync/internal/config"
	"github.com/jw6ventures/calsync/internal/engine"
	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/provider/google"
	"github.com/jw6ventures/calsync/internal/provider/ics"
	"github.com/jw6ventures/calsync/internal/secret"
	"github.com/jw6ventures/calsync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "calsync",
	Short: "Sync Google Calendar and ICS feeds into one event store",
	Long: `calsync pulls events from linked Google calendars and published ICS
feeds, reconciles them against what it stored last time, and serves the
merged result over a small authenticated API.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd)
}

func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pool, nil
}

// newSyncStack builds the store and sync engine shared by serve and sync.
func newSyncStack(cfg *config.Config, pool *pgxpool.Pool) (*store.Store, *engine.Engine, error) {
	sealer, err := secret.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(pool, sealer)

	client := &http.Client{Timeout: cfg.Sync.RequestTimeout}
	adapters := provider.NewRegistry(
		google.New(google.Options{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Endpoint:     cfg.Google.Endpoint,
			HTTPClient:   client,
		}),
		ics.New(ics.Options{
			HTTPClient: client,
			MaxBytes:   cfg.Sync.ICSMaxBytes,
		}),
	)

	eng := engine.New(st, adapters, engine.Options{
		Workers:        cfg.Sync.Workers,
		RequestTimeout: cfg.Sync.RequestTimeout,
		WindowDays:     cfg.Sync.WindowDays,
		Interval:       cfg.Sync.Interval,
	})
	log.Printf("[INFO] sync engine ready: workers=%d window=%s interval=%s", cfg.Sync.Workers, cfg.WindowDuration(), cfg.Sync.Interval)
	return st, eng, nil
}
