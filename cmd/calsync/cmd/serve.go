package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jw6ventures/calsync/internal/api"
	"github.com/jw6ventures/calsync/internal/auth"
	"github.com/jw6ventures/calsync/internal/config"
	httpserver "github.com/jw6ventures/calsync/internal/http"
	"github.com/jw6ventures/calsync/internal/scheduler"
	"github.com/jw6ventures/calsync/internal/store"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background sync scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting calsync server...")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateOnStart {
		if err := store.ApplyMigrations(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	st, eng, err := newSyncStack(cfg, pool)
	if err != nil {
		return err
	}

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
	if err != nil {
		return err
	}

	var sched *scheduler.Scheduler
	if cfg.Sync.SchedulerEnabled {
		sched, err = scheduler.New(cfg.Sync.Schedule, eng)
		if err != nil {
			return err
		}
		sched.Start()
	}

	apiHandler := api.NewHandler(st.Events, st.Connections, eng, api.Options{
		WindowDays:         cfg.Sync.WindowDays,
		SyncWorkers:        cfg.Sync.Workers,
		SyncRequestTimeout: cfg.Sync.RequestTimeout,
	})
	router := httpserver.NewRouter(cfg, st, apiHandler, verifier)
	defer router.Close()

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Sync endpoints extend their own write deadline from the
		// connection count and worker limit.
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	return nil
}
