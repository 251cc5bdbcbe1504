package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jw6ventures/calsync/internal/config"
	"github.com/jw6ventures/calsync/internal/engine"
)

var syncUser string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync batch and exit",
	Long: `Run one sync batch and exit. Without --user, syncs every connection
that is due, the same selection the scheduler makes. With --user, syncs all
of that user's connections, including ones flagged for reauthorization.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVarP(&syncUser, "user", "u", "", "Sync every connection owned by this user id")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorker()
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

	_, eng, err := newSyncStack(cfg, pool)
	if err != nil {
		return err
	}

	var outcomes []engine.Outcome
	if syncUser != "" {
		outcomes, err = eng.SyncAll(ctx, syncUser)
	} else {
		outcomes, err = eng.SyncDue(ctx)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONNECTION\tPROVIDER\tSTATUS\tCHANGED")
	failed := 0
	for _, o := range outcomes {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", o.ConnectionID, o.Provider, o.Status, o.EventsChanged)
		if o.Status != engine.StatusSuccess {
			failed++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d connections did not sync", failed, len(outcomes))
	}
	return nil
}
