// Package scheduler triggers background sync runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jw6ventures/calsync/internal/engine"
)

// Syncer runs one batch over the connections that are due.
type Syncer interface {
	SyncDue(ctx context.Context) ([]engine.Outcome, error)
}

// Scheduler calls Syncer.SyncDue on a schedule. Runs never overlap: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	syncer Syncer
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard cron or @every descriptors) and prepares a
// scheduler. Nothing runs until Start.
func New(spec string, syncer Syncer) (*Scheduler, error) {
	logger := cron.PrintfLogger(log.New(log.Writer(), "[INFO] scheduler: ", log.LstdFlags))
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, spec: spec, syncer: syncer, ctx: ctx, cancel: cancel}
	if _, err := c.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins firing on schedule.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Printf("[INFO] scheduler started: %s", s.spec)
}

// Stop cancels any in-flight run and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		log.Printf("[INFO] scheduler stopped")
	case <-ctx.Done():
		log.Printf("[WARN] scheduler stop timed out: %v", ctx.Err())
	}
}

// RunOnce performs one batch and logs a summary.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	outcomes, err := s.syncer.SyncDue(ctx)
	if err != nil {
		log.Printf("[ERROR] scheduled sync: %v", err)
		return
	}
	if len(outcomes) == 0 {
		return
	}
	log.Printf("[INFO] scheduled sync finished in %s: %s", time.Since(start).Round(time.Millisecond), summarize(outcomes))
}

// summarize renders outcome counts per status, e.g. "success=3 unavailable=1".
func summarize(outcomes []engine.Outcome) string {
	counts := make(map[engine.Status]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	keys := make([]string, 0, len(counts))
	for status := range counts {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[engine.Status(k)])
	}
	return strings.Join(parts, " ")
}
