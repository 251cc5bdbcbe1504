// Package engine runs provider syncs for calendar connections and persists
// the reconciled result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jw6ventures/calsync/internal/metrics"
	"github.com/jw6ventures/calsync/internal/provider"
	"github.com/jw6ventures/calsync/internal/reconcile"
	"github.com/jw6ventures/calsync/internal/store"
)

// Store is the persistence the engine depends on.
type Store interface {
	GetConnections(ctx context.Context, userID string) ([]store.Connection, error)
	GetDueConnections(ctx context.Context, syncedBefore time.Time) ([]store.Connection, error)
	GetEvents(ctx context.Context, userID string, source store.Source) ([]store.Event, error)
	ApplyChangeset(ctx context.Context, connectionID int64, cs store.Changeset) error
	UpdateLastSynced(ctx context.Context, connectionID int64, at time.Time) error
	RecordAttempt(ctx context.Context, connectionID int64, status store.SyncStatus, message string, at time.Time) error
}

// Status is the result of syncing one connection.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusAuthExpired       Status = "authExpired"
	StatusUnavailable       Status = "unavailable"
	StatusMalformed         Status = "malformed"
	StatusPersistenceFailed Status = "persistenceFailed"
	StatusCancelled         Status = "cancelled"
)

// Outcome reports what happened to one connection during a run.
type Outcome struct {
	ConnectionID  int64              `json:"connectionId"`
	Provider      store.ProviderKind `json:"provider"`
	Status        Status             `json:"status"`
	EventsChanged int                `json:"eventsChanged"`
	Err           error              `json:"-"`
}

// Options tunes a sync run.
type Options struct {
	// Workers bounds how many connections sync at once.
	Workers int
	// RequestTimeout bounds each provider fetch.
	RequestTimeout time.Duration
	// WindowDays is the forward fetch horizon.
	WindowDays int
	// Interval is how stale a connection must be for SyncDue to pick it.
	Interval time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

const (
	defaultWorkers        = 4
	defaultRequestTimeout = 30 * time.Second
	defaultInterval       = 30 * time.Minute
)

// Engine is the sync orchestrator.
type Engine struct {
	store    Store
	adapters *provider.Registry
	opts     Options
}

// New creates an Engine.
func New(st Store, adapters *provider.Registry, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = provider.DefaultWindowDays
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{store: st, adapters: adapters, opts: opts}
}

// SyncAll syncs every connection owned by userID. The returned error only
// reports a failure to list connections; per-connection failures are in the
// outcomes.
func (e *Engine) SyncAll(ctx context.Context, userID string) ([]Outcome, error) {
	conns, err := e.store.GetConnections(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections for user: %w", err)
	}
	return e.run(ctx, conns), nil
}

// SyncDue syncs connections system-wide whose last success is older than the
// configured interval.
func (e *Engine) SyncDue(ctx context.Context) ([]Outcome, error) {
	conns, err := e.store.GetDueConnections(ctx, e.opts.Now().Add(-e.opts.Interval))
	if err != nil {
		return nil, fmt.Errorf("list due connections: %w", err)
	}
	if len(conns) == 0 {
		return nil, nil
	}
	log.Printf("[INFO] sync run: %d connections due", len(conns))
	return e.run(ctx, conns), nil
}

// run syncs conns with bounded concurrency. Outcomes keep the input order.
func (e *Engine) run(ctx context.Context, conns []store.Connection) []Outcome {
	outcomes := make([]Outcome, len(conns))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			outcomes[i] = e.SyncConnection(ctx, conn)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// SyncConnection fetches, reconciles, and persists one connection. Fetch,
// reconcile, and persist run strictly in sequence. A cancelled ctx before
// persistence leaves stored events and lastSyncedAt unchanged.
func (e *Engine) SyncConnection(ctx context.Context, conn store.Connection) Outcome {
	start := time.Now()
	now := e.opts.Now()
	out := Outcome{ConnectionID: conn.ID, Provider: conn.Provider}

	cs, err := e.fetchAndReconcile(ctx, conn, now)
	if err != nil {
		out.Status, out.Err = classify(ctx, err), err
		return e.finish(ctx, conn, out, start, now)
	}

	if err := ctx.Err(); err != nil {
		out.Status, out.Err = StatusCancelled, err
		return e.finish(ctx, conn, out, start, now)
	}

	if err := e.store.ApplyChangeset(ctx, conn.ID, cs); err != nil {
		out.Status, out.Err = StatusPersistenceFailed, err
		if ctx.Err() != nil {
			out.Status = StatusCancelled
		}
		return e.finish(ctx, conn, out, start, now)
	}

	// The changeset is committed; bookkeeping completes even if the caller
	// has gone away.
	bookCtx := context.WithoutCancel(ctx)
	if err := e.store.UpdateLastSynced(bookCtx, conn.ID, now); err != nil {
		out.Status, out.Err = StatusPersistenceFailed, err
		out.EventsChanged = cs.Len()
		return e.finish(bookCtx, conn, out, start, now)
	}

	out.Status = StatusSuccess
	out.EventsChanged = cs.Len()
	provKind := string(conn.Provider)
	metrics.AddEventsChanged(provKind, "insert", len(cs.Insert))
	metrics.AddEventsChanged(provKind, "update", len(cs.Update))
	metrics.AddEventsChanged(provKind, "delete", len(cs.Delete))
	return e.finish(bookCtx, conn, out, start, now)
}

func (e *Engine) fetchAndReconcile(ctx context.Context, conn store.Connection, now time.Time) (store.Changeset, error) {
	if err := ctx.Err(); err != nil {
		return store.Changeset{}, err
	}
	adapter, err := e.adapters.Lookup(conn.Provider)
	if err != nil {
		return store.Changeset{}, provider.Malformed(conn.Provider, err)
	}

	window := provider.WindowFrom(now, e.opts.WindowDays)
	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	fetched, err := adapter.Fetch(fetchCtx, conn, window)
	cancel()
	if err != nil {
		return store.Changeset{}, err
	}

	stored, err := e.store.GetEvents(ctx, conn.UserID, conn.Provider.Source())
	if err != nil {
		return store.Changeset{}, fmt.Errorf("%w: load stored events: %w", store.ErrPersistence, err)
	}
	return reconcile.Reconcile(reconcile.ScopeOf(conn), stored, fetched, window, now), nil
}

// classify maps a failure before persistence onto an outcome status.
func classify(ctx context.Context, err error) Status {
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return StatusCancelled
	case errors.Is(err, provider.ErrAuthExpired):
		return StatusAuthExpired
	case errors.Is(err, provider.ErrMalformedPayload):
		return StatusMalformed
	case errors.Is(err, provider.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return StatusUnavailable
	case errors.Is(err, store.ErrPersistence):
		return StatusPersistenceFailed
	}
	// Adapters are expected to classify their own errors.
	return StatusUnavailable
}

// finish records, logs, and measures the outcome. Malformed payloads and
// cancellations leave connection state untouched.
func (e *Engine) finish(ctx context.Context, conn store.Connection, out Outcome, start, now time.Time) Outcome {
	metrics.ObserveSync(string(conn.Provider), string(out.Status), start)

	if out.Err != nil {
		log.Printf("[WARN] sync connection=%d provider=%s status=%s changed=%d: %v", conn.ID, conn.Provider, out.Status, out.EventsChanged, out.Err)
	} else {
		log.Printf("[INFO] sync connection=%d provider=%s status=%s changed=%d", conn.ID, conn.Provider, out.Status, out.EventsChanged)
	}

	status, record := storedStatus(out.Status)
	if !record {
		return out
	}
	message := ""
	if out.Err != nil {
		message = out.Err.Error()
	}
	if err := e.store.RecordAttempt(context.WithoutCancel(ctx), conn.ID, status, message, now); err != nil {
		log.Printf("[ERROR] sync connection=%d: record attempt: %v", conn.ID, err)
	}
	return out
}

func storedStatus(s Status) (store.SyncStatus, bool) {
	switch s {
	case StatusSuccess:
		return store.StatusSuccess, true
	case StatusAuthExpired:
		return store.StatusAuthExpired, true
	case StatusUnavailable:
		return store.StatusUnavailable, true
	case StatusPersistenceFailed:
		return store.StatusPersistenceFailed, true
	}
	return store.StatusNever, false
}
