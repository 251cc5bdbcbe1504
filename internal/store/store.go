package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool used by the repositories.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// Sealer protects connection config at rest.
type Sealer interface {
	Seal(plaintext, additionalData []byte) ([]byte, error)
	Open(sealed, additionalData []byte) ([]byte, error)
}

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool DB

	Connections ConnectionRepository
	Events      EventRepository
}

// New wires concrete repository implementations with shared connection pool.
func New(pool DB, sealer Sealer) *Store {
	return &Store{
		pool:        pool,
		Connections: &connectionRepo{pool: pool, sealer: sealer},
		Events:      &eventRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

// The methods below form the connection store consumed by the sync engine.

// GetConnections returns every connection owned by userID.
func (s *Store) GetConnections(ctx context.Context, userID string) ([]Connection, error) {
	return s.Connections.ListByUser(ctx, userID)
}

// GetDueConnections returns connections system-wide that have not synced since syncedBefore.
func (s *Store) GetDueConnections(ctx context.Context, syncedBefore time.Time) ([]Connection, error) {
	return s.Connections.ListDue(ctx, syncedBefore)
}

// GetEvents returns the stored events of one user and source across all of
// that user's connections to the provider.
func (s *Store) GetEvents(ctx context.Context, userID string, source Source) ([]Event, error) {
	return s.Events.ListForSource(ctx, userID, source)
}

// ApplyChangeset persists cs for one connection atomically.
func (s *Store) ApplyChangeset(ctx context.Context, connectionID int64, cs Changeset) error {
	return s.Events.ApplyChangeset(ctx, connectionID, cs)
}

// UpdateLastSynced advances the connection's successful sync timestamp.
func (s *Store) UpdateLastSynced(ctx context.Context, connectionID int64, at time.Time) error {
	return s.Connections.UpdateLastSynced(ctx, connectionID, at)
}

// RecordAttempt stores the outcome of a sync attempt for status display.
func (s *Store) RecordAttempt(ctx context.Context, connectionID int64, status SyncStatus, message string, at time.Time) error {
	return s.Connections.RecordAttempt(ctx, connectionID, status, message, at)
}
