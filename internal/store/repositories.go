package store

import (
	"context"
	"time"
)

// ConnectionRepository manages external calendar connections.
type ConnectionRepository interface {
	Create(ctx context.Context, conn Connection) (*Connection, error)
	GetByID(ctx context.Context, userID string, id int64) (*Connection, error)
	ListByUser(ctx context.Context, userID string) ([]Connection, error)
	ListDue(ctx context.Context, syncedBefore time.Time) ([]Connection, error)
	UpdateConfig(ctx context.Context, userID string, id int64, cfg ConnectionConfig) error
	Delete(ctx context.Context, userID string, id int64) error
	UpdateLastSynced(ctx context.Context, id int64, at time.Time) error
	RecordAttempt(ctx context.Context, id int64, status SyncStatus, message string, at time.Time) error
}

// EventRepository handles event storage.
type EventRepository interface {
	ListForSource(ctx context.Context, userID string, source Source) ([]Event, error)
	ApplyChangeset(ctx context.Context, connectionID int64, cs Changeset) error
	ListRange(ctx context.Context, userID string, from, to time.Time) ([]Event, error)
	CreateLocal(ctx context.Context, event Event) (*Event, error)
	DeleteLocal(ctx context.Context, userID, id string) error
}
