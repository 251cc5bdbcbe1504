package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const eventColumns = `id, user_id, connection_id, title, start_at, end_at, all_day, description, location, source, source_event_id, updated_at`

// eventRepo implements EventRepository.
type eventRepo struct {
	pool DB
}

// ListForSource returns every row of one provider namespace, whichever
// connection owns it.
func (r *eventRepo) ListForSource(ctx context.Context, userID string, source Source) ([]Event, error) {
	defer observeDB(ctx, "events.list_for_source")()

	q := `SELECT ` + eventColumns + ` FROM calendar_events
WHERE user_id=$1 AND source=$2
ORDER BY start_at, id`
	return r.list(ctx, q, userID, string(source))
}

// ListRange merges every source, local included, ordered by start.
func (r *eventRepo) ListRange(ctx context.Context, userID string, from, to time.Time) ([]Event, error) {
	defer observeDB(ctx, "events.list_range")()

	q := `SELECT ` + eventColumns + ` FROM calendar_events
WHERE user_id=$1 AND start_at < $3 AND end_at >= $2
ORDER BY start_at, id`
	return r.list(ctx, q, userID, from, to)
}

func (r *eventRepo) CreateLocal(ctx context.Context, event Event) (*Event, error) {
	defer observeDB(ctx, "events.create_local")()

	if event.UserID == "" {
		return nil, errors.New("event requires a user")
	}
	if event.Start.IsZero() {
		return nil, errors.New("event requires a start time")
	}
	event.ID = uuid.NewString()
	event.Source = SourceLocal
	event.SourceEventID = ""
	event.ConnectionID = nil
	if event.End.IsZero() {
		event.End = event.Start
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = time.Now().UTC()
	}
	if _, err := r.pool.Exec(ctx, insertEventSQL, insertArgs(event)...); err != nil {
		return nil, fmt.Errorf("insert local event: %w", err)
	}
	return &event, nil
}

func (r *eventRepo) DeleteLocal(ctx context.Context, userID, id string) error {
	defer observeDB(ctx, "events.delete_local")()

	const q = `DELETE FROM calendar_events WHERE id=$1 AND user_id=$2 AND source='local'`
	tag, err := r.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("delete local event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyChangeset writes inserts, then updates, then deletes inside one
// transaction guarded by a per-connection advisory lock. Inserts upsert on the
// (user_id, source, source_event_id) identity so a replayed changeset cannot
// create duplicates.
func (r *eventRepo) ApplyChangeset(ctx context.Context, connectionID int64, cs Changeset) error {
	defer observeDB(ctx, "events.apply_changeset")()

	if cs.Empty() {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin changeset: %w", ErrPersistence, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, connectionID); err != nil {
		return fmt.Errorf("%w: lock connection %d: %w", ErrPersistence, connectionID, err)
	}

	for _, ev := range cs.Insert {
		if ev.Source == SourceLocal || ev.SourceEventID == "" {
			return fmt.Errorf("%w: refusing to insert event without provider identity", ErrPersistence)
		}
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		id := connectionID
		ev.ConnectionID = &id
		if _, err := tx.Exec(ctx, upsertEventSQL, insertArgs(ev)...); err != nil {
			return fmt.Errorf("%w: insert %s: %w", ErrPersistence, ev.SourceEventID, err)
		}
	}

	const updateSQL = `UPDATE calendar_events
SET title=$2, start_at=$3, end_at=$4, all_day=$5, description=$6, location=$7, updated_at=$8
WHERE id=$1 AND connection_id=$9 AND source <> 'local'`
	for _, ev := range cs.Update {
		if _, err := tx.Exec(ctx, updateSQL, ev.ID, ev.Title, ev.Start.Time, ev.End.Time, ev.Start.AllDay, ev.Description, ev.Location, ev.UpdatedAt, connectionID); err != nil {
			return fmt.Errorf("%w: update %s: %w", ErrPersistence, ev.SourceEventID, err)
		}
	}

	if len(cs.Delete) > 0 {
		ids := make([]string, 0, len(cs.Delete))
		for _, ev := range cs.Delete {
			ids = append(ids, ev.ID)
		}
		const deleteSQL = `DELETE FROM calendar_events WHERE connection_id=$1 AND source <> 'local' AND id = ANY($2)`
		if _, err := tx.Exec(ctx, deleteSQL, connectionID, ids); err != nil {
			return fmt.Errorf("%w: delete events: %w", ErrPersistence, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit changeset: %w", ErrPersistence, err)
	}
	return nil
}

const insertEventSQL = `INSERT INTO calendar_events (` + eventColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// upsertEventSQL never moves a row to another connection: a conflicting row
// owned by a sibling connection is left untouched.
const upsertEventSQL = insertEventSQL + `
ON CONFLICT (user_id, source, source_event_id) DO UPDATE SET
    title=EXCLUDED.title,
    start_at=EXCLUDED.start_at,
    end_at=EXCLUDED.end_at,
    all_day=EXCLUDED.all_day,
    description=EXCLUDED.description,
    location=EXCLUDED.location,
    updated_at=EXCLUDED.updated_at
WHERE calendar_events.connection_id = EXCLUDED.connection_id`

func insertArgs(ev Event) []any {
	var sourceEventID *string
	if ev.SourceEventID != "" {
		id := ev.SourceEventID
		sourceEventID = &id
	}
	return []any{
		ev.ID,
		ev.UserID,
		ev.ConnectionID,
		ev.Title,
		ev.Start.Time,
		ev.End.Time,
		ev.Start.AllDay,
		ev.Description,
		ev.Location,
		string(ev.Source),
		sourceEventID,
		ev.UpdatedAt,
	}
}

func (r *eventRepo) list(ctx context.Context, q string, args ...any) ([]Event, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev            Event
		start, end    time.Time
		allDay        bool
		source        string
		sourceEventID *string
	)
	if err := row.Scan(&ev.ID, &ev.UserID, &ev.ConnectionID, &ev.Title, &start, &end, &allDay, &ev.Description, &ev.Location, &source, &sourceEventID, &ev.UpdatedAt); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Source = Source(source)
	if sourceEventID != nil {
		ev.SourceEventID = *sourceEventID
	}
	if allDay {
		s, e := start.UTC(), end.UTC()
		ev.Start = Date(s.Year(), s.Month(), s.Day())
		ev.End = Date(e.Year(), e.Month(), e.Day())
	} else {
		ev.Start = At(start)
		ev.End = At(end)
	}
	return ev, nil
}
