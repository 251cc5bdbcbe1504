package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
)

const connectionColumns = `id, user_id, provider, config, last_synced_at, last_attempt_at, last_status, last_error, created_at`

// connectionRepo implements ConnectionRepository.
type connectionRepo struct {
	pool   DB
	sealer Sealer
}

func (r *connectionRepo) Create(ctx context.Context, conn Connection) (*Connection, error) {
	defer observeDB(ctx, "connections.create")()

	if !conn.Provider.Valid() {
		return nil, fmt.Errorf("unknown provider %q", conn.Provider)
	}
	if err := conn.Config.Validate(conn.Provider); err != nil {
		return nil, err
	}
	sealed, err := r.seal(conn.UserID, conn.Config)
	if err != nil {
		return nil, err
	}

	const q = `INSERT INTO calendar_connections (user_id, provider, config)
VALUES ($1, $2, $3)
RETURNING id, created_at`
	created := conn
	if err := r.pool.QueryRow(ctx, q, conn.UserID, string(conn.Provider), sealed).Scan(&created.ID, &created.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert connection: %w", err)
	}
	created.LastSyncedAt = nil
	created.LastAttemptAt = nil
	created.LastStatus = StatusNever
	created.LastError = ""
	return &created, nil
}

func (r *connectionRepo) GetByID(ctx context.Context, userID string, id int64) (*Connection, error) {
	defer observeDB(ctx, "connections.get")()

	q := `SELECT ` + connectionColumns + ` FROM calendar_connections WHERE id=$1 AND user_id=$2`
	conn, err := r.scan(r.pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepo) ListByUser(ctx context.Context, userID string) ([]Connection, error) {
	defer observeDB(ctx, "connections.list_by_user")()

	q := `SELECT ` + connectionColumns + ` FROM calendar_connections WHERE user_id=$1 ORDER BY id`
	return r.list(ctx, q, userID)
}

// ListDue skips connections waiting for reauthorization; those are only
// retried on explicit user request.
func (r *connectionRepo) ListDue(ctx context.Context, syncedBefore time.Time) ([]Connection, error) {
	defer observeDB(ctx, "connections.list_due")()

	q := `SELECT ` + connectionColumns + ` FROM calendar_connections
WHERE (last_synced_at IS NULL OR last_synced_at < $1) AND last_status <> $2
ORDER BY last_synced_at NULLS FIRST, id`
	return r.list(ctx, q, syncedBefore, string(StatusAuthExpired))
}

func (r *connectionRepo) UpdateConfig(ctx context.Context, userID string, id int64, cfg ConnectionConfig) error {
	defer observeDB(ctx, "connections.update_config")()

	existing, err := r.GetByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := cfg.Validate(existing.Provider); err != nil {
		return err
	}
	sealed, err := r.seal(userID, cfg)
	if err != nil {
		return err
	}

	// A fresh credential clears any reauthorization flag.
	const q = `UPDATE calendar_connections SET config=$1, last_status='', last_error='' WHERE id=$2 AND user_id=$3`
	tag, err := r.pool.Exec(ctx, q, sealed, id, userID)
	if err != nil {
		return fmt.Errorf("update connection config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the connection; its events are removed by the foreign key cascade.
func (r *connectionRepo) Delete(ctx context.Context, userID string, id int64) error {
	defer observeDB(ctx, "connections.delete")()

	const q = `DELETE FROM calendar_connections WHERE id=$1 AND user_id=$2`
	tag, err := r.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionRepo) UpdateLastSynced(ctx context.Context, id int64, at time.Time) error {
	defer observeDB(ctx, "connections.update_last_synced")()

	const q = `UPDATE calendar_connections SET last_synced_at=$1 WHERE id=$2`
	tag, err := r.pool.Exec(ctx, q, at, id)
	if err != nil {
		return fmt.Errorf("%w: update last synced: %w", ErrPersistence, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *connectionRepo) RecordAttempt(ctx context.Context, id int64, status SyncStatus, message string, at time.Time) error {
	defer observeDB(ctx, "connections.record_attempt")()

	const q = `UPDATE calendar_connections SET last_status=$1, last_error=$2, last_attempt_at=$3 WHERE id=$4`
	if _, err := r.pool.Exec(ctx, q, string(status), message, at, id); err != nil {
		return fmt.Errorf("record sync attempt: %w", err)
	}
	return nil
}

func (r *connectionRepo) list(ctx context.Context, q string, args ...any) ([]Connection, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var result []Connection
	for rows.Next() {
		conn, err := r.scan(rows)
		if err != nil {
			if errors.Is(err, errUnreadableConfig) {
				log.Printf("[ERROR] skipping connection: %v", err)
				continue
			}
			return nil, err
		}
		result = append(result, *conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return result, nil
}

var errUnreadableConfig = errors.New("unreadable connection config")

func (r *connectionRepo) scan(row pgx.Row) (*Connection, error) {
	var (
		conn     Connection
		provider string
		status   string
		sealed   []byte
	)
	if err := row.Scan(&conn.ID, &conn.UserID, &provider, &sealed, &conn.LastSyncedAt, &conn.LastAttemptAt, &status, &conn.LastError, &conn.CreatedAt); err != nil {
		return nil, err
	}
	conn.Provider = ProviderKind(provider)
	conn.LastStatus = SyncStatus(status)

	cfg, err := r.open(conn.UserID, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: connection %d: %v", errUnreadableConfig, conn.ID, err)
	}
	conn.Config = cfg
	return &conn, nil
}

func (r *connectionRepo) seal(userID string, cfg ConnectionConfig) ([]byte, error) {
	plain, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode connection config: %w", err)
	}
	sealed, err := r.sealer.Seal(plain, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("seal connection config: %w", err)
	}
	return sealed, nil
}

func (r *connectionRepo) open(userID string, sealed []byte) (ConnectionConfig, error) {
	var cfg ConnectionConfig
	plain, err := r.sealer.Open(sealed, []byte(userID))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(plain, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
