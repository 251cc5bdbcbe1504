package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

func sealedConfig(t *testing.T, userID string, cfg ConnectionConfig) []byte {
	t.Helper()
	plain, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	sealed, _ := plainSealer{}.Seal(plain, []byte(userID))
	return sealed
}

func TestConnectionCreateSealsConfig(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := ConnectionConfig{RefreshToken: "refresh", CalendarID: "primary"}
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile(`INSERT INTO calendar_connections`),
				args:   []any{"user-1", "google", sealedConfig(t, "user-1", cfg)},
				row:    []any{int64(7), created},
			},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	conn, err := repo.Create(context.Background(), Connection{UserID: "user-1", Provider: ProviderGoogle, Config: cfg})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conn.ID != 7 || !conn.CreatedAt.Equal(created) {
		t.Fatalf("unexpected connection: %+v", conn)
	}
	if conn.StatusText() != "never synced" {
		t.Fatalf("expected never synced, got %q", conn.StatusText())
	}
	pool.assertDone()
}

func TestConnectionCreateRejectsIncompleteConfig(t *testing.T) {
	repo := &connectionRepo{pool: &mockPool{t: t}, sealer: plainSealer{}}

	tests := []Connection{
		{UserID: "u", Provider: ProviderGoogle},
		{UserID: "u", Provider: ProviderICS},
		{UserID: "u", Provider: "outlook", Config: ConnectionConfig{URL: "https://x"}},
	}
	for _, tc := range tests {
		if _, err := repo.Create(context.Background(), tc); err == nil {
			t.Errorf("expected error for %+v", tc)
		}
	}
}

func TestConnectionGetByIDNotFound(t *testing.T) {
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{expect: regexp.MustCompile(`FROM calendar_connections WHERE id=\$1 AND user_id=\$2`), args: []any{int64(3), "user-1"}, err: pgx.ErrNoRows},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	_, err := repo.GetByID(context.Background(), "user-1", 3)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConnectionListDueExcludesAuthExpired(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	synced := cutoff.Add(-2 * time.Hour)
	icsCfg := ConnectionConfig{URL: "https://example.com/cal.ics"}
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile(`last_synced_at IS NULL OR last_synced_at < \$1\) AND last_status <> \$2`),
				args:   []any{cutoff, "auth_expired"},
				rows: [][]any{
					{int64(1), "user-1", "icloud_ics", sealedConfig(t, "user-1", icsCfg), nil, nil, "", "", cutoff},
					{int64(2), "user-2", "icloud_ics", []byte("garbage"), &synced, nil, "unavailable", "boom", cutoff},
					{int64(3), "user-2", "icloud_ics", sealedConfig(t, "user-2", icsCfg), &synced, &synced, "unavailable", "503", cutoff},
				},
			},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	due, err := repo.ListDue(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected unreadable row to be skipped, got %d connections", len(due))
	}
	if due[0].LastSyncedAt != nil || due[0].Config.URL != icsCfg.URL {
		t.Fatalf("unexpected first connection: %+v", due[0])
	}
	if due[1].LastSyncedAt == nil || !due[1].LastSyncedAt.Equal(synced) {
		t.Fatalf("expected last synced to be scanned, got %+v", due[1].LastSyncedAt)
	}
	if due[1].StatusText() != "sync failed, will retry" {
		t.Fatalf("unexpected status text %q", due[1].StatusText())
	}
	pool.assertDone()
}

func TestConnectionDeleteMissing(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile(`DELETE FROM calendar_connections WHERE id=\$1 AND user_id=\$2`), args: []any{int64(9), "user-1"}, tag: "DELETE 0"},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	if err := repo.Delete(context.Background(), "user-1", 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	pool.assertDone()
}

func TestConnectionUpdateConfigClearsStatus(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	oldCfg := ConnectionConfig{RefreshToken: "old"}
	newCfg := ConnectionConfig{RefreshToken: "new", CalendarID: "work"}
	pool := &mockPool{
		t: t,
		queries: []queryExpectation{
			{
				expect: regexp.MustCompile(`FROM calendar_connections WHERE id=\$1`),
				row:    []any{int64(4), "user-1", "google", sealedConfig(t, "user-1", oldCfg), nil, &now, "auth_expired", "invalid_grant", now},
			},
		},
		execs: []execExpectation{
			{
				expect: regexp.MustCompile(`SET config=\$1, last_status='', last_error=''`),
				args:   []any{sealedConfig(t, "user-1", newCfg), int64(4), "user-1"},
				tag:    "UPDATE 1",
			},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	if err := repo.UpdateConfig(context.Background(), "user-1", 4, newCfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	pool.assertDone()
}

func TestConnectionUpdateLastSyncedWrapsPersistence(t *testing.T) {
	pool := &mockPool{
		t: t,
		execs: []execExpectation{
			{expect: regexp.MustCompile(`SET last_synced_at=\$1`), err: errors.New("connection reset")},
		},
	}
	repo := &connectionRepo{pool: pool, sealer: plainSealer{}}

	err := repo.UpdateLastSynced(context.Background(), 1, time.Now())
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestStatusText(t *testing.T) {
	synced := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	tests := []struct {
		name string
		conn Connection
		want string
	}{
		{"never", Connection{}, "never synced"},
		{"success", Connection{LastSyncedAt: &synced, LastStatus: StatusSuccess}, "last synced 2024-05-06T07:08:09Z"},
		{"auth expired wins", Connection{LastSyncedAt: &synced, LastStatus: StatusAuthExpired}, "needs reauthorization"},
		{"unavailable", Connection{LastSyncedAt: &synced, LastStatus: StatusUnavailable}, "sync failed, will retry"},
		{"persistence", Connection{LastStatus: StatusPersistenceFailed}, "sync failed, will retry"},
	}
	for _, tc := range tests {
		if got := tc.conn.StatusText(); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}
