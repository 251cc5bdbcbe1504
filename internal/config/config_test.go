package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("APP_DB_DSN", "postgres://calsync@localhost/calsync")
	t.Setenv("APP_OIDC_ISSUER_URL", "https://issuer.example.com")
	t.Setenv("APP_OIDC_CLIENT_ID", "calsync")
	t.Setenv("APP_GOOGLE_CLIENT_ID", "google-client")
	t.Setenv("APP_GOOGLE_CLIENT_SECRET", "google-secret")
	t.Setenv("APP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	t.Setenv("APP_TRUSTED_PROXIES", "10.0.0.0/8")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.Sync.Interval != 30*time.Minute {
		t.Errorf("expected 30m interval, got %s", cfg.Sync.Interval)
	}
	if cfg.Sync.WindowDays != 90 || cfg.WindowDuration() != 90*24*time.Hour {
		t.Errorf("expected 90 day window, got %d", cfg.Sync.WindowDays)
	}
	if cfg.Sync.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Sync.Workers)
	}
	if cfg.Sync.RequestTimeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.Sync.RequestTimeout)
	}
	if cfg.Sync.ICSMaxBytes != 10<<20 {
		t.Errorf("expected 10MiB ICS limit, got %d", cfg.Sync.ICSMaxBytes)
	}
	if !cfg.Sync.SchedulerEnabled || cfg.Sync.Schedule != "@every 5m" {
		t.Errorf("unexpected scheduler defaults: %v %q", cfg.Sync.SchedulerEnabled, cfg.Sync.Schedule)
	}
	if cfg.PrometheusEnabled {
		t.Errorf("prometheus endpoint should default to disabled")
	}
	if len(cfg.EncryptionKey) != 32 {
		t.Errorf("expected decoded key")
	}
}

func TestLoadBuildsDSNFromParts(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_DB_DSN", "")
	t.Setenv("APP_DB_HOST", "db")
	t.Setenv("APP_DB_NAME", "calsync")
	t.Setenv("APP_DB_USER", "app")
	t.Setenv("APP_DB_PASSWORD", "pw")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := "postgres://app:pw@db:5432/calsync?sslmode=disable"
	if cfg.DB.DSN != want {
		t.Fatalf("expected %q, got %q", want, cfg.DB.DSN)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, wantErr string
	}{
		{"APP_ENCRYPTION_KEY", "not base64!", "base64"},
		{"APP_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")), "32 bytes"},
		{"APP_SYNC_INTERVAL", "soon", "APP_SYNC_INTERVAL"},
		{"APP_SYNC_WORKERS", "0", "APP_SYNC_WORKERS"},
		{"APP_SYNC_WINDOW_DAYS", "ninety", "APP_SYNC_WINDOW_DAYS"},
		{"APP_SYNC_SCHEDULE", "every now and then", "APP_SYNC_SCHEDULE"},
		{"APP_OIDC_CLIENT_ID", "", "APP_OIDC"},
		{"APP_GOOGLE_CLIENT_SECRET", "", "google oauth"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestScheduleNotValidatedWhenSchedulerDisabled(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_SCHEDULER_ENABLED", "false")
	t.Setenv("APP_SYNC_SCHEDULE", "bogus")
	if _, err := Load(); err != nil {
		t.Fatalf("expected disabled scheduler to skip schedule validation, got %v", err)
	}
}

func TestLoadDatabaseRequiresDSN(t *testing.T) {
	t.Setenv("APP_DB_DSN", "")
	t.Setenv("APP_DB_HOST", "")
	if _, err := LoadDatabase(); err == nil {
		t.Fatalf("expected missing database error")
	}
}

func TestGetenvList(t *testing.T) {
	t.Setenv("APP_TEST_LIST", " a, ,b ,c")
	got := getenvList("APP_TEST_LIST")
	if strings.Join(got, "|") != "a|b|c" {
		t.Fatalf("unexpected list %v", got)
	}
}

func TestLoadWorkerSkipsServerSettings(t *testing.T) {
	setRequired(t)
	t.Setenv("APP_OIDC_ISSUER_URL", "")
	t.Setenv("APP_OIDC_CLIENT_ID", "")

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("load worker: %v", err)
	}
	if cfg.Sync.Workers != 4 || len(cfg.EncryptionKey) != 32 {
		t.Fatalf("worker config incomplete: %+v", cfg.Sync)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("server config must require OIDC settings")
	}
}
