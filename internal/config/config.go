package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	ListenAddr string

	DB struct {
		DSN string
	}

	// OIDC verifies bearer ID tokens on the API.
	OIDC struct {
		IssuerURL string
		ClientID  string
	}

	// Google holds the OAuth client used to exchange stored refresh tokens.
	Google struct {
		ClientID     string
		ClientSecret string
		// Endpoint overrides the Calendar API base URL; empty uses Google's.
		Endpoint string
	}

	EncryptionKey []byte

	Sync struct {
		Interval         time.Duration
		Schedule         string
		WindowDays       int
		Workers          int
		RequestTimeout   time.Duration
		ICSMaxBytes      int64
		SchedulerEnabled bool
	}

	PrometheusEnabled bool
	TrustedProxies    []string
}

// Load reads configuration for the HTTP server from APP_* environment
// variables.
func Load() (*Config, error) {
	cfg, err := LoadWorker()
	if err != nil {
		return nil, err
	}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.OIDC.IssuerURL = os.Getenv("APP_OIDC_ISSUER_URL")
	cfg.OIDC.ClientID = os.Getenv("APP_OIDC_CLIENT_ID")
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.OIDC.IssuerURL == "" || cfg.OIDC.ClientID == "" {
		return nil, errors.New("APP_OIDC_ISSUER_URL and APP_OIDC_CLIENT_ID are required")
	}

	if len(cfg.TrustedProxies) == 0 {
		log.Printf("[WARN] No APP_TRUSTED_PROXIES configured. calsync will trust all proxies - Not recommended for public environments.")
	}

	return cfg, nil
}

// LoadWorker reads what a one-shot sync run needs: database, provider
// credentials, the encryption key, and sync tuning.
func LoadWorker() (*Config, error) {
	cfg, err := LoadDatabase()
	if err != nil {
		return nil, err
	}

	cfg.Google.ClientID = os.Getenv("APP_GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = os.Getenv("APP_GOOGLE_CLIENT_SECRET")
	cfg.Google.Endpoint = os.Getenv("APP_GOOGLE_API_ENDPOINT")

	if cfg.Sync.Interval, err = getenvDuration("APP_SYNC_INTERVAL", 30*time.Minute); err != nil {
		return nil, err
	}
	cfg.Sync.Schedule = getenvDefault("APP_SYNC_SCHEDULE", "@every 5m")
	if cfg.Sync.WindowDays, err = getenvInt("APP_SYNC_WINDOW_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.Sync.Workers, err = getenvInt("APP_SYNC_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.Sync.RequestTimeout, err = getenvDuration("APP_SYNC_REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	maxBytes, err := getenvInt("APP_ICS_MAX_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	cfg.Sync.ICSMaxBytes = int64(maxBytes)
	cfg.Sync.SchedulerEnabled = getenvBool("APP_SCHEDULER_ENABLED", true)

	if cfg.Google.ClientID == "" || cfg.Google.ClientSecret == "" {
		return nil, errors.New("google oauth configuration is required: APP_GOOGLE_CLIENT_ID and APP_GOOGLE_CLIENT_SECRET")
	}
	if err := cfg.loadEncryptionKey(); err != nil {
		return nil, err
	}
	if err := cfg.validateSync(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads only what the migrate command needs.
func LoadDatabase() (*Config, error) {
	cfg := &Config{}
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	return cfg, nil
}

// WindowDuration returns the forward fetch window.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.Sync.WindowDays) * 24 * time.Hour
}

func (c *Config) loadEncryptionKey() error {
	raw := os.Getenv("APP_ENCRYPTION_KEY")
	if raw == "" {
		return errors.New("APP_ENCRYPTION_KEY is required (base64 encoded, 32 bytes)")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("APP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("APP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	c.EncryptionKey = key
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval <= 0 {
		return errors.New("APP_SYNC_INTERVAL must be positive")
	}
	if c.Sync.WindowDays < 1 {
		return fmt.Errorf("APP_SYNC_WINDOW_DAYS must be at least 1 (got %d)", c.Sync.WindowDays)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("APP_SYNC_WORKERS must be at least 1 (got %d)", c.Sync.Workers)
	}
	if c.Sync.RequestTimeout <= 0 {
		return errors.New("APP_SYNC_REQUEST_TIMEOUT must be positive")
	}
	if c.Sync.ICSMaxBytes <= 0 {
		return errors.New("APP_ICS_MAX_BYTES must be positive")
	}
	if c.Sync.SchedulerEnabled {
		if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
			return fmt.Errorf("APP_SYNC_SCHEDULE %q is invalid: %w", c.Sync.Schedule, err)
		}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30m: %w", key, err)
	}
	return d, nil
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
