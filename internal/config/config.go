// Package config loads the connector's configuration from the process
// environment: explicit bounds/defaults, a single Validate() pass, and
// fail-fast diagnostics on startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppPort                 = 5000
	defaultBackfillIntervalSeconds = 60
	defaultBackfillIntervalFast    = 5
	defaultOverlapSeconds          = 120
	defaultMaxQueueAttempts        = 3
	defaultSpoolRetrySeconds       = 60
	dateLayout                     = "02.01.2006"
)

// Config is the fully resolved, validated configuration surface the
// connector recognizes.
type Config struct {
	TBaseURL string
	TAPIKey  string

	MAPIToken string

	CBaseURL string // empty disables source C

	DBDSN string

	DisableWebhooks bool

	PeriodicBackfillInterval time.Duration
	BackfillOverlap          time.Duration

	MaxQueueAttempts int
	SpoolRetry       time.Duration

	TProcessAfter *time.Time
	MProcessAfter *time.Time

	IncludeCompletedTasksOnInitialSync bool

	AppPort  int
	Timezone *time.Location

	TWebhookSecret string
	MWebhookSecret string

	LogLevel string

	// StateDir holds the on-disk identity-cache snapshots and webhook
	// registration-id files.
	StateDir string

	// PublicBaseURL is this connector's externally reachable address,
	// used by the webhook lifecycle manager to register target URLs.
	PublicBaseURL string
}

// Load reads Config from the process environment, applies defaults,
// then validates it.
func Load() (*Config, error) {
	c := &Config{
		TBaseURL:  strings.TrimSpace(os.Getenv("T_BASE_URL")),
		TAPIKey:   os.Getenv("T_API_KEY"),
		MAPIToken: os.Getenv("M_API_TOKEN"),
		CBaseURL:  strings.TrimSpace(os.Getenv("C_BASE_URL")),
		DBDSN:     strings.TrimSpace(os.Getenv("DB_DSN")),

		DisableWebhooks: parseBool(os.Getenv("DISABLE_WEBHOOKS"), false),

		MaxQueueAttempts: defaultMaxQueueAttempts,

		IncludeCompletedTasksOnInitialSync: parseBool(os.Getenv("INCLUDE_COMPLETED_TASKS_ON_INITIAL_SYNC"), false),

		AppPort: defaultAppPort,

		TWebhookSecret: os.Getenv("T_WEBHOOK_SECRET"),
		MWebhookSecret: os.Getenv("M_WEBHOOK_SECRET"),

		LogLevel: strings.TrimSpace(os.Getenv("LOG_LEVEL")),

		StateDir:      strings.TrimSpace(os.Getenv("STATE_DIR")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/"),
	}
	if c.StateDir == "" {
		c.StateDir = "./data"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	backfillDefault := defaultBackfillIntervalSeconds
	if c.DisableWebhooks {
		backfillDefault = defaultBackfillIntervalFast
	}
	backfillSec, err := parseIntEnv("PERIODIC_BACKFILL_INTERVAL", backfillDefault)
	if err != nil {
		return nil, err
	}
	c.PeriodicBackfillInterval = time.Duration(backfillSec) * time.Second

	overlapSec, err := parseIntEnv("BACKFILL_OVERLAP_SECONDS", defaultOverlapSeconds)
	if err != nil {
		return nil, err
	}
	c.BackfillOverlap = time.Duration(overlapSec) * time.Second

	maxAttempts, err := parseIntEnv("MAX_QUEUE_ATTEMPTS", defaultMaxQueueAttempts)
	if err != nil {
		return nil, err
	}
	c.MaxQueueAttempts = maxAttempts

	spoolRetrySec, err := parseIntEnv("SPOOL_RETRY_SECONDS", defaultSpoolRetrySeconds)
	if err != nil {
		return nil, err
	}
	c.SpoolRetry = time.Duration(spoolRetrySec) * time.Second

	if v := strings.TrimSpace(os.Getenv("T_PROCESS_AFTER")); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("config: T_PROCESS_AFTER: %w", err)
		}
		c.TProcessAfter = &t
	}
	if v := strings.TrimSpace(os.Getenv("M_PROCESS_AFTER")); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			return nil, fmt.Errorf("config: M_PROCESS_AFTER: %w", err)
		}
		c.MProcessAfter = &t
	}

	port, err := parseIntEnv("APP_PORT", defaultAppPort)
	if err != nil {
		return nil, err
	}
	c.AppPort = port

	tz := strings.TrimSpace(os.Getenv("TIMEZONE"))
	if tz == "" {
		c.Timezone = time.UTC
	} else {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("config: TIMEZONE %q: %w", tz, err)
		}
		c.Timezone = loc
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate enforces the invariants the rest of the connector assumes
// (non-empty DSN, at least one source configured, sane numeric bounds).
func (c *Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("config: DB_DSN is required")
	}
	if c.TBaseURL == "" && c.MAPIToken == "" {
		return fmt.Errorf("config: at least one of T_BASE_URL or M_API_TOKEN must be set")
	}
	if c.TBaseURL != "" && c.TAPIKey == "" {
		return fmt.Errorf("config: T_API_KEY is required when T_BASE_URL is set")
	}
	if c.MaxQueueAttempts < 1 {
		return fmt.Errorf("config: MAX_QUEUE_ATTEMPTS must be >= 1")
	}
	if c.AppPort < 1 || c.AppPort > 65535 {
		return fmt.Errorf("config: APP_PORT out of range: %d", c.AppPort)
	}
	if c.PeriodicBackfillInterval <= 0 {
		return fmt.Errorf("config: PERIODIC_BACKFILL_INTERVAL must be > 0")
	}
	if c.BackfillOverlap < 0 {
		return fmt.Errorf("config: BACKFILL_OVERLAP_SECONDS must be >= 0")
	}
	if !c.DisableWebhooks && c.PublicBaseURL == "" {
		return fmt.Errorf("config: PUBLIC_BASE_URL is required unless DISABLE_WEBHOOKS is set")
	}
	return nil
}

// SourceCEnabled reports whether the optional document service is wired.
func (c *Config) SourceCEnabled() bool {
	return c.CBaseURL != ""
}

func parseBool(s string, def bool) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return def
	}
	switch s {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func parseIntEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}
