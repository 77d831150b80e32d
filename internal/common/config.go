package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/harvester/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string                    `toml:"environment" validate:"omitempty,oneof=development production prod test"`
	Server      ServerConfig              `toml:"server"`
	Storage     StorageConfig             `toml:"storage"`
	Logging     LoggingConfig             `toml:"logging"`
	Vault       VaultConfig               `toml:"vault"`
	Scheduler   SchedulerConfig           `toml:"scheduler"`
	Session     SessionConfig             `toml:"session"`
	Browser     BrowserConfig             `toml:"browser"`
	Health      HealthConfig              `toml:"health"`
	Platforms   map[string]PlatformConfig `toml:"platforms"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=0,max=65535"`
	Host string `toml:"host"`
}

// StorageConfig contains the embedded store and the lease backend settings
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	Lease  LeaseConfig  `toml:"lease"`
}

// BadgerConfig contains BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
	InMemory       bool   `toml:"in_memory"` // tests and dry runs
}

// LeaseConfig selects where per-connection leases live.
// "badger" is process-local; "redis" coordinates several instances.
type LeaseConfig struct {
	Backend       string `toml:"backend" validate:"oneof=badger redis"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db" validate:"min=0"`
	KeyPrefix     string `toml:"key_prefix"`
}

type LoggingConfig struct {
	Level      string   `toml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

// VaultConfig holds the master secret the credential vault derives its key from.
// Prefer HARVESTER_VAULT_SECRET over writing it to a file.
type VaultConfig struct {
	Secret string `toml:"secret"`
}

type SchedulerConfig struct {
	Enabled         bool   `toml:"enabled"`
	Schedule        string `toml:"schedule"`          // 5-field cron
	BatchSize       int    `toml:"batch_size" validate:"min=0"`
	InterBatchDelay string `toml:"inter_batch_delay"` // e.g. "3s"
	LeaseTTL        string `toml:"lease_ttl"`         // e.g. "15m"
	StaleAuditAge   string `toml:"stale_audit_age"`   // processing rows older than this are abandoned
	SweepInterval   string `toml:"sweep_interval"`
	HolderID        string `toml:"holder_id"` // defaults to hostname
}

type SessionConfig struct {
	ExpiryBuffer string `toml:"expiry_buffer"` // e.g. "1h"
}

// BrowserConfig controls the chromedp adapter
type BrowserConfig struct {
	Headless          bool    `toml:"headless"`
	NoSandbox         bool    `toml:"no_sandbox"`
	DisableGPU        bool    `toml:"disable_gpu"`
	ExecPath          string  `toml:"exec_path"`
	UserAgent         string  `toml:"user_agent"`
	NavigationTimeout string  `toml:"navigation_timeout"`
	ElementTimeout    string  `toml:"element_timeout"`
	MaxRetries        int     `toml:"max_retries" validate:"min=0"`
	RetryBaseDelay    string  `toml:"retry_base_delay"`
	RetryGrowth       float64 `toml:"retry_growth" validate:"min=0"`
	RetryMaxDelay     string  `toml:"retry_max_delay"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"min=0"`
	Burst             int     `toml:"burst" validate:"min=0"`
}

// HealthConfig configures the optional circuit breaker.
// DeactivateAfter == 0 keeps failing connections eligible forever.
type HealthConfig struct {
	DeactivateAfter int `toml:"deactivate_after" validate:"min=0"`
}

// PlatformConfig describes how to crawl one platform. Selectors live here, never in code.
type PlatformConfig struct {
	TargetURL             string           `toml:"target_url"` // supports {store_id} and {tenant_id}
	LoginURL              string           `toml:"login_url"`
	UsernameSelector      string           `toml:"username_selector"`
	NextSelector          string           `toml:"next_selector"`
	PasswordSelector      string           `toml:"password_selector"`
	SubmitSelector        string           `toml:"submit_selector"`
	PostLoginWaitSelector string           `toml:"post_login_wait_selector"`
	WaitSelector          string           `toml:"wait_selector"`
	LoginURLMarkers       []string         `toml:"login_url_markers"`
	LoginTextMarkers      []string         `toml:"login_text_markers"`
	LoginSelectors        []string         `toml:"login_selectors"`
	Strategies            []StrategyConfig `toml:"strategies"`
}

// StrategyConfig configures a single extraction strategy
type StrategyConfig struct {
	Name            string `toml:"name"`
	Type            string `toml:"type"` // "selector" or "jsonld"
	ItemSelector    string `toml:"item_selector"`
	IDAttribute     string `toml:"id_attribute"`
	IDSelector      string `toml:"id_selector"`
	AuthorSelector  string `toml:"author_selector"`
	TitleSelector   string `toml:"title_selector"`
	RatingSelector  string `toml:"rating_selector"`
	RatingAttribute string `toml:"rating_attribute"`
	BodySelector    string `toml:"body_selector"`
	DateSelector    string `toml:"date_selector"`
	DateAttribute   string `toml:"date_attribute"`
	DateLayout      string `toml:"date_layout"`
	LinkSelector    string `toml:"link_selector"`
	Markdown        bool   `toml:"markdown"`
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8095,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
			Lease: LeaseConfig{
				Backend:   "badger",
				KeyPrefix: "harvester:lease:",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			Schedule:        "0 */6 * * *",
			BatchSize:       models.DefaultBatchSize,
			InterBatchDelay: "3s",
			LeaseTTL:        "15m",
			StaleAuditAge:   "1h",
			SweepInterval:   "5m",
		},
		Session: SessionConfig{
			ExpiryBuffer: "1h",
		},
		Browser: BrowserConfig{
			Headless:          true,
			NoSandbox:         true,
			DisableGPU:        true,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NavigationTimeout: "30s",
			ElementTimeout:    "10s",
			MaxRetries:        3,
			RetryBaseDelay:    "1s",
			RetryGrowth:       2.0,
			RetryMaxDelay:     "30s",
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Platforms: map[string]PlatformConfig{},
	}
}

// LoadFromFile loads configuration from a single file
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env
// Later files override earlier ones. CLI flags are applied separately via ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies HARVESTER_* environment variables
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("HARVESTER_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("HARVESTER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("HARVESTER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("HARVESTER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if backend := os.Getenv("HARVESTER_LEASE_BACKEND"); backend != "" {
		config.Storage.Lease.Backend = backend
	}
	if addr := os.Getenv("HARVESTER_REDIS_ADDR"); addr != "" {
		config.Storage.Lease.RedisAddr = addr
	}
	if password := os.Getenv("HARVESTER_REDIS_PASSWORD"); password != "" {
		config.Storage.Lease.RedisPassword = password
	}

	if level := os.Getenv("HARVESTER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("HARVESTER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("HARVESTER_LOG_OUTPUT"); output != "" {
		config.Logging.Output = splitString(output, ",")
	}

	if secret := os.Getenv("HARVESTER_VAULT_SECRET"); secret != "" {
		config.Vault.Secret = secret
	}

	if enabled := os.Getenv("HARVESTER_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}
	if schedule := os.Getenv("HARVESTER_SCHEDULER_SCHEDULE"); schedule != "" {
		config.Scheduler.Schedule = schedule
	}
	if batchSize := os.Getenv("HARVESTER_SCHEDULER_BATCH_SIZE"); batchSize != "" {
		if b, err := strconv.Atoi(batchSize); err == nil {
			config.Scheduler.BatchSize = b
		}
	}
	if delay := os.Getenv("HARVESTER_SCHEDULER_INTER_BATCH_DELAY"); delay != "" {
		config.Scheduler.InterBatchDelay = delay
	}
	if holder := os.Getenv("HARVESTER_SCHEDULER_HOLDER_ID"); holder != "" {
		config.Scheduler.HolderID = holder
	}

	if headless := os.Getenv("HARVESTER_BROWSER_HEADLESS"); headless != "" {
		if h, err := strconv.ParseBool(headless); err == nil {
			config.Browser.Headless = h
		}
	}
	if userAgent := os.Getenv("HARVESTER_BROWSER_USER_AGENT"); userAgent != "" {
		config.Browser.UserAgent = userAgent
	}
	if execPath := os.Getenv("HARVESTER_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}

	if deactivateAfter := os.Getenv("HARVESTER_HEALTH_DEACTIVATE_AFTER"); deactivateAfter != "" {
		if d, err := strconv.Atoi(deactivateAfter); err == nil {
			config.Health.DeactivateAfter = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
// Flags have the highest priority and override both config file and environment variables
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks struct tags, durations, the cron schedule and the vault secret.
// A missing vault secret is reported as *models.ConfigurationError.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if strings.TrimSpace(c.Vault.Secret) == "" {
		return &models.ConfigurationError{Field: "vault.secret", Reason: "must be set (HARVESTER_VAULT_SECRET)"}
	}

	if c.Storage.Lease.Backend == "redis" && c.Storage.Lease.RedisAddr == "" {
		return &models.ConfigurationError{Field: "storage.lease.redis_addr", Reason: "required when backend is redis"}
	}

	durations := map[string]string{
		"scheduler.inter_batch_delay": c.Scheduler.InterBatchDelay,
		"scheduler.lease_ttl":         c.Scheduler.LeaseTTL,
		"scheduler.stale_audit_age":   c.Scheduler.StaleAuditAge,
		"scheduler.sweep_interval":    c.Scheduler.SweepInterval,
		"session.expiry_buffer":       c.Session.ExpiryBuffer,
		"browser.navigation_timeout":  c.Browser.NavigationTimeout,
		"browser.element_timeout":     c.Browser.ElementTimeout,
		"browser.retry_base_delay":    c.Browser.RetryBaseDelay,
		"browser.retry_max_delay":     c.Browser.RetryMaxDelay,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return &models.ConfigurationError{Field: field, Reason: fmt.Sprintf("invalid duration %q", value)}
		}
	}

	if c.Scheduler.Enabled {
		if err := ValidateJobSchedule(c.Scheduler.Schedule); err != nil {
			return &models.ConfigurationError{Field: "scheduler.schedule", Reason: err.Error()}
		}
	}

	for name, platform := range c.Platforms {
		if !models.Platform(name).Valid() {
			return &models.ConfigurationError{Field: "platforms." + name, Reason: "unknown platform"}
		}
		if platform.TargetURL == "" {
			return &models.ConfigurationError{Field: "platforms." + name + ".target_url", Reason: "required"}
		}
	}

	return nil
}

// ValidateJobSchedule validates a standard 5-field cron expression
func ValidateJobSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("schedule is empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// InterBatchDelayDuration returns the configured pause; "0s" disables it
func (c SchedulerConfig) InterBatchDelayDuration() time.Duration {
	d := parseDurationOr(c.InterBatchDelay, models.DefaultInterBatchDelay)
	if d <= 0 {
		return models.NoInterBatchDelay
	}
	return d
}

func (c SchedulerConfig) LeaseTTLDuration() time.Duration {
	return parseDurationOr(c.LeaseTTL, 15*time.Minute)
}

func (c SchedulerConfig) StaleAuditAgeDuration() time.Duration {
	return parseDurationOr(c.StaleAuditAge, time.Hour)
}

func (c SchedulerConfig) SweepIntervalDuration() time.Duration {
	return parseDurationOr(c.SweepInterval, 5*time.Minute)
}

func (c SessionConfig) ExpiryBufferDuration() time.Duration {
	return parseDurationOr(c.ExpiryBuffer, time.Hour)
}

func (c BrowserConfig) NavigationTimeoutDuration() time.Duration {
	return parseDurationOr(c.NavigationTimeout, 30*time.Second)
}

func (c BrowserConfig) ElementTimeoutDuration() time.Duration {
	return parseDurationOr(c.ElementTimeout, 10*time.Second)
}

// RetryPolicy builds the shared retry policy for navigate/type/click
func (c BrowserConfig) RetryPolicy() RetryPolicy {
	policy := DefaultRetryPolicy()
	if c.MaxRetries > 0 {
		policy.MaxAttempts = c.MaxRetries
	}
	policy.BaseDelay = parseDurationOr(c.RetryBaseDelay, policy.BaseDelay)
	policy.MaxDelay = parseDurationOr(c.RetryMaxDelay, policy.MaxDelay)
	if c.RetryGrowth > 0 {
		policy.Growth = c.RetryGrowth
	}
	return policy
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// splitString splits a string by separator and trims whitespace
func splitString(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
