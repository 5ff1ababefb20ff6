// Package config handles loading and validating approval center configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/escalation"
	"github.com/jkaninda/approvalcenter/internal/ratelimit"
	"github.com/jkaninda/approvalcenter/internal/secrets"
	"github.com/jkaninda/approvalcenter/internal/security"
	"github.com/jkaninda/approvalcenter/internal/sla"
	"github.com/jkaninda/approvalcenter/internal/storage"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for the approval center.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.approvalcenter. Override: APPROVALCENTER_DATA_DIR.
	Storage       storage.Config       `json:"storage" yaml:"storage"`
	Approval      ApprovalConfig       `json:"approval" yaml:"approval"`
	HTTP          HTTPConfig           `json:"http" yaml:"http"`
	Escalation    *EscalationConfig    `json:"escalation,omitempty" yaml:"escalation,omitempty"`       // nil = no escalation sweep
	RBAC          *security.RBACConfig `json:"rbac,omitempty" yaml:"rbac,omitempty"`                   // nil = every approver may act on every type
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Secrets       *SecretsConfig       `json:"secrets,omitempty" yaml:"secrets,omitempty"`             // nil = env:// references only
}

// SecretsConfig enables external secret providers for channel credentials.
type SecretsConfig struct {
	Vault *secrets.VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"`
}

// ApprovalConfig tunes the query pipeline and the bulk coordinator.
type ApprovalConfig struct {
	OverFetchMultiplier int `json:"over_fetch_multiplier" yaml:"over_fetch_multiplier"` // Default: 3
	BulkFanOut          int `json:"bulk_fan_out" yaml:"bulk_fan_out"`                   // Default: 8
	MaxBulkSize         int `json:"max_bulk_size" yaml:"max_bulk_size"`                 // Default: 200
	RuleCacheTTLSeconds int `json:"rule_cache_ttl_s" yaml:"rule_cache_ttl_s"`           // Default: 300
}

// OverFetch returns the row over-fetch multiplier.
func (a ApprovalConfig) OverFetch() int {
	if a.OverFetchMultiplier > 0 {
		return a.OverFetchMultiplier
	}
	return approval.DefaultOverFetch
}

// FanOut returns the bulk approve concurrency bound.
func (a ApprovalConfig) FanOut() int {
	if a.BulkFanOut > 0 {
		return a.BulkFanOut
	}
	return approval.DefaultBulkFanOut
}

// MaxBulk returns the largest accepted bulk approve batch.
func (a ApprovalConfig) MaxBulk() int {
	if a.MaxBulkSize > 0 {
		return a.MaxBulkSize
	}
	return approval.DefaultMaxBulkItems
}

// RuleCacheTTL returns how long an organization's SLA overrides stay cached.
func (a ApprovalConfig) RuleCacheTTL() time.Duration {
	if a.RuleCacheTTLSeconds > 0 {
		return time.Duration(a.RuleCacheTTLSeconds) * time.Second
	}
	return sla.DefaultCacheTTL
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	ListenAddr          string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080". Override: APPROVALCENTER_HTTP_ADDR.
	EnableDocs          bool              `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64             `json:"max_request_size_bytes" yaml:"max_request_size_bytes"`
	APIKeys             map[string]string `json:"api_keys" yaml:"api_keys"` // API key → approver ID. Override: APPROVALCENTER_API_KEYS=key:user,...
	RateLimit           ratelimit.Config  `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	if h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// EscalationConfig configures the SLA escalation sweep.
type EscalationConfig struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	Schedule             string   `json:"schedule" yaml:"schedule"`   // Cron spec. Default: "@every 15m"
	PageSize             int      `json:"page_size" yaml:"page_size"` // Default: 200
	Channels             []string `json:"channels" yaml:"channels"`   // Channel names. Empty = every enabled channel.
	AllowPrivateWebhooks bool     `json:"allow_private_webhooks" yaml:"allow_private_webhooks"`
	SlackBotToken        string   `json:"slack_bot_token,omitempty" yaml:"slack_bot_token,omitempty"`       // Override: SLACK_BOT_TOKEN.
	TelegramBotToken     string   `json:"telegram_bot_token,omitempty" yaml:"telegram_bot_token,omitempty"` // Override: TELEGRAM_BOT_TOKEN.
	LedgerRetentionDays  int      `json:"ledger_retention_days" yaml:"ledger_retention_days"`               // Default: 30. Negative disables purging.
}

// CronSchedule returns the sweep schedule.
func (e *EscalationConfig) CronSchedule() string {
	if e != nil && e.Schedule != "" {
		return e.Schedule
	}
	return escalation.DefaultSchedule
}

// Page returns the sweep page size.
func (e *EscalationConfig) Page() int {
	if e != nil && e.PageSize > 0 {
		return e.PageSize
	}
	return escalation.DefaultPageSize
}

// LedgerRetention returns how long idempotency keys are kept, or zero when purging is off.
func (e *EscalationConfig) LedgerRetention() time.Duration {
	if e == nil || e.LedgerRetentionDays < 0 {
		return 0
	}
	if e.LedgerRetentionDays == 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(e.LedgerRetentionDays) * 24 * time.Hour
}

// ObservabilityConfig configures metrics, tracing, and anomaly detection.
// When nil, all observability features are disabled.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "approvalcenter"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0 to 1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures threshold-based anomaly detection on handler failures.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// DefaultConfigPath returns the default config file path (~/.approvalcenter/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/approvalcenter.yaml"
	}
	return filepath.Join(home, ".approvalcenter", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a configuration that runs against a local SQLite database
// with environment overrides applied. Used when no config file exists.
func Default() (*Config, error) {
	var cfg Config
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("APPROVALCENTER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("APPROVALCENTER_DB_DSN"); v != "" {
		c.Storage.Driver = storage.DriverPostgres
		c.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("APPROVALCENTER_HTTP_ADDR"); v != "" {
		c.HTTP.ListenAddr = v
	}
	if v := os.Getenv("APPROVALCENTER_API_KEYS"); v != "" {
		keys, err := parseAPIKeys(v)
		if err != nil {
			return fmt.Errorf("APPROVALCENTER_API_KEYS: %w", err)
		}
		c.HTTP.APIKeys = keys
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		if c.Escalation == nil {
			c.Escalation = &EscalationConfig{}
		}
		c.Escalation.SlackBotToken = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		if c.Escalation == nil {
			c.Escalation = &EscalationConfig{}
		}
		c.Escalation.TelegramBotToken = v
	}
	if c.DataDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DataDir = filepath.Join(home, ".approvalcenter")
		}
	}
	return nil
}

// parseAPIKeys parses "key1:user1,key2:user2".
func parseAPIKeys(s string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, user, ok := strings.Cut(pair, ":")
		if !ok || key == "" || user == "" {
			return nil, fmt.Errorf("malformed entry %q, want key:user", pair)
		}
		keys[key] = user
	}
	return keys, nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return "data"
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the SQLite database path.
func (c *Config) DatabasePath() string {
	if c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "approvalcenter.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage.Driver != "" {
		return c.Storage.Driver
	}
	return storage.DefaultDriver
}

// EscalationEnabled reports whether the sweep should be scheduled.
func (c *Config) EscalationEnabled() bool {
	return c.Escalation != nil && c.Escalation.Enabled
}

func (c *Config) validate() error {
	switch c.StorageDriverName() {
	case storage.DriverSQLite:
	case storage.DriverPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required (set APPROVALCENTER_DB_DSN env var)")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
	}
	if c.Approval.OverFetchMultiplier < 0 || c.Approval.BulkFanOut < 0 || c.Approval.MaxBulkSize < 0 {
		return fmt.Errorf("approval settings must not be negative")
	}
	if c.HTTP.RateLimit.RequestsPerMinute < 0 || c.HTTP.RateLimit.BurstSize < 0 {
		return fmt.Errorf("http.rate_limit must not be negative")
	}
	if c.RBAC != nil && c.RBAC.DefaultRole != "" {
		if _, ok := c.RBAC.Roles[c.RBAC.DefaultRole]; !ok {
			return fmt.Errorf("rbac.default_role %q not found in roles", c.RBAC.DefaultRole)
		}
	}
	if c.RBAC != nil {
		for user, role := range c.RBAC.UserRoles {
			if _, ok := c.RBAC.Roles[role]; !ok {
				return fmt.Errorf("rbac.user_roles.%s references unknown role %q", user, role)
			}
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
	}
	return nil
}
