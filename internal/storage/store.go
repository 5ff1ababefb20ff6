// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"
	"time"

	"github.com/jkaninda/approvalcenter/internal/approval"
	"github.com/jkaninda/approvalcenter/internal/audit"
	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/escalation"
	"github.com/jkaninda/approvalcenter/internal/handlers/absence"
	"github.com/jkaninda/approvalcenter/internal/handlers/timecorrection"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

// Store is the unified persistence interface for the approval center.
// Both SQLite and PostgreSQL backends implement it; the sub-stores share
// one connection pool.
type Store interface {
	Requests() RequestStore
	Idempotency() IdempotencyStore
	Audit() audit.Store
	SLARules() sla.RuleStore
	Absences() absence.Store
	TimeCorrections() timecorrection.Store
	Employees() EmployeeStore
	NotificationChannels() notification.ChannelStore

	// Lifecycle.
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// RequestStore serves both the query path and the escalation sweep.
type RequestStore interface {
	approval.RequestStore
	escalation.PendingPager
}

// IdempotencyStore is the ledger plus its retention purge.
type IdempotencyStore interface {
	approval.IdempotencyStore
	escalation.Purger
}

// EmployeeStore persists the employees behind the built-in request types.
type EmployeeStore interface {
	Upsert(ctx context.Context, e *domain.Employee) error
	Get(ctx context.Context, orgID, id string) (*domain.Employee, error)
	List(ctx context.Context, orgID string) ([]domain.Employee, error)
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/approvalcenter.db
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// ConnMaxLifetime returns the configured lifetime, or zero for the backend default.
func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeS) * time.Second
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
