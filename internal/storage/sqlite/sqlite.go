// Package sqlite implements the unified Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - JSON columns are stored as TEXT
//   - A single connection for ":memory:" databases, which are per-connection
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/approvalcenter/internal/audit"
	"github.com/jkaninda/approvalcenter/internal/handlers/absence"
	"github.com/jkaninda/approvalcenter/internal/handlers/timecorrection"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/sla"
	"github.com/jkaninda/approvalcenter/internal/storage"
	pgstore "github.com/jkaninda/approvalcenter/internal/storage/postgres"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path, or MemoryPath.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	// Sub-store instances (created lazily on first access).
	mu              sync.Mutex
	requests        storage.RequestStore
	idempotency     storage.IdempotencyStore
	audit           audit.Store
	slaRules        sla.RuleStore
	absences        absence.Store
	timeCorrections timecorrection.Store
	employees       storage.EmployeeStore
	channels        notification.ChannelStore
}

// Open creates a new SQLite-backed Store. Call Migrate before use.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if slogger == nil {
		slogger = slog.Default()
	}

	memory := cfg.Path == MemoryPath
	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	var dsn string
	if memory {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", cfg.Path, journalMode)
	}

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormLogger,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if memory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return &Store{db: db, logger: slogger, path: cfg.Path}, nil
}

// Migrate runs GORM AutoMigrate with the same models as the PostgreSQL backend.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(pgstore.AllModels()...)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// GormDB returns the underlying GORM DB for sub-store construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// --- Sub-store accessors ---
// All sub-stores reuse the PostgreSQL repository implementations since they
// operate on the same GORM models. GORM's SQLite dialect handles the SQL
// differences.

func (s *Store) Requests() storage.RequestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == nil {
		s.requests = pgstore.NewRequestRepository(s.db)
	}
	return s.requests
}

func (s *Store) Idempotency() storage.IdempotencyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idempotency == nil {
		s.idempotency = pgstore.NewIdempotencyRepository(s.db)
	}
	return s.idempotency
}

func (s *Store) Audit() audit.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = pgstore.NewAuditRepository(s.db)
	}
	return s.audit
}

func (s *Store) SLARules() sla.RuleStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slaRules == nil {
		s.slaRules = pgstore.NewSLARuleRepository(s.db)
	}
	return s.slaRules
}

func (s *Store) Absences() absence.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.absences == nil {
		s.absences = pgstore.NewAbsenceRepository(s.db)
	}
	return s.absences
}

func (s *Store) TimeCorrections() timecorrection.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeCorrections == nil {
		s.timeCorrections = pgstore.NewTimeCorrectionRepository(s.db)
	}
	return s.timeCorrections
}

func (s *Store) Employees() storage.EmployeeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.employees == nil {
		s.employees = pgstore.NewEmployeeRepository(s.db)
	}
	return s.employees
}

func (s *Store) NotificationChannels() notification.ChannelStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		s.channels = pgstore.NewNotificationChannelRepository(s.db)
	}
	return s.channels
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
