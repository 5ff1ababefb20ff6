package postgres

import (
	"context"
	"sync"

	"github.com/jkaninda/approvalcenter/internal/audit"
	"github.com/jkaninda/approvalcenter/internal/handlers/absence"
	"github.com/jkaninda/approvalcenter/internal/handlers/timecorrection"
	"github.com/jkaninda/approvalcenter/internal/notification"
	"github.com/jkaninda/approvalcenter/internal/sla"
	"github.com/jkaninda/approvalcenter/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps an open DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

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

var _ storage.Store = (*Store)(nil)

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.pgDB.Migrate(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// --- Sub-store accessors ---

func (s *Store) Requests() storage.RequestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == nil {
		s.requests = NewRequestRepository(s.pgDB.GormDB())
	}
	return s.requests
}

func (s *Store) Idempotency() storage.IdempotencyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idempotency == nil {
		s.idempotency = NewIdempotencyRepository(s.pgDB.GormDB())
	}
	return s.idempotency
}

func (s *Store) Audit() audit.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.pgDB.GormDB())
	}
	return s.audit
}

func (s *Store) SLARules() sla.RuleStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slaRules == nil {
		s.slaRules = NewSLARuleRepository(s.pgDB.GormDB())
	}
	return s.slaRules
}

func (s *Store) Absences() absence.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.absences == nil {
		s.absences = NewAbsenceRepository(s.pgDB.GormDB())
	}
	return s.absences
}

func (s *Store) TimeCorrections() timecorrection.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeCorrections == nil {
		s.timeCorrections = NewTimeCorrectionRepository(s.pgDB.GormDB())
	}
	return s.timeCorrections
}

func (s *Store) Employees() storage.EmployeeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.employees == nil {
		s.employees = NewEmployeeRepository(s.pgDB.GormDB())
	}
	return s.employees
}

func (s *Store) NotificationChannels() notification.ChannelStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels == nil {
		s.channels = NewNotificationChannelRepository(s.pgDB.GormDB())
	}
	return s.channels
}
