package postgres

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jkaninda/approvalcenter/internal/domain"
)

// ApprovalRequestModel maps to the "approval_requests" table.
// One row per (entity_type, entity_id); the queue index serves every listing.
type ApprovalRequestModel struct {
	ID             string    `gorm:"primaryKey;size:36"`
	OrganizationID string    `gorm:"not null;size:64;index:idx_approval_requests_queue,priority:1"`
	ApproverID     string    `gorm:"not null;size:64;index:idx_approval_requests_queue,priority:2"`
	EntityType     string    `gorm:"not null;size:64;index:idx_approval_requests_queue,priority:3;uniqueIndex:idx_approval_requests_entity,priority:1"`
	Status         string    `gorm:"not null;size:16;default:'pending';index:idx_approval_requests_queue,priority:4"`
	CreatedAt      time.Time `gorm:"not null;index:idx_approval_requests_queue,priority:5"`
	EntityID       string    `gorm:"not null;size:36;uniqueIndex:idx_approval_requests_entity,priority:2"`
	RequesterID    string    `gorm:"not null;size:64;index"`
	Reason         string    `gorm:"type:text"`
	ResolvedBy     string    `gorm:"size:64"`
	ResolvedAt     *time.Time
	UpdatedAt      time.Time
}

func (ApprovalRequestModel) TableName() string { return "approval_requests" }

// EmployeeModel maps to the "employees" table.
type EmployeeModel struct {
	ID             string  `gorm:"primaryKey;size:36"`
	OrganizationID string  `gorm:"not null;size:64;index"`
	AccountID      string  `gorm:"not null;size:64"`
	Name           string  `gorm:"not null"`
	Email          string  `gorm:"not null"`
	AvatarURL      string  `gorm:"not null;default:''"`
	TeamID         *string `gorm:"size:64;index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (EmployeeModel) TableName() string { return "employees" }

// AbsenceRequestModel maps to the "absence_requests" table.
type AbsenceRequestModel struct {
	ID             string        `gorm:"primaryKey;size:36"`
	OrganizationID string        `gorm:"not null;size:64;index"`
	EmployeeID     string        `gorm:"not null;size:36;index"`
	Employee       EmployeeModel `gorm:"foreignKey:EmployeeID;constraint:OnDelete:CASCADE"`
	Kind           string        `gorm:"not null;size:32"`
	StartDate      time.Time     `gorm:"not null"`
	EndDate        time.Time     `gorm:"not null"`
	Days           int           `gorm:"not null"`
	Note           string        `gorm:"type:text"`
	Status         string        `gorm:"not null;size:16;default:'pending'"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AbsenceRequestModel) TableName() string { return "absence_requests" }

// TimeCorrectionModel maps to the "time_corrections" table.
type TimeCorrectionModel struct {
	ID                string        `gorm:"primaryKey;size:36"`
	OrganizationID    string        `gorm:"not null;size:64;index"`
	EmployeeID        string        `gorm:"not null;size:36;index"`
	Employee          EmployeeModel `gorm:"foreignKey:EmployeeID;constraint:OnDelete:CASCADE"`
	WorkDate          time.Time     `gorm:"not null"`
	OriginalClockIn   *time.Time
	OriginalClockOut  *time.Time
	RequestedClockIn  time.Time `gorm:"not null"`
	RequestedClockOut *time.Time
	Note              string `gorm:"type:text"`
	Status            string `gorm:"not null;size:16;default:'pending'"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (TimeCorrectionModel) TableName() string { return "time_corrections" }

// AuditEntryModel maps to the "approval_audit_log" table.
// No UpdatedAt or DeletedAt: the audit log is append-only.
type AuditEntryModel struct {
	ID             string         `gorm:"primaryKey;size:36"`
	OrganizationID string         `gorm:"not null;size:64;index:idx_audit_approval,priority:1"`
	ApprovalID     string         `gorm:"not null;size:36;index:idx_audit_approval,priority:2"`
	ApprovalType   string         `gorm:"not null;size:64"`
	EntityID       string         `gorm:"not null;size:36"`
	Action         string         `gorm:"not null;size:32;index"`
	ActorID        string         `gorm:"not null;size:64"`
	PreviousStatus string         `gorm:"not null;size:16"`
	NewStatus      string         `gorm:"not null;size:16"`
	Reason         string         `gorm:"type:text"`
	Metadata       datatypes.JSON `gorm:"not null"`
	Changes        datatypes.JSON `gorm:"not null"`
	IPAddress      string         `gorm:"size:64"`
	UserAgent      string         `gorm:"type:text"`
	CreatedAt      time.Time      `gorm:"not null;index"`
}

func (AuditEntryModel) TableName() string { return "approval_audit_log" }

// IdempotencyKeyModel maps to the "idempotency_keys" table.
type IdempotencyKeyModel struct {
	OrganizationID string         `gorm:"primaryKey;size:64"`
	Key            string         `gorm:"primaryKey;size:255"`
	Result         datatypes.JSON `gorm:"not null"`
	CreatedAt      time.Time      `gorm:"index"`
}

func (IdempotencyKeyModel) TableName() string { return "idempotency_keys" }

// SLARuleModel maps to the "sla_rules" table: per-organization overrides of
// the default deadline table.
type SLARuleModel struct {
	ID                       string `gorm:"primaryKey;size:36"`
	OrganizationID           string `gorm:"not null;size:64;uniqueIndex:idx_sla_rules_key,priority:1"`
	ApprovalType             string `gorm:"not null;size:64;uniqueIndex:idx_sla_rules_key,priority:2"`
	Priority                 string `gorm:"not null;size:16;uniqueIndex:idx_sla_rules_key,priority:3"`
	DeadlineHours            int    `gorm:"not null"`
	EscalationEnabled        bool   `gorm:"not null"`
	EscalationThresholdHours *int
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (SLARuleModel) TableName() string { return "sla_rules" }

// NotificationChannelModel maps to the "notification_channels" table.
type NotificationChannelModel struct {
	ID             string         `gorm:"primaryKey;size:36"`
	OrganizationID string         `gorm:"not null;size:64;uniqueIndex:idx_notif_ch_org_name"`
	Name           string         `gorm:"not null;uniqueIndex:idx_notif_ch_org_name"`
	ChannelType    string         `gorm:"not null;size:32"`
	Config         datatypes.JSON `gorm:"not null"`
	Enabled        bool           `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (NotificationChannelModel) TableName() string { return "notification_channels" }

// AllModels lists every table in FK-dependency order. The SQLite backend
// migrates the same set.
func AllModels() []any {
	return []any{
		&EmployeeModel{},
		&ApprovalRequestModel{},
		&AbsenceRequestModel{},
		&TimeCorrectionModel{},
		&AuditEntryModel{},
		&IdempotencyKeyModel{},
		&SLARuleModel{},
		&NotificationChannelModel{},
	}
}

// entityModels maps an approval type to the model of its underlying entity,
// so request transitions can update the entity status in the same transaction.
var entityModels = map[string]func() any{
	domain.TypeAbsenceRequest: func() any { return &AbsenceRequestModel{} },
	domain.TypeTimeCorrection: func() any { return &TimeCorrectionModel{} },
}
