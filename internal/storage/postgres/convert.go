package postgres

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/jkaninda/approvalcenter/internal/domain"
	"github.com/jkaninda/approvalcenter/internal/sla"
)

// --- ApprovalRequest ---

func toApprovalRequestModel(r *domain.ApprovalRequest) ApprovalRequestModel {
	return ApprovalRequestModel{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		ApproverID:     r.ApproverID,
		EntityType:     r.EntityType,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt.UTC(),
		EntityID:       r.EntityID,
		RequesterID:    r.RequesterID,
		Reason:         r.Reason,
		ResolvedBy:     r.ResolvedBy,
		ResolvedAt:     r.ResolvedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toApprovalRequestDomain(m *ApprovalRequestModel) domain.ApprovalRequest {
	return domain.ApprovalRequest{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		RequesterID:    m.RequesterID,
		ApproverID:     m.ApproverID,
		Status:         domain.Status(m.Status),
		Reason:         m.Reason,
		ResolvedBy:     m.ResolvedBy,
		CreatedAt:      m.CreatedAt,
		ResolvedAt:     m.ResolvedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// --- Employee ---

func toEmployeeModel(e *domain.Employee) EmployeeModel {
	return EmployeeModel{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		AccountID:      e.AccountID,
		Name:           e.Name,
		Email:          e.Email,
		AvatarURL:      e.AvatarURL,
		TeamID:         e.TeamID,
	}
}

func toEmployeeDomain(m *EmployeeModel) domain.Employee {
	return domain.Employee{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		AccountID:      m.AccountID,
		Name:           m.Name,
		Email:          m.Email,
		AvatarURL:      m.AvatarURL,
		TeamID:         m.TeamID,
	}
}

// --- AbsenceRequest ---

func toAbsenceModel(a *domain.AbsenceRequest) AbsenceRequestModel {
	return AbsenceRequestModel{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		EmployeeID:     a.Employee.ID,
		Kind:           string(a.Kind),
		StartDate:      a.StartDate,
		EndDate:        a.EndDate,
		Days:           a.Days,
		Note:           a.Note,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
	}
}

func toAbsenceDomain(m *AbsenceRequestModel) domain.AbsenceRequest {
	return domain.AbsenceRequest{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Employee:       toEmployeeDomain(&m.Employee),
		Kind:           domain.AbsenceKind(m.Kind),
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		Days:           m.Days,
		Note:           m.Note,
		Status:         domain.Status(m.Status),
		CreatedAt:      m.CreatedAt,
	}
}

// --- TimeCorrection ---

func toTimeCorrectionModel(c *domain.TimeCorrection) TimeCorrectionModel {
	return TimeCorrectionModel{
		ID:                c.ID,
		OrganizationID:    c.OrganizationID,
		EmployeeID:        c.Employee.ID,
		WorkDate:          c.WorkDate,
		OriginalClockIn:   c.OriginalClockIn,
		OriginalClockOut:  c.OriginalClockOut,
		RequestedClockIn:  c.RequestedClockIn,
		RequestedClockOut: c.RequestedClockOut,
		Note:              c.Note,
		Status:            string(c.Status),
		CreatedAt:         c.CreatedAt,
	}
}

func toTimeCorrectionDomain(m *TimeCorrectionModel) domain.TimeCorrection {
	return domain.TimeCorrection{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		Employee:          toEmployeeDomain(&m.Employee),
		WorkDate:          m.WorkDate,
		OriginalClockIn:   m.OriginalClockIn,
		OriginalClockOut:  m.OriginalClockOut,
		RequestedClockIn:  m.RequestedClockIn,
		RequestedClockOut: m.RequestedClockOut,
		Note:              m.Note,
		Status:            domain.Status(m.Status),
		CreatedAt:         m.CreatedAt,
	}
}

// --- AuditEntry ---

func toAuditModel(e *domain.AuditEntry) AuditEntryModel {
	m := AuditEntryModel{
		ID:             e.ID,
		OrganizationID: e.OrganizationID,
		ApprovalID:     e.ApprovalID,
		ApprovalType:   e.ApprovalType,
		EntityID:       e.EntityID,
		Action:         string(e.Action),
		ActorID:        e.ActorID,
		PreviousStatus: string(e.PreviousStatus),
		NewStatus:      string(e.NewStatus),
		Reason:         e.Reason,
		Metadata:       jsonOrEmpty(e.Metadata),
		Changes:        jsonOrEmpty(e.Changes),
		CreatedAt:      e.CreatedAt,
	}
	if e.Provenance != nil {
		m.IPAddress = e.Provenance.IPAddress
		m.UserAgent = e.Provenance.UserAgent
	}
	return m
}

func toAuditDomain(m *AuditEntryModel) domain.AuditEntry {
	e := domain.AuditEntry{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		ApprovalID:     m.ApprovalID,
		ApprovalType:   m.ApprovalType,
		EntityID:       m.EntityID,
		Action:         domain.AuditAction(m.Action),
		ActorID:        m.ActorID,
		PreviousStatus: domain.Status(m.PreviousStatus),
		NewStatus:      domain.Status(m.NewStatus),
		Reason:         m.Reason,
		CreatedAt:      m.CreatedAt,
	}
	_ = json.Unmarshal(m.Metadata, &e.Metadata)
	_ = json.Unmarshal(m.Changes, &e.Changes)
	if m.IPAddress != "" || m.UserAgent != "" {
		e.Provenance = &domain.Provenance{IPAddress: m.IPAddress, UserAgent: m.UserAgent}
	}
	return e
}

// --- SLA rule ---

func toSLARuleModel(orgID string, r sla.Rule) SLARuleModel {
	return SLARuleModel{
		OrganizationID:           orgID,
		ApprovalType:             r.ApprovalType,
		Priority:                 string(r.Priority),
		DeadlineHours:            r.DeadlineHours,
		EscalationEnabled:        r.EscalationEnabled,
		EscalationThresholdHours: r.EscalationThresholdHours,
	}
}

func toSLARuleDomain(m *SLARuleModel) sla.Rule {
	return sla.Rule{
		ApprovalType:             m.ApprovalType,
		Priority:                 domain.Priority(m.Priority),
		DeadlineHours:            m.DeadlineHours,
		EscalationEnabled:        m.EscalationEnabled,
		EscalationThresholdHours: m.EscalationThresholdHours,
	}
}

// --- NotificationChannel ---

func toNotificationChannelModel(ch *domain.NotificationChannel) NotificationChannelModel {
	return NotificationChannelModel{
		ID:             ch.ID,
		OrganizationID: ch.OrganizationID,
		Name:           ch.Name,
		ChannelType:    ch.ChannelType,
		Config:         jsonOrEmpty(ch.Config),
		Enabled:        ch.Enabled,
		CreatedAt:      ch.CreatedAt,
		UpdatedAt:      ch.UpdatedAt,
	}
}

func toNotificationChannelDomain(m *NotificationChannelModel) *domain.NotificationChannel {
	var cfg map[string]string
	_ = json.Unmarshal(m.Config, &cfg)
	return &domain.NotificationChannel{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Name:           m.Name,
		ChannelType:    m.ChannelType,
		Config:         cfg,
		Enabled:        m.Enabled,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// jsonOrEmpty marshals v, falling back to an empty object.
func jsonOrEmpty(v any) datatypes.JSON {
	raw, err := json.Marshal(v)
	if err != nil || string(raw) == "null" {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
