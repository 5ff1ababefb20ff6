package postgres

import (
	"gorm.io/gorm"
)

// TenantScope returns a GORM scope that filters by organization_id.
// Must be applied to every org-bound query for multi-tenancy.
func TenantScope(orgID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("organization_id = ?", orgID)
	}
}
