package model

import "time"

const (
	ReconciliationPendingCheck = "pending_check"
	ReconciliationDiffed       = "diffed"
	ReconciliationHealed       = "healed"
	ReconciliationClean        = "clean"
)

// ReconciliationState tracks the comparison outcome for one employee
// on one calendar day. A clean day whose counts have not moved is
// skipped on subsequent sweeps.
type ReconciliationState struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	EmployeeID     string     `gorm:"column:employee_id;size:64;uniqueIndex:idx_recon_employee_date"`
	EventDate      string     `gorm:"column:event_date;size:10;uniqueIndex:idx_recon_employee_date"`
	Status         string     `gorm:"column:status;size:16"`
	MirrorCount    int        `gorm:"column:mirror_count"`
	CanonicalCount int        `gorm:"column:canonical_count"`
	HealedCount    int        `gorm:"column:healed_count"`
	CheckedAt      *time.Time `gorm:"column:checked_at"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at"`
}

func (ReconciliationState) TableName() string {
	return "reconciliation_states"
}
