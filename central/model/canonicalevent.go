package model

import "time"

// CanonicalEvent is the deduplicated attendance record. Exactly one
// row exists per (device, employee, punch) regardless of how many
// channels delivered it.
type CanonicalEvent struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DedupKey      string    `gorm:"column:dedup_key;size:191;uniqueIndex"`
	DeviceID      string    `gorm:"column:device_id;size:64;index"`
	EmployeeID    string    `gorm:"column:employee_id;size:64;index:idx_canonical_employee_date"`
	EmployeeName  string    `gorm:"column:employee_name;size:128"`
	EventTime     time.Time `gorm:"column:event_time;index"`
	EventDate     string    `gorm:"column:event_date;size:10;index:idx_canonical_employee_date"`
	StatusHint    string    `gorm:"column:status_hint;size:16"`
	SourceChannel string    `gorm:"column:source_channel;size:32"`
	Healed        bool      `gorm:"column:healed"`
	PayloadKey    string    `gorm:"column:payload_key;size:191"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (CanonicalEvent) TableName() string {
	return "canonical_events"
}

// ClockValid reports whether the device clock was sane when the punch
// was recorded. Terminals that lose power reset to an epoch date;
// those rows are kept but excluded from reconciliation matching.
func (e *CanonicalEvent) ClockValid() bool {
	return e.EventTime.Year() >= 2020
}
