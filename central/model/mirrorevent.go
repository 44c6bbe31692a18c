package model

import "time"

// MirrorEvent is the raw per-channel copy of a device event. Every
// accepted delivery lands here before dedup; the reconciliation engine
// compares this table against canonical_events to find gaps.
type MirrorEvent struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	DedupKey      string     `gorm:"column:dedup_key;size:191;uniqueIndex"`
	DeviceID      string     `gorm:"column:device_id;size:64;index"`
	EmployeeID    string     `gorm:"column:employee_id;size:64;index:idx_mirror_employee_date"`
	EmployeeName  string     `gorm:"column:employee_name;size:128"`
	EventTime     time.Time  `gorm:"column:event_time;index"`
	EventDate     string     `gorm:"column:event_date;size:10;index:idx_mirror_employee_date"`
	StatusHint    string     `gorm:"column:status_hint;size:16"`
	SourceChannel string     `gorm:"column:source_channel;size:32"`
	Healed        bool       `gorm:"column:healed"`
	HealedAt      *time.Time `gorm:"column:healed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
}

func (MirrorEvent) TableName() string {
	return "device_events"
}

func (e *MirrorEvent) ClockValid() bool {
	return e.EventTime.Year() >= 2020
}
