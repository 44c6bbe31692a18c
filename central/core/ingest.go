package core

import (
	"fmt"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/central/model"
	"aiclock.com/aiclock/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultDedupTolerance is the window within which two deliveries of
// the same punch collapse into one canonical event.
const DefaultDedupTolerance = 5 * time.Second

type IngestRequest struct {
	DeviceID      string
	EmployeeID    string
	EmployeeName  string
	EventTime     time.Time
	StatusHint    string
	SourceChannel string
	PayloadKey    string
}

type IngestResult struct {
	Accepted  bool
	Duplicate bool
	DedupKey  string
}

// DedupKey buckets the event time so the same punch arriving over
// different channels (with sub-tolerance timestamp drift) produces the
// same key. Device id and status participate so that an in and an out
// punched in the same second stay distinct.
func DedupKey(deviceID, employeeID string, eventTime time.Time, statusHint string, tolerance time.Duration) string {
	if tolerance <= 0 {
		tolerance = DefaultDedupTolerance
	}
	bucket := eventTime.UTC().Truncate(tolerance).Unix()
	return fmt.Sprintf("%s|%s|%d|%s", deviceID, employeeID, bucket, statusHint)
}

// Ingest records one delivery: the raw copy always lands in the mirror
// table, and the canonical table gains a row only if no equivalent
// punch is already there. Idempotent under redelivery.
func Ingest(db *gorm.DB, req *IngestRequest, loc *time.Location, tolerance time.Duration) (*IngestResult, error) {
	if loc == nil {
		loc = time.UTC
	}
	key := DedupKey(req.DeviceID, req.EmployeeID, req.EventTime, req.StatusHint, tolerance)
	eventDate := req.EventTime.In(loc).Format(utils.DateLayout)

	mirror := model.MirrorEvent{
		DedupKey:      key,
		DeviceID:      req.DeviceID,
		EmployeeID:    req.EmployeeID,
		EmployeeName:  req.EmployeeName,
		EventTime:     req.EventTime,
		EventDate:     eventDate,
		StatusHint:    req.StatusHint,
		SourceChannel: req.SourceChannel,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(&mirror).Error; err != nil {
		return nil, fmt.Errorf("failed to mirror event: %w", err)
	}

	canonical := model.CanonicalEvent{
		DedupKey:      key,
		DeviceID:      req.DeviceID,
		EmployeeID:    req.EmployeeID,
		EmployeeName:  req.EmployeeName,
		EventTime:     req.EventTime,
		EventDate:     eventDate,
		StatusHint:    req.StatusHint,
		SourceChannel: req.SourceChannel,
		Healed:        req.SourceChannel == v1.SourceReconciliationHeal,
		PayloadKey:    req.PayloadKey,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(&canonical)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to store event: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return &IngestResult{Duplicate: true, DedupKey: key}, nil
	}

	// A fresh punch dirties the employee's day so the next sweep
	// re-checks it. Heals happen inside a sweep and settle on their own.
	if req.SourceChannel != v1.SourceReconciliationHeal {
		if err := markPendingCheck(db, req.EmployeeID, eventDate); err != nil {
			return nil, err
		}
	}

	return &IngestResult{Accepted: true, DedupKey: key}, nil
}

func markPendingCheck(db *gorm.DB, employeeID, eventDate string) error {
	state := model.ReconciliationState{
		EmployeeID: employeeID,
		EventDate:  eventDate,
		Status:     model.ReconciliationPendingCheck,
	}
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_id"}, {Name: "event_date"}},
		DoUpdates: clause.Assignments(map[string]any{
			"status":     model.ReconciliationPendingCheck,
			"updated_at": time.Now(),
		}),
	}).Create(&state).Error
}

// Migrate creates the attendance tables in a tenant schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.MirrorEvent{},
		&model.CanonicalEvent{},
		&model.ReconciliationState{},
	)
}
