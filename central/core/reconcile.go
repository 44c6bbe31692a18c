package core

import (
	"errors"
	"fmt"
	"log"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/central/model"
	"aiclock.com/aiclock/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultMatchTolerance is how far apart two timestamps may sit and
// still describe the same physical punch.
const DefaultMatchTolerance = 5 * time.Second

type ReconcileReport struct {
	Date             string              `json:"date"`
	DeviceID         string              `json:"deviceId"`
	EmployeesChecked int                 `json:"employeesChecked"`
	EmployeesSkipped int                 `json:"employeesSkipped"`
	GapsFound        int                 `json:"gapsFound"`
	GapsHealed       int                 `json:"gapsHealed"`
	Employees        []EmployeeDayReport `json:"employees,omitempty"`
}

// EmployeeDayReport is the comparison outcome for one employee on the
// reconciled day.
type EmployeeDayReport struct {
	EmployeeID     string              `json:"employeeId"`
	MirroredCount  int                 `json:"mirroredCount"`
	CanonicalCount int                 `json:"canonicalCount"`
	Missing        []model.MirrorEvent `json:"missing,omitempty"`
	HealedCount    int                 `json:"healedCount"`
}

// ReconcileDay compares the mirror table against the canonical table
// for one device and one calendar day, and re-ingests any punch the
// canonical side is missing. Employees whose day was already clean and
// whose mirror count has not moved are skipped.
func ReconcileDay(db *gorm.DB, deviceID string, day time.Time, loc *time.Location, tolerance time.Duration) (*ReconcileReport, error) {
	if loc == nil {
		loc = time.UTC
	}
	if tolerance <= 0 {
		tolerance = DefaultMatchTolerance
	}
	start, end := utils.DayBounds(day, loc)
	date := start.In(loc).Format(utils.DateLayout)
	report := &ReconcileReport{Date: date, DeviceID: deviceID}

	var mirror []model.MirrorEvent
	if err := db.
		Where("device_id = ? AND event_time >= ? AND event_time < ?", deviceID, start, end).
		Order("event_time").
		Find(&mirror).Error; err != nil {
		return nil, fmt.Errorf("failed to load mirror events: %w", err)
	}

	// Terminals that lost power report epoch dates; those rows never
	// match anything real, so leave them out of the comparison.
	mirror = utils.Filter(mirror, func(e model.MirrorEvent) bool {
		return e.ClockValid()
	})

	byEmployee := utils.GroupBy(mirror, func(e model.MirrorEvent) string {
		return e.EmployeeID
	})

	for employeeID, events := range byEmployee {
		detail, skipped, err := reconcileEmployee(db, deviceID, employeeID, date, events, loc, tolerance)
		if err != nil {
			return nil, err
		}
		if skipped {
			report.EmployeesSkipped++
			continue
		}
		report.EmployeesChecked++
		report.GapsFound += len(detail.Missing)
		report.GapsHealed += detail.HealedCount
		report.Employees = append(report.Employees, *detail)
	}

	return report, nil
}

func reconcileEmployee(db *gorm.DB, deviceID, employeeID, date string, mirror []model.MirrorEvent, loc *time.Location, tolerance time.Duration) (*EmployeeDayReport, bool, error) {
	var state model.ReconciliationState
	err := db.Where("employee_id = ? AND event_date = ?", employeeID, date).Take(&state).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to load reconciliation state: %w", err)
	}
	hasState := err == nil

	var canonical []model.CanonicalEvent
	if err := db.
		Where("employee_id = ? AND event_date = ?", employeeID, date).
		Order("event_time").
		Find(&canonical).Error; err != nil {
		return nil, false, fmt.Errorf("failed to load canonical events: %w", err)
	}

	if hasState && state.Status == model.ReconciliationClean &&
		state.MirrorCount == len(mirror) && state.CanonicalCount == len(canonical) {
		return nil, true, nil
	}

	gaps := utils.Filter(mirror, func(m model.MirrorEvent) bool {
		match := utils.Find(canonical, func(c model.CanonicalEvent) bool {
			return c.StatusHint == m.StatusHint && withinTolerance(c.EventTime, m.EventTime, tolerance)
		})
		return match == nil
	})

	detail := &EmployeeDayReport{
		EmployeeID:     employeeID,
		MirroredCount:  len(mirror),
		CanonicalCount: len(canonical),
		Missing:        gaps,
	}

	status := model.ReconciliationClean
	if len(gaps) > 0 {
		status = model.ReconciliationDiffed
		for i := range gaps {
			if err := healGap(db, &gaps[i], loc, tolerance); err != nil {
				log.Printf("reconcile: failed to heal %s/%s@%s: %v", deviceID, employeeID, gaps[i].EventTime, err)
				continue
			}
			detail.HealedCount++
		}
		if detail.HealedCount == len(gaps) {
			status = model.ReconciliationHealed
		}
	}

	now := time.Now()
	state.EmployeeID = employeeID
	state.EventDate = date
	state.Status = status
	state.MirrorCount = len(mirror)
	state.CanonicalCount = len(canonical) + detail.HealedCount
	state.HealedCount += detail.HealedCount
	state.CheckedAt = &now
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}, {Name: "event_date"}},
		UpdateAll: true,
	}).Create(&state).Error; err != nil {
		return nil, false, fmt.Errorf("failed to save reconciliation state: %w", err)
	}

	return detail, false, nil
}

func healGap(db *gorm.DB, gap *model.MirrorEvent, loc *time.Location, tolerance time.Duration) error {
	res, err := Ingest(db, &IngestRequest{
		DeviceID:      gap.DeviceID,
		EmployeeID:    gap.EmployeeID,
		EmployeeName:  gap.EmployeeName,
		EventTime:     gap.EventTime,
		StatusHint:    gap.StatusHint,
		SourceChannel: v1.SourceReconciliationHeal,
	}, loc, tolerance)
	if err != nil {
		return err
	}
	// Duplicate here means the dedup bucket caught it before the
	// tolerance comparison did; either way the canonical row exists.
	_ = res

	now := time.Now()
	return db.Model(&model.MirrorEvent{}).
		Where("id = ?", gap.ID).
		Updates(map[string]any{"healed": true, "healed_at": &now}).Error
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < tolerance
}
