package store

import (
	"fmt"
	"time"

	"aiclock.com/aiclock/relay/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the durable local queue at the edge. Append must complete
// its durability write before the webhook handler acknowledges the
// terminal, so the journal runs with full synchronous writes.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the queue database at path. Pass ":memory:"
// for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue db: %w", err)
	}

	// Single writer keeps sqlite happy under the concurrent webhook
	// path and retry scheduler.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.QueueRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append persists one raw event and returns its queue id. The row is
// on disk when this returns.
func (s *Store) Append(ev model.RawEvent) (int64, error) {
	rec, err := s.AppendRecord(ev)
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// AppendRecord is Append returning the stored record, for callers
// that go on to forward it immediately.
func (s *Store) AppendRecord(ev model.RawEvent) (*model.QueueRecord, error) {
	rec := model.QueueRecord{
		DeviceID:      ev.DeviceID,
		RawDeviceID:   ev.RawDeviceID,
		EmployeeID:    ev.EmployeeID,
		EmployeeName:  ev.EmployeeName,
		EventTime:     ev.EventTime,
		StatusHint:    ev.StatusHint,
		SourceChannel: ev.SourceChannel,
		RawPayload:    ev.RawPayload,
	}

	if err := s.db.Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("failed to append queue record: %w", err)
	}
	return &rec, nil
}

// ListUnforwarded returns up to limit records that still need
// forwarding, oldest first. Records at or past maxAttempts are left
// out; they stay queryable for manual replay but are no longer
// retried automatically.
func (s *Store) ListUnforwarded(limit, maxAttempts int) ([]model.QueueRecord, error) {
	var recs []model.QueueRecord
	err := s.db.
		Where("forwarded = ? AND forward_attempts < ?", false, maxAttempts).
		Order("id").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unforwarded records: %w", err)
	}
	return recs, nil
}

// MarkForwarded flips the forwarded flag for id. The update is a
// compare-and-set on forwarded=false; it reports false when another
// path already claimed the record.
func (s *Store) MarkForwarded(id int64) (bool, error) {
	res := s.db.Model(&model.QueueRecord{}).
		Where("id = ? AND forwarded = ?", id, false).
		Update("forwarded", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark record %d forwarded: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// IncrementAttempt bumps the attempt counter after a failed forward.
func (s *Store) IncrementAttempt(id int64) error {
	err := s.db.Model(&model.QueueRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"forward_attempts": gorm.Expr("forward_attempts + 1"),
			"last_attempt_at":  time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to increment attempts for record %d: %w", id, err)
	}
	return nil
}

// Exists reports whether an event for the same device, employee and
// timestamp is already queued. The history poller uses this to avoid
// re-appending events the webhook path already captured.
func (s *Store) Exists(deviceID, employeeID string, eventTime time.Time) (bool, error) {
	var count int64
	err := s.db.Model(&model.QueueRecord{}).
		Where("device_id = ? AND employee_id = ? AND event_time = ?", deviceID, employeeID, eventTime).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check for existing record: %w", err)
	}
	return count > 0, nil
}

// Stats summarises queue depth for the health endpoint.
type Stats struct {
	TotalEvents int64 `json:"totalEvents"`
	Forwarded   int64 `json:"forwarded"`
	PendingSync int64 `json:"pendingSync"`
}

func (s *Store) Stats() (*Stats, error) {
	var st Stats
	if err := s.db.Model(&model.QueueRecord{}).Count(&st.TotalEvents).Error; err != nil {
		return nil, err
	}
	if err := s.db.Model(&model.QueueRecord{}).Where("forwarded = ?", true).Count(&st.Forwarded).Error; err != nil {
		return nil, err
	}
	st.PendingSync = st.TotalEvents - st.Forwarded
	return &st, nil
}

// SearchFilter narrows the local event listing.
type SearchFilter struct {
	DeviceID  string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
}

// Search lists queue records newest first with optional filters,
// backing the operator query endpoint.
func (s *Store) Search(f SearchFilter) ([]model.QueueRecord, int64, error) {
	q := s.db.Model(&model.QueueRecord{})
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.StartDate != nil {
		q = q.Where("event_time >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("event_time <= ?", *f.EndDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var recs []model.QueueRecord
	if err := q.Order("event_time DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}
