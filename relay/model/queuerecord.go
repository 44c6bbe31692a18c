package model

import "time"

// QueueRecord is the durable local queue's unit of storage. It is
// created before any network call and never deleted on failure;
// Forwarded flips to true only after the cloud acknowledges.
type QueueRecord struct {
	ID              int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	DeviceID        string     `json:"device_id" gorm:"index;not null"`
	RawDeviceID     string     `json:"raw_device_id"`
	EmployeeID      string     `json:"employee_id" gorm:"not null"`
	EmployeeName    string     `json:"employee_name"`
	EventTime       time.Time  `json:"event_time" gorm:"index;not null"`
	StatusHint      string     `json:"status_hint"`
	SourceChannel   string     `json:"source_channel"`
	RawPayload      []byte     `json:"-"`
	Forwarded       bool       `json:"forwarded" gorm:"index;not null;default:false"`
	ForwardAttempts int        `json:"forward_attempts" gorm:"not null;default:0"`
	LastAttemptAt   *time.Time `json:"last_attempt_at"`

	CreatedAt time.Time `json:"created_at" gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;<-:create"`
	UpdatedAt time.Time `json:"updated_at" gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP"`
}

func (QueueRecord) TableName() string {
	return "queue_records"
}

// Raw rebuilds the normalized event carried by this record.
func (r *QueueRecord) Raw() RawEvent {
	return RawEvent{
		DeviceID:      r.DeviceID,
		RawDeviceID:   r.RawDeviceID,
		EmployeeID:    r.EmployeeID,
		EmployeeName:  r.EmployeeName,
		EventTime:     r.EventTime,
		StatusHint:    r.StatusHint,
		SourceChannel: r.SourceChannel,
		RawPayload:    r.RawPayload,
	}
}
