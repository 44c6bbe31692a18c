package model

import "time"

// RawEvent is one terminal-reported occurrence, normalized out of
// whatever encoding the terminal used. DeviceID is lower-cased for
// keying; RawDeviceID keeps the original casing for audit.
type RawEvent struct {
	DeviceID      string
	RawDeviceID   string
	EmployeeID    string
	EmployeeName  string
	EventTime     time.Time
	StatusHint    string
	SourceChannel string
	RawPayload    []byte
}

// ClockValid reports whether the terminal clock produced a usable
// timestamp. Terminals reset to epoch after power loss; those events
// are stored but excluded from reconciliation matching.
func (e *RawEvent) ClockValid() bool {
	return e.EventTime.Year() >= 2020
}
