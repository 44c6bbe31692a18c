package v1

import (
	"context"
	"encoding/json"
	"time"

	"aiclock.com/aiclock/aiclock/v1/common"
)

// Status hints carried on every event. Terminals report a zoo of
// values ("checkin", "1", "in"); the adapter normalizes to these.
const (
	StatusIn      = "in"
	StatusOut     = "out"
	StatusUnknown = "unknown"
)

// Source channels. The same occurrence may arrive through all three;
// the ingestion dedup key collapses them into one canonical event.
const (
	SourceWebhook            = "webhook"
	SourceHistoryPoll        = "history_poll"
	SourceReconciliationHeal = "reconciliation_heal"
)

// EventDTO is the wire form of one attendance occurrence posted to
// the cloud ingestion endpoint. DedupKey may be left empty and the
// server derives it.
type EventDTO struct {
	DeviceID      string    `json:"deviceId" binding:"required,deviceid"`
	EmployeeID    string    `json:"employeeId" binding:"required"`
	EmployeeName  string    `json:"employeeName,omitempty"`
	EventTime     time.Time `json:"eventTime" binding:"required"`
	StatusHint    string    `json:"statusHint" binding:"required,oneof=in out unknown"`
	SourceChannel string    `json:"sourceChannel" binding:"required,oneof=webhook history_poll reconciliation_heal"`
	DedupKey      string    `json:"dedupKey,omitempty"`
}

// IngestResultDTO is the server's answer: exactly one of Accepted or
// Duplicate is true on success.
type IngestResultDTO struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate"`
	DedupKey  string `json:"dedupKey"`
}

type EventEndpoint struct {
	transport *Transport
}

func (this *EventEndpoint) Ingest(ctx context.Context, dto *EventDTO) (*common.StatusAPIResponse[*IngestResultDTO], error) {
	resp, err := this.transport.Post(ctx, "/api/v1/events", dto, nil)
	if err != nil {
		return nil, err
	}

	var result common.StatusAPIResponse[*IngestResultDTO]
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
