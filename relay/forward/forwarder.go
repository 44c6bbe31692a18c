package forward

import (
	"context"
	"fmt"
	"log"
	"sync"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/relay/model"
	"aiclock.com/aiclock/relay/store"
)

// Forwarder delivers queued records to the cloud ingestion endpoint.
// Delivery is at-least-once; the cloud's dedup key makes the pipeline
// effectively-once end to end, so a duplicate response counts as
// success here.
type Forwarder struct {
	Store  *store.Store
	Client *v1.AiClockClient

	// MaxAttempts is the automatic retry ceiling. A record that has
	// failed this many times stays in the queue for manual replay
	// but is no longer picked up.
	MaxAttempts int

	// inflight holds record ids currently being forwarded, so the
	// inline webhook path and the retry scheduler never double-send
	// the same record.
	inflight sync.Map
}

const DefaultMaxAttempts = 5

func (f *Forwarder) maxAttempts() int {
	if f.MaxAttempts > 0 {
		return f.MaxAttempts
	}
	return DefaultMaxAttempts
}

// ForwardRecord attempts delivery of one queue record. On success the
// record is marked forwarded under a compare-and-set; on failure the
// attempt counter is bumped and the record stays queued.
func (f *Forwarder) ForwardRecord(ctx context.Context, rec *model.QueueRecord) error {
	if _, loaded := f.inflight.LoadOrStore(rec.ID, struct{}{}); loaded {
		// Another path is already on it.
		return nil
	}
	defer f.inflight.Delete(rec.ID)

	dto := &v1.EventDTO{
		DeviceID:      rec.DeviceID,
		EmployeeID:    rec.EmployeeID,
		EmployeeName:  rec.EmployeeName,
		EventTime:     rec.EventTime,
		StatusHint:    rec.StatusHint,
		SourceChannel: rec.SourceChannel,
	}

	res, err := f.Client.Events.Ingest(ctx, dto)
	if err == nil && !res.Status {
		err = fmt.Errorf("ingestion rejected record: %v", res.Error)
	}
	if err != nil {
		if ierr := f.Store.IncrementAttempt(rec.ID); ierr != nil {
			log.Printf("forward: failed to record attempt for %d: %v", rec.ID, ierr)
		}
		return fmt.Errorf("forward record %d: %w", rec.ID, err)
	}

	claimed, err := f.Store.MarkForwarded(rec.ID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("forward: record %d already marked forwarded", rec.ID)
	}
	return nil
}
