package forward

import (
	"context"
	"log"
	"time"
)

// RetryScheduler re-attempts queued deliveries on a fixed interval.
// Batches are bounded and records are sent sequentially with a short
// delay between them so a large backlog drains without bursting the
// remote endpoint.
type RetryScheduler struct {
	Forwarder *Forwarder

	Interval    time.Duration
	BatchSize   int
	RecordDelay time.Duration
}

const (
	DefaultInterval    = 60 * time.Second
	DefaultBatchSize   = 50
	DefaultRecordDelay = 100 * time.Millisecond
)

// Flush forwards one bounded batch of unforwarded records. It returns
// how many were delivered and how many failed; a stalled record does
// not block the rest of the batch.
func (s *RetryScheduler) Flush(ctx context.Context) (sent, failed int) {
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	recs, err := s.Forwarder.Store.ListUnforwarded(batch, s.Forwarder.maxAttempts())
	if err != nil {
		log.Printf("retry: failed to list queue: %v", err)
		return 0, 0
	}

	for i := range recs {
		if ctx.Err() != nil {
			return sent, failed
		}

		if err := s.Forwarder.ForwardRecord(ctx, &recs[i]); err != nil {
			log.Printf("retry: %v", err)
			failed++
		} else {
			sent++
		}

		delay := s.RecordDelay
		if delay <= 0 {
			delay = DefaultRecordDelay
		}
		if i < len(recs)-1 {
			select {
			case <-ctx.Done():
				return sent, failed
			case <-time.After(delay):
			}
		}
	}
	return sent, failed
}

// Run loops until ctx is cancelled, flushing one batch per tick.
func (s *RetryScheduler) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed := s.Flush(ctx)
			if sent > 0 || failed > 0 {
				log.Printf("retry: flushed queue, sent=%d failed=%d", sent, failed)
			}
		}
	}
}
