package forward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	v1common "aiclock.com/aiclock/aiclock/v1/common"
	"aiclock.com/aiclock/relay/model"
	"aiclock.com/aiclock/relay/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func queueEvent(t *testing.T, st *store.Store, employeeID string) *model.QueueRecord {
	t.Helper()
	rec, err := st.AppendRecord(model.RawEvent{
		DeviceID:      "dev-1",
		RawDeviceID:   "dev-1",
		EmployeeID:    employeeID,
		EventTime:     time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		StatusHint:    v1.StatusIn,
		SourceChannel: v1.SourceWebhook,
	})
	require.NoError(t, err)
	return rec
}

func ingestServer(t *testing.T, handler http.HandlerFunc) *v1.AiClockClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return v1.NewAiClockClient(srv.URL, "test-token", 5*time.Second)
}

func acceptAll(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		json.NewEncoder(w).Encode(v1common.StatusAPIResponse[*v1.IngestResultDTO]{
			Status: true,
			Data:   &v1.IngestResultDTO{Accepted: true, DedupKey: "k"},
		})
	}
}

func TestForwardRecordSuccess(t *testing.T) {
	st := newTestStore(t)
	rec := queueEvent(t, st, "100")

	var calls int32
	f := &Forwarder{Store: st, Client: ingestServer(t, acceptAll(&calls))}

	require.NoError(t, f.ForwardRecord(context.Background(), rec))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	recs, err := st.ListUnforwarded(10, DefaultMaxAttempts)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestForwardRecordDuplicateCountsAsSuccess(t *testing.T) {
	st := newTestStore(t)
	rec := queueEvent(t, st, "100")

	f := &Forwarder{Store: st, Client: ingestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(v1common.StatusAPIResponse[*v1.IngestResultDTO]{
			Status: true,
			Data:   &v1.IngestResultDTO{Duplicate: true, DedupKey: "k"},
		})
	})}

	require.NoError(t, f.ForwardRecord(context.Background(), rec))

	recs, err := st.ListUnforwarded(10, DefaultMaxAttempts)
	require.NoError(t, err)
	assert.Empty(t, recs, "a duplicate is a delivered record")
}

func TestForwardRecordFailureBumpsAttempts(t *testing.T) {
	st := newTestStore(t)
	rec := queueEvent(t, st, "100")

	f := &Forwarder{Store: st, Client: ingestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})}

	err := f.ForwardRecord(context.Background(), rec)
	assert.Error(t, err)

	recs, err := st.ListUnforwarded(10, DefaultMaxAttempts)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].ForwardAttempts)
	assert.False(t, recs[0].Forwarded)
}

func TestForwardRecordRejectionBumpsAttempts(t *testing.T) {
	st := newTestStore(t)
	rec := queueEvent(t, st, "100")

	f := &Forwarder{Store: st, Client: ingestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(v1common.StatusAPIResponse[*v1.IngestResultDTO]{
			Status: false,
			Error:  "device not registered",
		})
	})}

	err := f.ForwardRecord(context.Background(), rec)
	assert.Error(t, err)

	recs, err := st.ListUnforwarded(10, DefaultMaxAttempts)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 1, recs[0].ForwardAttempts)
}

func TestFlushDrainsQueueAndHonoursCeiling(t *testing.T) {
	st := newTestStore(t)
	queueEvent(t, st, "100")
	queueEvent(t, st, "101")

	// One record already exhausted its attempts.
	stuck := queueEvent(t, st, "102")
	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, st.IncrementAttempt(stuck.ID))
	}

	var calls int32
	f := &Forwarder{Store: st, Client: ingestServer(t, acceptAll(&calls))}
	s := &RetryScheduler{Forwarder: f, RecordDelay: time.Millisecond}

	sent, failed := s.Flush(context.Background())
	assert.Equal(t, 2, sent)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "the exhausted record is not retried")
}

func TestFlushReportsFailures(t *testing.T) {
	st := newTestStore(t)
	queueEvent(t, st, "100")

	f := &Forwarder{Store: st, Client: ingestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})}
	s := &RetryScheduler{Forwarder: f, RecordDelay: time.Millisecond}

	sent, failed := s.Flush(context.Background())
	assert.Equal(t, 0, sent)
	assert.Equal(t, 1, failed)
}
