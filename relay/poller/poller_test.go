package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/infrastructure/devops"
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

func historyInfo(employeeID string, at time.Time) map[string]any {
	return map[string]any{
		"time":             at.Format(time.RFC3339),
		"employeeNoString": employeeID,
		"name":             "Jane",
		"attendanceStatus": "checkIn",
	}
}

func historyPage(total int, infos ...map[string]any) []byte {
	body, _ := json.Marshal(map[string]any{
		"AcsEvent": map[string]any{
			"totalMatches": total,
			"numOfMatches": len(infos),
			"InfoList":     infos,
		},
	})
	return body
}

func deviceFor(srv *httptest.Server) devops.DeviceEntry {
	return devops.DeviceEntry{
		ID:       "gate9",
		Tenant:   "acme",
		Host:     strings.TrimPrefix(srv.URL, "http://"),
		Username: "admin",
		Password: "secret",
	}
}

func TestPollDeviceAppendsUnseenEvents(t *testing.T) {
	st := newTestStore(t)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// One of the two history events is already queued.
	_, err := st.Append(model.RawEvent{
		DeviceID:      "gate9",
		EmployeeID:    "100",
		EventTime:     at,
		StatusHint:    v1.StatusIn,
		SourceChannel: v1.SourceWebhook,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ISAPI/AccessControl/AcsEvent", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		var req struct {
			Cond struct {
				SearchID   string `json:"searchID"`
				Position   int    `json:"searchResultPosition"`
				MaxResults int    `json:"maxResults"`
				Major      int    `json:"major"`
				Minor      int    `json:"minor"`
			} `json:"AcsEventCond"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 5, req.Cond.Major)
		assert.Equal(t, 75, req.Cond.Minor)
		assert.NotEmpty(t, req.Cond.SearchID)

		w.Write(historyPage(2, historyInfo("100", at), historyInfo("101", at.Add(time.Minute))))
	}))
	defer srv.Close()

	p := &Poller{Store: st}
	appended, err := p.PollDevice(context.Background(), deviceFor(srv), false)
	require.NoError(t, err)
	assert.Equal(t, 1, appended, "only the unseen event is appended")

	stats, err := st.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEvents)
}

func TestPollDevicePagination(t *testing.T) {
	st := newTestStore(t)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	var positions []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cond struct {
				Position int `json:"searchResultPosition"`
			} `json:"AcsEventCond"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		positions = append(positions, req.Cond.Position)

		switch req.Cond.Position {
		case 0:
			w.Write(historyPage(3, historyInfo("100", at), historyInfo("101", at.Add(time.Minute))))
		default:
			w.Write(historyPage(3, historyInfo("102", at.Add(2*time.Minute))))
		}
	}))
	defer srv.Close()

	p := &Poller{Store: st}
	appended, err := p.PollDevice(context.Background(), deviceFor(srv), false)
	require.NoError(t, err)
	assert.Equal(t, 3, appended)
	assert.Equal(t, []int{0, 2}, positions)
}

func TestPollDevicePaginationAdvancesPastNoiseOnlyPages(t *testing.T) {
	st := newTestStore(t)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// Door-open records carry no employee and are dropped by the
	// parser, but they still occupy search positions on the device.
	doorOpen := map[string]any{
		"time":             at.Format(time.RFC3339),
		"employeeNoString": "0",
	}

	var positions []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cond struct {
				Position int `json:"searchResultPosition"`
			} `json:"AcsEventCond"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		positions = append(positions, req.Cond.Position)

		switch req.Cond.Position {
		case 0:
			w.Write(historyPage(3, doorOpen, doorOpen))
		default:
			w.Write(historyPage(3, historyInfo("200", at.Add(time.Minute))))
		}
	}))
	defer srv.Close()

	p := &Poller{Store: st}
	appended, err := p.PollDevice(context.Background(), deviceFor(srv), false)
	require.NoError(t, err)
	assert.Equal(t, 1, appended, "the punch behind the noise page is recovered")
	assert.Equal(t, []int{0, 2}, positions)
}

func TestPollDeviceCooldown(t *testing.T) {
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(historyPage(0))
	}))
	defer srv.Close()

	p := &Poller{Store: st}
	device := deviceFor(srv)

	_, err := p.PollDevice(context.Background(), device, false)
	require.NoError(t, err)

	_, err = p.PollDevice(context.Background(), device, false)
	assert.ErrorIs(t, err, ErrCooldown)

	// force bypasses the cooldown.
	_, err = p.PollDevice(context.Background(), device, true)
	assert.NoError(t, err)
}

func TestPollDeviceErrorSkipsCooldownTouch(t *testing.T) {
	st := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := &Poller{Store: st}
	device := deviceFor(srv)

	_, err := p.PollDevice(context.Background(), device, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCooldown)

	// A failed poll does not start the cooldown window.
	_, err = p.PollDevice(context.Background(), device, false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCooldown)
}
