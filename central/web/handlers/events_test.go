package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"aiclock.com/aiclock/infrastructure/devops"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRegistry(t *testing.T) *devops.Registry {
	t.Helper()
	registry, err := devops.NewRegistry(&devops.RegistryConfig{
		Devices: []devops.DeviceEntry{{ID: "gate9", Tenant: "acme"}},
		Tenants: []devops.TenantEntry{{ID: "acme", Timezone: "Australia/Brisbane"}},
	})
	require.NoError(t, err)
	return registry
}

// The validation and registry checks run before any database work, so
// these paths are exercised without a backing MySQL.

func TestIngestRejectsInvalidPayload(t *testing.T) {
	r := gin.New()
	r.POST("/api/v1/events", IngestEventHandler(nil, testRegistry(t), nil, ""))

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"missing employee", `{"deviceId":"gate9","eventTime":"2026-03-02T08:00:00Z","statusHint":"in","sourceChannel":"webhook"}`},
		{"bad status", `{"deviceId":"gate9","employeeId":"1","eventTime":"2026-03-02T08:00:00Z","statusHint":"sideways","sourceChannel":"webhook"}`},
		{"bad source", `{"deviceId":"gate9","employeeId":"1","eventTime":"2026-03-02T08:00:00Z","statusHint":"in","sourceChannel":"carrier_pigeon"}`},
		{"bad device id", `{"deviceId":"gate 9!","employeeId":"1","eventTime":"2026-03-02T08:00:00Z","statusHint":"in","sourceChannel":"webhook"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp struct {
				Status bool `json:"status"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.False(t, resp.Status)
		})
	}
}

func TestIngestRejectsUnmappedDevice(t *testing.T) {
	r := gin.New()
	r.POST("/api/v1/events", IngestEventHandler(nil, testRegistry(t), nil, ""))

	body := `{"deviceId":"rogue-device","employeeId":"1","eventTime":"2026-03-02T08:00:00Z","statusHint":"in","sourceChannel":"webhook"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Status bool   `json:"status"`
		Error  string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Status)
	assert.Contains(t, resp.Error, "rogue-device")
}

func TestSyncRejectsUnknownDeviceAndBadDate(t *testing.T) {
	r := gin.New()
	r.POST("/api/v1/sync", SyncHandler(nil, testRegistry(t)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync?deviceId=nope", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync?deviceId=gate9&date=02/03/2026", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPayloadGuards(t *testing.T) {
	r := gin.New()
	r.GET("/api/v1/events/:id/payload", PayloadHandler(nil, ""))
	r.GET("/archived/events/:id/payload", PayloadHandler(nil, "aiclock-payloads"))

	// Archiving disabled: nothing to serve regardless of the event.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events/1/payload?tenantId=acme", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/archived/events/1/payload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code, "tenantId is required")
}

func TestSearchRequiresTenant(t *testing.T) {
	r := gin.New()
	r.GET("/api/v1/events", SearchEventsHandler(nil, testRegistry(t)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
