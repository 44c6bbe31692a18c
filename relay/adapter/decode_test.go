package adapter

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAccessControllerEventJSON(t *testing.T) {
	a := &Adapter{}
	body := []byte(`{
		"AccessControllerEvent": {
			"serialNo": "DS-K1T341AM20230",
			"employeeNoString": "1042",
			"name": "Jane Doe",
			"attendanceStatus": "checkIn",
			"time": "2026-03-02T08:15:30+10:00"
		}
	}`)

	decoded, err := a.Decode("application/json", body, "")
	require.NoError(t, err)
	require.False(t, decoded.Heartbeat)
	require.NotNil(t, decoded.Event)

	ev := decoded.Event
	assert.Equal(t, "ds-k1t341am20230", ev.DeviceID)
	assert.Equal(t, "DS-K1T341AM20230", ev.RawDeviceID)
	assert.Equal(t, "1042", ev.EmployeeID)
	assert.Equal(t, "Jane Doe", ev.EmployeeName)
	assert.Equal(t, v1.StatusIn, ev.StatusHint)
	assert.Equal(t, v1.SourceWebhook, ev.SourceChannel)
	assert.Equal(t, time.Date(2026, 3, 1, 22, 15, 30, 0, time.UTC), ev.EventTime.UTC())
	assert.Equal(t, body, ev.RawPayload)
}

func TestDecodeHeartbeat(t *testing.T) {
	a := &Adapter{}

	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"keepalive json", "application/json", `{"serialNo":"DEV1","eventState":"active"}`},
		{"empty json", "application/json", `{}`},
		{"garbage", "text/plain", "ping"},
		{"empty body", "application/json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := a.Decode(tt.contentType, []byte(tt.body), "")
			require.NoError(t, err)
			assert.True(t, decoded.Heartbeat)
			assert.Nil(t, decoded.Event)
		})
	}
}

func TestDecodeFlatJSON(t *testing.T) {
	a := &Adapter{}
	body := []byte(`{"deviceId":"front-door","employeeId":"77","status":"clock_out","timestamp":1772500530}`)

	decoded, err := a.Decode("application/json; charset=utf-8", body, "")
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)
	assert.Equal(t, "front-door", decoded.Event.DeviceID)
	assert.Equal(t, "77", decoded.Event.EmployeeID)
	assert.Equal(t, v1.StatusOut, decoded.Event.StatusHint)
	assert.Equal(t, int64(1772500530), decoded.Event.EventTime.Unix())
}

func TestDecodeFormWithEmbeddedJSON(t *testing.T) {
	a := &Adapter{}
	body := []byte(`event_log=%7B%22deviceId%22%3A%22gate-2%22%2C%22employeeId%22%3A%22300%22%2C%22status%22%3A%22checkin%22%7D`)

	decoded, err := a.Decode("application/x-www-form-urlencoded", body, "")
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)
	assert.Equal(t, "gate-2", decoded.Event.DeviceID)
	assert.Equal(t, "300", decoded.Event.EmployeeID)
	assert.Equal(t, v1.StatusIn, decoded.Event.StatusHint)
}

func TestDecodeMultipartWithXMLFragment(t *testing.T) {
	a := &Adapter{}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Disposition": {`form-data; name="event_log"`}})
	require.NoError(t, err)
	_, err = part.Write([]byte(`<EventNotificationAlert>` +
		`<serialNumber>GATE9</serialNumber>` +
		`<employeeNoString>55</employeeNoString>` +
		`<name>Bob</name>` +
		`<attendanceStatus>checkOut</attendanceStatus>` +
		`<time>2026-03-02 17:01:00</time>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	decoded, err := a.Decode(w.FormDataContentType(), buf.Bytes(), "")
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)

	ev := decoded.Event
	assert.Equal(t, "gate9", ev.DeviceID)
	assert.Equal(t, "55", ev.EmployeeID)
	assert.Equal(t, "Bob", ev.EmployeeName)
	assert.Equal(t, v1.StatusOut, ev.StatusHint)
	assert.Equal(t, time.Date(2026, 3, 2, 17, 1, 0, 0, time.UTC), ev.EventTime.UTC())
}

func TestDeviceIDPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		pathDeviceID string
		defaultID    string
		expected     string
	}{
		{
			name:     "payload wins",
			body:     `{"deviceId":"FROM-PAYLOAD","employeeId":"1"}`,
			expected: "from-payload",
		},
		{
			name:         "path beats default",
			body:         `{"employeeId":"1"}`,
			pathDeviceID: "FROM-PATH",
			defaultID:    "fallback",
			expected:     "from-path",
		},
		{
			name:      "default as last resort",
			body:      `{"employeeId":"1"}`,
			defaultID: "fallback",
			expected:  "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Adapter{DefaultDeviceID: tt.defaultID}
			decoded, err := a.Decode("application/json", []byte(tt.body), tt.pathDeviceID)
			require.NoError(t, err)
			require.NotNil(t, decoded.Event)
			assert.Equal(t, tt.expected, decoded.Event.DeviceID)
		})
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"checkIn", v1.StatusIn},
		{"CHECK_IN", v1.StatusIn},
		{"1", v1.StatusIn},
		{"checkOut", v1.StatusOut},
		{"clock_out", v1.StatusOut},
		{"0", v1.StatusOut},
		{"2", v1.StatusOut},
		{"", v1.StatusUnknown},
		{"faceVerifyPass", v1.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeStatus(tt.in))
		})
	}
}

func TestDecodeDefaultsStatusAndTime(t *testing.T) {
	a := &Adapter{}
	before := time.Now()
	decoded, err := a.Decode("application/json", []byte(`{"deviceId":"d1","employeeId":"9"}`), "")
	require.NoError(t, err)
	require.NotNil(t, decoded.Event)

	assert.Equal(t, v1.StatusUnknown, decoded.Event.StatusHint)
	assert.False(t, decoded.Event.EventTime.Before(before), "missing time should default to now")
}
