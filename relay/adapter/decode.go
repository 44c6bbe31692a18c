package adapter

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/relay/model"
	"aiclock.com/aiclock/utils"
)

// Adapter decodes heterogeneous terminal payloads into normalized
// events. Terminals post JSON, url-encoded forms, multipart bodies
// with JSON or XML fragments inside fields, or bare XML/text, and
// the same model may switch encodings between firmware versions.
// All vendor-format knowledge lives here; the pipeline above only
// ever sees model.RawEvent.
type Adapter struct {
	// DefaultDeviceID is used when neither the payload nor the
	// request carries a device identifier.
	DefaultDeviceID string
}

// Decoded is the outcome of one webhook body decode.
type Decoded struct {
	Event *model.RawEvent
	// Heartbeat is true for keepalive traffic: acknowledged to the
	// terminal but never persisted.
	Heartbeat bool
}

var (
	reSerial     = regexp.MustCompile(`(?i)<serialNumber>([^<]+)</serialNumber>`)
	reEmployeeNo = regexp.MustCompile(`(?i)<employeeNo[A-Za-z]*>([^<]+)</employeeNo[A-Za-z]*>`)
	reName       = regexp.MustCompile(`(?i)<name>([^<]+)</name>`)
	reStatus     = regexp.MustCompile(`(?i)<attendanceStatus>([^<]+)</attendanceStatus>`)
	reTime       = regexp.MustCompile(`(?i)<time>([^<]+)</time>`)
)

// Decode parses one webhook body. pathDeviceID is the id segment from
// the request path, if any; contentType is the raw Content-Type
// header. Decode never fails a whole batch on a bad fragment: the
// unparseable parts are dropped and whatever was recognized is kept.
func (a *Adapter) Decode(contentType string, body []byte, pathDeviceID string) (*Decoded, error) {
	mediaType, params, _ := mime.ParseMediaType(contentType)

	var ev model.RawEvent
	found := false

	switch {
	case strings.Contains(mediaType, "json"):
		found = decodeJSON(body, &ev)
	case mediaType == "application/x-www-form-urlencoded":
		found = decodeForm(body, &ev)
	case strings.HasPrefix(mediaType, "multipart/"):
		found = decodeMultipart(body, params["boundary"], &ev)
		if ev.RawDeviceID == "" {
			// Some firmwares only identify themselves in the
			// multipart boundary.
			if id := deviceIDFromBoundary(params["boundary"]); id != "" {
				ev.RawDeviceID = id
			}
		}
	default:
		// Raw XML or text.
		found = decodeFragment(body, &ev)
	}

	// Device id precedence: payload > URL path segment > default.
	if ev.RawDeviceID == "" {
		ev.RawDeviceID = pathDeviceID
	}
	if ev.RawDeviceID == "" {
		ev.RawDeviceID = a.DefaultDeviceID
	}
	ev.DeviceID = strings.ToLower(ev.RawDeviceID)

	// No employee identifier and no access-event marker: keepalive.
	if !found || ev.EmployeeID == "" {
		return &Decoded{Heartbeat: true}, nil
	}

	if ev.StatusHint == "" {
		ev.StatusHint = v1.StatusUnknown
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = time.Now()
	}
	ev.SourceChannel = v1.SourceWebhook
	ev.RawPayload = body

	return &Decoded{Event: &ev}, nil
}

// decodeJSON fills ev from a JSON document, either the vendor's
// AccessControllerEvent envelope or a flat event object. Returns
// whether an access-event marker was found.
func decodeJSON(body []byte, ev *model.RawEvent) bool {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	return decodeJSONDoc(doc, ev)
}

func decodeJSONDoc(doc map[string]interface{}, ev *model.RawEvent) bool {
	if ace, ok := doc["AccessControllerEvent"].(map[string]interface{}); ok {
		ev.RawDeviceID = firstString(ace, "serialNo")
		if ev.RawDeviceID == "" {
			ev.RawDeviceID = firstString(doc, "serialNo", "deviceID", "deviceId")
		}
		ev.EmployeeID = firstString(ace, "employeeNoString", "employeeNo", "verifyNo")
		ev.EmployeeName = firstString(ace, "name")
		ev.StatusHint = NormalizeStatus(firstString(ace, "attendanceStatus", "eventType"))
		ev.EventTime = parseEventTime(firstValue(ace, "time"), firstValue(doc, "dateTime"))
		return true
	}

	// Flat shape used by simpler terminals and by test rigs.
	ev.RawDeviceID = firstString(doc, "deviceId", "deviceID", "serialNo")
	ev.EmployeeID = firstString(doc, "employeeId", "employeeNo", "badgeNo")
	ev.EmployeeName = firstString(doc, "employeeName", "name")
	ev.StatusHint = NormalizeStatus(firstString(doc, "status", "action", "eventType"))
	ev.EventTime = parseEventTime(firstValue(doc, "time"), firstValue(doc, "timestamp"))

	return ev.EmployeeID != ""
}

func decodeForm(body []byte, ev *model.RawEvent) bool {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}

	// Some firmwares wrap the whole event JSON into one form field.
	for _, key := range []string{"event_log", "AccessControllerEvent", "payload"} {
		if v := values.Get(key); v != "" {
			if decodeJSON([]byte(v), ev) {
				return true
			}
		}
	}

	ev.RawDeviceID = values.Get("deviceId")
	ev.EmployeeID = values.Get("employeeId")
	ev.EmployeeName = values.Get("employeeName")
	ev.StatusHint = NormalizeStatus(values.Get("status"))
	ev.EventTime = parseEventTime(values.Get("time"), values.Get("timestamp"))

	return ev.EmployeeID != ""
}

// decodeMultipart walks the form parts attempting JSON first, then
// XML/text pattern extraction, merging whatever each fragment yields.
// A part that parses as nothing is dropped; the rest of the batch is
// unaffected.
func decodeMultipart(body []byte, boundary string, ev *model.RawEvent) bool {
	if boundary == "" {
		return false
	}

	found := false
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			continue
		}

		var partEv model.RawEvent
		ok := decodeJSON(data, &partEv)
		if !ok {
			ok = decodeFragment(data, &partEv)
		}
		if ok {
			mergeEvent(ev, &partEv)
			found = true
		}
	}
	return found
}

// decodeFragment pulls known fields out of an XML or text fragment.
// The fragments terminals send are not well-formed documents, so an
// XML parser is useless here; pattern extraction of the field names
// we know is the reliable option.
func decodeFragment(body []byte, ev *model.RawEvent) bool {
	s := string(body)
	found := false

	if m := reSerial.FindStringSubmatch(s); m != nil {
		ev.RawDeviceID = strings.TrimSpace(m[1])
	}
	if m := reEmployeeNo.FindStringSubmatch(s); m != nil {
		ev.EmployeeID = strings.TrimSpace(m[1])
		found = true
	}
	if m := reName.FindStringSubmatch(s); m != nil {
		ev.EmployeeName = strings.TrimSpace(m[1])
	}
	if m := reStatus.FindStringSubmatch(s); m != nil {
		ev.StatusHint = NormalizeStatus(m[1])
		found = true
	}
	if m := reTime.FindStringSubmatch(s); m != nil {
		ev.EventTime = parseEventTime(m[1], nil)
	}

	return found
}

func mergeEvent(dst, src *model.RawEvent) {
	if dst.RawDeviceID == "" {
		dst.RawDeviceID = src.RawDeviceID
	}
	if dst.EmployeeID == "" {
		dst.EmployeeID = src.EmployeeID
	}
	if dst.EmployeeName == "" {
		dst.EmployeeName = src.EmployeeName
	}
	if dst.StatusHint == "" || dst.StatusHint == v1.StatusUnknown {
		if src.StatusHint != "" {
			dst.StatusHint = src.StatusHint
		}
	}
	if dst.EventTime.IsZero() {
		dst.EventTime = src.EventTime
	}
}

// deviceIDFromBoundary strips the dash padding some firmwares put
// around the serial they embed in the multipart boundary.
func deviceIDFromBoundary(boundary string) string {
	id := strings.TrimLeft(boundary, "-")
	if id == "" || strings.EqualFold(id, "MIME_boundary") {
		return ""
	}
	return id
}

// NormalizeStatus maps the zoo of vendor status values onto the
// in/out/unknown hints the pipeline uses.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "in", "checkin", "check_in", "clock_in", "1":
		return v1.StatusIn
	case "out", "checkout", "check_out", "clock_out", "0", "2":
		return v1.StatusOut
	default:
		return v1.StatusUnknown
	}
}

// parseEventTime accepts the first parseable candidate: RFC3339-ish
// strings via utils.ParseISOTime, or epoch seconds/milliseconds as
// JSON numbers. A terminal with a wrong clock still yields a value;
// validity is judged downstream.
func parseEventTime(candidates ...interface{}) time.Time {
	for _, c := range candidates {
		switch v := c.(type) {
		case nil:
			continue
		case string:
			if t, err := utils.ParseISOTime(v); err == nil {
				return *t
			}
		case float64:
			return epochToTime(int64(v))
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return epochToTime(n)
			}
		}
	}
	return time.Time{}
}

func epochToTime(n int64) time.Time {
	// Heuristic: values past the year 33658 as seconds are millis.
	if n > 1e12 {
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}

func firstValue(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
