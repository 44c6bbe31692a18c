package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/relay/model"
)

// acsEventResponse mirrors the terminal's event-history search
// response. Only the fields the pipeline needs are mapped.
type acsEventResponse struct {
	AcsEvent struct {
		SearchID       string         `json:"searchID"`
		ResponseStatus string         `json:"responseStatusStrg"`
		NumOfMatches   int            `json:"numOfMatches"`
		TotalMatches   int            `json:"totalMatches"`
		InfoList       []acsEventInfo `json:"InfoList"`
	} `json:"AcsEvent"`
}

type acsEventInfo struct {
	Time             string      `json:"time"`
	EmployeeNoString string      `json:"employeeNoString"`
	EmployeeNo       json.Number `json:"employeeNo"`
	Name             string      `json:"name"`
	AttendanceStatus string      `json:"attendanceStatus"`
	Type             int         `json:"type"`
	SerialNo         json.Number `json:"serialNo"`
	CardNo           string      `json:"cardNo"`
}

// HistoryPage is one page of a terminal's event-history search.
type HistoryPage struct {
	Events []model.RawEvent
	// NumOfMatches is the terminal's record count for this page. It
	// counts door-open and tamper records too, so it can exceed
	// len(Events); the search cursor must advance by this, not by the
	// filtered count.
	NumOfMatches int
	// TotalMatches is the terminal's count for the whole window,
	// used to decide whether another page is needed.
	TotalMatches int
}

// ParseHistoryResponse decodes one page of the terminal's native
// event-history API. Events come back tagged as history_poll so the
// rest of the pipeline can tell backfill from live traffic.
func ParseHistoryResponse(body []byte, deviceID string) (*HistoryPage, error) {
	var resp acsEventResponse
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	page := &HistoryPage{
		NumOfMatches: resp.AcsEvent.NumOfMatches,
		TotalMatches: resp.AcsEvent.TotalMatches,
	}
	if page.NumOfMatches == 0 {
		// Some firmwares omit numOfMatches; the list length is the
		// next best cursor step.
		page.NumOfMatches = len(resp.AcsEvent.InfoList)
	}
	for _, info := range resp.AcsEvent.InfoList {
		employeeID := info.EmployeeNoString
		if employeeID == "" {
			employeeID = info.EmployeeNo.String()
		}
		if employeeID == "" || employeeID == "0" {
			// Door-open and tamper records carry no employee.
			continue
		}

		status := NormalizeStatus(info.AttendanceStatus)
		if status == v1.StatusUnknown && info.Type != 0 {
			// Older firmwares only report the numeric type.
			if info.Type == 1 {
				status = v1.StatusIn
			} else {
				status = v1.StatusOut
			}
		}

		ev := model.RawEvent{
			DeviceID:      strings.ToLower(deviceID),
			RawDeviceID:   deviceID,
			EmployeeID:    employeeID,
			EmployeeName:  info.Name,
			StatusHint:    status,
			SourceChannel: v1.SourceHistoryPoll,
			EventTime:     parseEventTime(info.Time),
		}
		page.Events = append(page.Events, ev)
	}

	return page, nil
}
