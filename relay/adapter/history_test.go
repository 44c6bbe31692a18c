package adapter

import (
	"testing"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHistoryResponse(t *testing.T) {
	body := []byte(`{
		"AcsEvent": {
			"searchID": "abc",
			"responseStatusStrg": "MORE",
			"numOfMatches": 3,
			"totalMatches": 42,
			"InfoList": [
				{"time": "2026-03-02T08:15:30+10:00", "employeeNoString": "1042", "name": "Jane", "attendanceStatus": "checkIn"},
				{"time": "2026-03-02T08:20:00+10:00", "employeeNo": 77, "type": 2},
				{"time": "2026-03-02T08:21:00+10:00", "employeeNoString": "0", "name": "door open"}
			]
		}
	}`)

	page, err := ParseHistoryResponse(body, "GATE9")
	require.NoError(t, err)
	assert.Equal(t, 42, page.TotalMatches)
	assert.Equal(t, 3, page.NumOfMatches, "dropped records still count toward the cursor")
	require.Len(t, page.Events, 2, "the no-employee record is dropped")

	first := page.Events[0]
	assert.Equal(t, "gate9", first.DeviceID)
	assert.Equal(t, "1042", first.EmployeeID)
	assert.Equal(t, "Jane", first.EmployeeName)
	assert.Equal(t, v1.StatusIn, first.StatusHint)
	assert.Equal(t, v1.SourceHistoryPoll, first.SourceChannel)
	assert.Equal(t, time.Date(2026, 3, 1, 22, 15, 30, 0, time.UTC), first.EventTime.UTC())

	second := page.Events[1]
	assert.Equal(t, "77", second.EmployeeID)
	assert.Equal(t, v1.StatusOut, second.StatusHint, "numeric type 2 falls back to out")
}

func TestParseHistoryResponseBadBody(t *testing.T) {
	_, err := ParseHistoryResponse([]byte("<html>busy</html>"), "gate9")
	assert.Error(t, err)
}

func TestParseHistoryResponseEmptyPage(t *testing.T) {
	page, err := ParseHistoryResponse([]byte(`{"AcsEvent":{"numOfMatches":0,"totalMatches":0}}`), "gate9")
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Zero(t, page.NumOfMatches)
	assert.Zero(t, page.TotalMatches)
}
