package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"aiclock.com/aiclock/infrastructure/communication"
	"aiclock.com/aiclock/infrastructure/devops"
	"aiclock.com/aiclock/relay/adapter"
	"aiclock.com/aiclock/relay/forward"
	"aiclock.com/aiclock/relay/poller"
	"aiclock.com/aiclock/relay/store"
	"aiclock.com/aiclock/utils"
	"aiclock.com/aiclock/web/common"
	"github.com/gin-gonic/gin"
)

// Runtime bundles the relay's long-lived pieces for the handlers.
type Runtime struct {
	Store     *store.Store
	Adapter   *adapter.Adapter
	Forwarder *forward.Forwarder
	Poller    *poller.Poller
	Slack     *communication.Slack
	Registry  *devops.Registry

	// ForwardTimeout bounds the opportunistic immediate forward that
	// follows a successful local write.
	ForwardTimeout time.Duration
}

func (rt *Runtime) forwardTimeout() time.Duration {
	if rt.ForwardTimeout > 0 {
		return rt.ForwardTimeout
	}
	return 15 * time.Second
}

// WebhookHandler ingests terminal pushes. The contract with the
// terminal is strict: always acknowledge with 200, no matter what,
// because a non-200 makes some firmwares re-send forever and others
// drop the event on the floor. Durability comes from the local write;
// cloud delivery is attempted afterwards and retried by the scheduler.
func WebhookHandler(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		decoded, err := rt.Adapter.Decode(c.ContentType(), body, c.Param("deviceId"))
		if err != nil || decoded.Heartbeat {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		rec, err := rt.Store.AppendRecord(*decoded.Event)
		if err != nil {
			log.Printf("webhook: failed to store event from %s: %v", decoded.Event.DeviceID, err)
			rt.Slack.Error(fmt.Sprintf("relay: local store write failed for device %s: %v", decoded.Event.DeviceID, err))
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}

		// Event is safe on disk; try the cloud without holding up the
		// terminal's ack.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), rt.forwardTimeout())
			defer cancel()
			if err := rt.Forwarder.ForwardRecord(ctx, rec); err != nil {
				log.Printf("webhook: immediate forward failed for record %d: %v", rec.ID, err)
			}
		}()

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// HealthHandler reports queue depth alongside liveness.
func HealthHandler(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := rt.Store.Stats()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"totalEvents": stats.TotalEvents,
			"forwarded":   stats.Forwarded,
			"pendingSync": stats.PendingSync,
		})
	}
}

// SearchEventsHandler lists locally stored events, newest first.
func SearchEventsHandler(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := store.SearchFilter{DeviceID: c.Query("deviceId")}

		if s := c.Query("startDate"); s != "" {
			t, err := time.Parse(utils.DateLayout, s)
			if err != nil {
				c.JSON(http.StatusBadRequest, common.NewErrorResponse("startDate must be YYYY-MM-DD"))
				return
			}
			filter.StartDate = &t
		}
		if s := c.Query("endDate"); s != "" {
			t, err := time.Parse(utils.DateLayout, s)
			if err != nil {
				c.JSON(http.StatusBadRequest, common.NewErrorResponse("endDate must be YYYY-MM-DD"))
				return
			}
			end := t.AddDate(0, 0, 1).Add(-time.Second)
			filter.EndDate = &end
		}
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, common.NewErrorResponse("limit must be a positive integer"))
				return
			}
			filter.Limit = n
		}

		recs, total, err := rt.Store.Search(filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, common.NewSearchResponse(recs, total))
	}
}

// SyncDeviceHandler triggers an on-demand history poll for one
// terminal. A manual trigger is an operator decision, so it bypasses
// the poll cooldown.
func SyncDeviceHandler(rt *Runtime) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Param("deviceId")
		device, ok := rt.Registry.Device(deviceID)
		if !ok {
			c.JSON(http.StatusNotFound, common.NewErrorResponse(fmt.Sprintf("device %q is not registered", deviceID)))
			return
		}

		count, err := rt.Poller.PollDevice(c.Request.Context(), device, true)
		if err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{
			"deviceId": device.ID,
			"fetched":  count,
		}))
	}
}
