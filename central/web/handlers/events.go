package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	v1common "aiclock.com/aiclock/aiclock/v1/common"
	central "aiclock.com/aiclock/central/core"
	"aiclock.com/aiclock/central/model"
	"aiclock.com/aiclock/core"
	"aiclock.com/aiclock/infrastructure/communication"
	"aiclock.com/aiclock/infrastructure/devops"
	"aiclock.com/aiclock/infrastructure/filesystem"
	"aiclock.com/aiclock/utils"
	"aiclock.com/aiclock/web/common"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"gorm.io/gorm"
)

// IngestEventHandler accepts one attendance event from a relay or
// poller and routes it to the owning tenant's schema. The response
// uses the status envelope the relay's client parses.
func IngestEventHandler(dm *core.DatabaseManager, registry *devops.Registry, slack *communication.Slack, archiveBucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var dto v1.EventDTO
		if err := c.ShouldBindBodyWith(&dto, binding.JSON); err != nil {
			c.JSON(http.StatusBadRequest, v1common.StatusAPIResponse[*v1.IngestResultDTO]{
				Status: false,
				Error:  common.FormatBindingError(err),
			})
			return
		}

		device, ok := registry.Device(dto.DeviceID)
		if !ok {
			slack.Error(fmt.Sprintf("ingest: event from unmapped device %q (employee %s)", dto.DeviceID, dto.EmployeeID))
			c.JSON(http.StatusUnprocessableEntity, v1common.StatusAPIResponse[*v1.IngestResultDTO]{
				Status: false,
				Error:  fmt.Sprintf("device %q is not registered", dto.DeviceID),
			})
			return
		}

		ctx := c.Request.Context()

		payloadKey := ""
		if archiveBucket != "" {
			if raw, exists := c.Get(gin.BodyBytesKey); exists {
				if body, ok := raw.([]byte); ok {
					key, err := filesystem.ArchivePayload(archiveBucket, device.Tenant, device.ID, ctx, body)
					if err != nil {
						log.Printf("ingest: failed to archive payload: %v", err)
					} else {
						payloadKey = key
					}
				}
			}
		}

		var result *central.IngestResult
		if err := dm.Exec(ctx, device.Tenant, func(db *gorm.DB) error {
			var err error
			result, err = central.Ingest(db, &central.IngestRequest{
				DeviceID:      device.ID,
				EmployeeID:    dto.EmployeeID,
				EmployeeName:  dto.EmployeeName,
				EventTime:     dto.EventTime,
				StatusHint:    dto.StatusHint,
				SourceChannel: dto.SourceChannel,
				PayloadKey:    payloadKey,
			}, registry.TenantLocation(device.Tenant), 0)
			return err
		}); err != nil {
			c.JSON(http.StatusInternalServerError, v1common.StatusAPIResponse[*v1.IngestResultDTO]{
				Status: false,
				Error:  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, v1common.StatusAPIResponse[*v1.IngestResultDTO]{
			Status: true,
			Data: &v1.IngestResultDTO{
				Accepted:  result.Accepted,
				Duplicate: result.Duplicate,
				DedupKey:  result.DedupKey,
			},
		})
	}
}

// SyncHandler runs an on-demand reconciliation for one device and day.
func SyncHandler(dm *core.DatabaseManager, registry *devops.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.Query("deviceId")
		device, ok := registry.Device(deviceID)
		if !ok {
			c.JSON(http.StatusUnprocessableEntity, common.NewErrorResponse(fmt.Sprintf("device %q is not registered", deviceID)))
			return
		}
		if tenantID := c.Query("tenantId"); tenantID != "" && tenantID != device.Tenant {
			c.JSON(http.StatusUnprocessableEntity, common.NewErrorResponse(fmt.Sprintf("device %q does not belong to tenant %q", deviceID, tenantID)))
			return
		}

		loc := registry.TenantLocation(device.Tenant)
		day := time.Now().In(loc)
		if dateStr := c.Query("date"); dateStr != "" {
			parsed, err := time.ParseInLocation(utils.DateLayout, dateStr, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, common.NewErrorResponse("date must be YYYY-MM-DD"))
				return
			}
			day = parsed
		}

		var report *central.ReconcileReport
		if err := dm.Exec(c.Request.Context(), device.Tenant, func(db *gorm.DB) error {
			var err error
			report, err = central.ReconcileDay(db, device.ID, day, loc, 0)
			return err
		}); err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, common.NewSuccessResponse(report))
	}
}

// PayloadHandler streams the archived raw payload behind one
// canonical event.
func PayloadHandler(dm *core.DatabaseManager, archiveBucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if archiveBucket == "" {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("payload archiving is not enabled"))
			return
		}

		tenant := c.Query("tenantId")
		if tenant == "" {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("tenantId is required"))
			return
		}

		var event model.CanonicalEvent
		err := dm.Exec(c.Request.Context(), tenant, func(db *gorm.DB) error {
			return db.Take(&event, "id = ?", c.Param("id")).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("event not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}
		if event.PayloadKey == "" {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("event has no archived payload"))
			return
		}

		var buf bytes.Buffer
		if err := filesystem.ReadFile(archiveBucket, event.PayloadKey, c.Request.Context(), &buf); err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}

		c.Data(http.StatusOK, "application/json", buf.Bytes())
	}
}

// SearchEventsHandler lists canonical events for a tenant, optionally
// filtered by employee and day.
func SearchEventsHandler(dm *core.DatabaseManager, registry *devops.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := c.Query("tenantId")
		if tenant == "" {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("tenantId is required"))
			return
		}

		var events []model.CanonicalEvent
		var total int64
		if err := dm.Exec(c.Request.Context(), tenant, func(db *gorm.DB) error {
			q := db.Model(&model.CanonicalEvent{})
			if employeeID := c.Query("employeeId"); employeeID != "" {
				q = q.Where("employee_id = ?", employeeID)
			}
			if date := c.Query("date"); date != "" {
				q = q.Where("event_date = ?", date)
			}
			if err := q.Count(&total).Error; err != nil {
				return err
			}
			return q.Order("event_time").Limit(500).Find(&events).Error
		}); err != nil {
			c.JSON(http.StatusInternalServerError, common.NewErrorResponse(err.Error()))
			return
		}

		c.JSON(http.StatusOK, common.NewSearchResponse(events, total))
	}
}
