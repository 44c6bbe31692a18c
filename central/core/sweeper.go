package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"aiclock.com/aiclock/core"
	"aiclock.com/aiclock/infrastructure/communication"
	"aiclock.com/aiclock/infrastructure/devops"
	"gorm.io/gorm"
)

const DefaultSweepInterval = 15 * time.Minute

// Sweeper runs the reconciliation pass on a timer: for every
// registered device it checks today and yesterday in the tenant's
// timezone, so punches that straddle midnight are still compared on
// both sides of the boundary.
type Sweeper struct {
	DM        *core.DatabaseManager
	Registry  *devops.Registry
	Slack     *communication.Slack
	Interval  time.Duration
	Tolerance time.Duration
}

func (s *Sweeper) interval() time.Duration {
	if s.Interval > 0 {
		return s.Interval
	}
	return DefaultSweepInterval
}

// SweepAll reconciles every registered device for today and yesterday.
func (s *Sweeper) SweepAll(ctx context.Context) {
	now := time.Now()
	for _, device := range s.Registry.Devices() {
		loc := s.Registry.TenantLocation(device.Tenant)
		for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
			report, err := s.sweepDevice(ctx, device, day, loc)
			if err != nil {
				log.Printf("sweep %s/%s: %v", device.Tenant, device.ID, err)
				continue
			}
			if report.GapsFound > 0 {
				s.Slack.Info(fmt.Sprintf(
					"reconciliation %s/%s %s: %d gap(s) found, %d healed",
					device.Tenant, device.ID, report.Date, report.GapsFound, report.GapsHealed))
			}
		}
	}
}

func (s *Sweeper) sweepDevice(ctx context.Context, device devops.DeviceEntry, day time.Time, loc *time.Location) (*ReconcileReport, error) {
	var report *ReconcileReport
	err := s.DM.Exec(ctx, device.Tenant, func(db *gorm.DB) error {
		var err error
		report, err = ReconcileDay(db, device.ID, day, loc, s.Tolerance)
		return err
	})
	return report, err
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.SweepAll(ctx)

	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll(ctx)
		}
	}
}
