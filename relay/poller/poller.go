package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"aiclock.com/aiclock/infrastructure/devops"
	"aiclock.com/aiclock/relay/adapter"
	"aiclock.com/aiclock/relay/forward"
	"aiclock.com/aiclock/relay/store"
	"github.com/google/uuid"
)

// Poller periodically queries each terminal's own event-history API
// over a trailing window and feeds anything the webhook path missed
// back through the normal append path. Webhooks can be lost outright
// (relay down, network partition) with no retry from the terminal
// side; only this pull recovers those.
type Poller struct {
	Store     *store.Store
	Forwarder *forward.Forwarder
	Devices   []devops.DeviceEntry

	// Window is the trailing span of history requested per poll.
	Window time.Duration
	// Cooldown is the minimum spacing between polls of one device.
	// The terminals run tiny HTTP stacks; hammering them causes the
	// webhook sender on the device to stall.
	Cooldown time.Duration
	Interval time.Duration
	Timeout  time.Duration

	HTTPClient *http.Client

	mu       sync.Mutex
	lastPoll map[string]time.Time
}

const (
	DefaultWindow   = 24 * time.Hour
	DefaultCooldown = 5 * time.Minute
	DefaultInterval = 15 * time.Minute
	DefaultTimeout  = 10 * time.Second

	historyPageSize = 30
)

// ErrCooldown is returned when a poll is rejected because the device
// was polled too recently.
var ErrCooldown = fmt.Errorf("device poll cooldown active")

func (p *Poller) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p.HTTPClient = &http.Client{Timeout: timeout}
	return p.HTTPClient
}

// acsSearchCond is the vendor search request for access events.
type acsSearchCond struct {
	SearchID             string `json:"searchID"`
	SearchResultPosition int    `json:"searchResultPosition"`
	MaxResults           int    `json:"maxResults"`
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	StartTime            string `json:"startTime"`
	EndTime              string `json:"endTime"`
}

// PollDevice runs one history poll for the device. force bypasses the
// cooldown (used by the manual trigger). Returns how many previously
// unseen events were appended.
func (p *Poller) PollDevice(ctx context.Context, device devops.DeviceEntry, force bool) (int, error) {
	if !force {
		if err := p.checkCooldown(device.ID); err != nil {
			return 0, err
		}
	}

	window := p.Window
	if window <= 0 {
		window = DefaultWindow
	}

	endTime := time.Now()
	startTime := endTime.Add(-window)

	appended := 0
	position := 0
	searchID := uuid.NewString()

	for {
		page, err := p.fetchPage(ctx, device, searchID, position, startTime, endTime)
		if err != nil {
			return appended, fmt.Errorf("history poll %s: %w", device.ID, err)
		}

		for _, ev := range page.Events {
			exists, err := p.Store.Exists(ev.DeviceID, ev.EmployeeID, ev.EventTime)
			if err != nil {
				return appended, err
			}
			if exists {
				continue
			}

			rec, err := p.Store.AppendRecord(ev)
			if err != nil {
				return appended, err
			}
			appended++

			// Forward right away so recovered events don't wait a
			// full scheduler tick; failures stay queued regardless.
			if p.Forwarder != nil {
				if err := p.Forwarder.ForwardRecord(ctx, rec); err != nil {
					log.Printf("poll %s: %v", device.ID, err)
				}
			}
		}

		// Advance by the device's own record count for the page:
		// non-employee records are filtered out of page.Events, so a
		// page of door-open noise must still move the cursor.
		position += page.NumOfMatches
		if page.NumOfMatches == 0 || position >= page.TotalMatches {
			break
		}
	}

	p.touch(device.ID)
	return appended, nil
}

func (p *Poller) fetchPage(ctx context.Context, device devops.DeviceEntry, searchID string, position int, startTime, endTime time.Time) (*adapter.HistoryPage, error) {
	cond := map[string]acsSearchCond{
		"AcsEventCond": {
			SearchID:             searchID,
			SearchResultPosition: position,
			MaxResults:           historyPageSize,
			Major:                5,
			Minor:                75,
			StartTime:            startTime.Format(time.RFC3339),
			EndTime:              endTime.Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(cond)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s/ISAPI/AccessControl/AcsEvent?format=json", device.Host)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(device.Username, device.Password)

	resp, err := p.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("device responded with status %d: %s", resp.StatusCode, string(b))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return adapter.ParseHistoryResponse(data, device.ID)
}

func (p *Poller) checkCooldown(deviceID string) error {
	cooldown := p.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastPoll[deviceID]; ok && time.Since(last) < cooldown {
		return ErrCooldown
	}
	return nil
}

func (p *Poller) touch(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastPoll == nil {
		p.lastPoll = make(map[string]time.Time)
	}
	p.lastPoll[deviceID] = time.Now()
}

// Run polls every configured device on a fixed interval until ctx is
// cancelled. Devices are polled sequentially; one hung terminal only
// costs its own timeout.
func (p *Poller) Run(ctx context.Context) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, device := range p.Devices {
				n, err := p.PollDevice(ctx, device, false)
				if err == ErrCooldown {
					continue
				}
				if err != nil {
					log.Printf("poll %s failed: %v", device.ID, err)
					continue
				}
				if n > 0 {
					log.Printf("poll %s recovered %d events", device.ID, n)
				}
			}
		}
	}
}
