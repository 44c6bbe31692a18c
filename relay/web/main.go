package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	v1 "aiclock.com/aiclock/aiclock/v1"
	"aiclock.com/aiclock/infrastructure/communication"
	"aiclock.com/aiclock/infrastructure/devops"
	"aiclock.com/aiclock/relay/adapter"
	"aiclock.com/aiclock/relay/forward"
	"aiclock.com/aiclock/relay/poller"
	"aiclock.com/aiclock/relay/store"
	"aiclock.com/aiclock/relay/web/handlers"
	"aiclock.com/aiclock/security"
	"github.com/gin-gonic/gin"
)

func main() {
	r := gin.Default()

	dbPath := os.Getenv("AICLOCK_DB_PATH")
	if dbPath == "" {
		dbPath = "./clock_events.db"
	}
	fmt.Printf("using local store: %s\n", dbPath)

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	registry, err := devops.LoadRegistry(ctx)
	if err != nil {
		log.Fatal("Failed to load device registry:", err)
	}

	cloudURL := os.Getenv("AICLOCK_URL")
	if cloudURL == "" {
		cloudURL = "http://localhost:8090"
	}

	defaultDeviceID := os.Getenv("AICLOCK_DEVICE_ID")
	tenant := ""
	if device, ok := registry.Device(defaultDeviceID); ok {
		tenant = device.Tenant
	}

	token, err := security.CreateDeviceToken(&security.DeviceIdentity{
		DeviceID: defaultDeviceID,
		Tenant:   tenant,
	}, os.Getenv("AICLOCK_SIGNING_SECRET"), 90*24*3600)
	if err != nil {
		log.Fatal("Failed to create device token:", err)
	}

	client := v1.NewAiClockClient(cloudURL, token, 15*time.Second)
	slack := communication.ConnectSlack()

	fwd := &forward.Forwarder{Store: st, Client: client}
	scheduler := &forward.RetryScheduler{Forwarder: fwd}
	go scheduler.Run(ctx)

	p := &poller.Poller{Store: st, Forwarder: fwd, Devices: registry.Devices()}
	go p.Run(ctx)

	rt := &handlers.Runtime{
		Store:     st,
		Adapter:   &adapter.Adapter{DefaultDeviceID: defaultDeviceID},
		Forwarder: fwd,
		Poller:    p,
		Slack:     slack,
		Registry:  registry,
	}

	webhook := handlers.WebhookHandler(rt)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.GET("/health", handlers.HealthHandler(rt))
	r.POST("/webhook", webhook)
	r.GET("/api/events", handlers.SearchEventsHandler(rt))
	r.POST("/sync/:deviceId", handlers.SyncDeviceHandler(rt))

	// Some firmwares can only be pointed at a fixed URL pattern like
	// /DEVICE123-webhook, so any path with that suffix is accepted and
	// the device id is lifted from the path itself.
	r.NoRoute(func(c *gin.Context) {
		path := strings.Trim(c.Request.URL.Path, "/")
		if c.Request.Method == http.MethodPost && strings.HasSuffix(path, "-webhook") {
			c.Params = append(c.Params, gin.Param{
				Key:   "deviceId",
				Value: strings.TrimSuffix(path, "-webhook"),
			})
			webhook(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	r.Run("0.0.0.0:8080")
}
