package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	central "aiclock.com/aiclock/central/core"
	"aiclock.com/aiclock/central/web/handlers"
	"aiclock.com/aiclock/core"
	"aiclock.com/aiclock/infrastructure/communication"
	"aiclock.com/aiclock/infrastructure/devops"
	"aiclock.com/aiclock/web/middlewares"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func main() {
	r := gin.Default()
	dsn := os.Getenv("DSN")
	fmt.Printf("using DSN: %s\n", dsn)

	dm, err := core.New(dsn, 10)
	if err != nil {
		log.Fatal(err)
	}
	defer dm.Close()

	ctx := context.Background()
	registry, err := devops.LoadRegistry(ctx)
	if err != nil {
		log.Fatal("Failed to load device registry:", err)
	}

	for _, tenant := range registry.Tenants() {
		if err := dm.Exec(ctx, tenant, func(db *gorm.DB) error {
			return central.Migrate(db)
		}); err != nil {
			log.Fatalf("Failed to migrate tenant %s: %v", tenant, err)
		}
	}

	base64Secret := os.Getenv("AICLOCK_SIGNING_SECRET")
	jwtSecret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		log.Fatal("Failed to decode JWT secret:", err)
	}

	slack := communication.ConnectSlack()
	archiveBucket := os.Getenv("AICLOCK_ARCHIVE_BUCKET")

	sweeper := &central.Sweeper{DM: dm, Registry: registry, Slack: slack}
	go sweeper.Run(ctx)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	protected := r.Group("/api/v1")
	protected.Use(middlewares.Authentication(jwtSecret))
	{
		protected.POST("/events", handlers.IngestEventHandler(dm, registry, slack, archiveBucket))
		protected.GET("/events", handlers.SearchEventsHandler(dm, registry))
		protected.GET("/events/:id/payload", handlers.PayloadHandler(dm, archiveBucket))
		protected.POST("/sync", handlers.SyncHandler(dm, registry))
	}

	r.Run("0.0.0.0:8090")
}
