package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionStore prunes old history
type RetentionStore interface {
	DeleteBroadcastsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartCleanupService schedules RunCleanupTasks on a cron spec ("@daily" by
// default) and runs it once immediately. Stop the returned scheduler on shutdown.
func StartCleanupService(store RetentionStore, schedule string, retentionDays int) (*cron.Cron, error) {
	if schedule == "" {
		schedule = "@daily"
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		RunCleanupTasks(context.Background(), store, retentionDays)
	}); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	go RunCleanupTasks(context.Background(), store, retentionDays)
	c.Start()
	return c, nil
}

// RunCleanupTasks deletes broadcast history older than retentionDays.
// A non-positive retention keeps history forever.
func RunCleanupTasks(ctx context.Context, store RetentionStore, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	log.Println("🧹 Running scheduled cleanup tasks...")

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	n, err := store.DeleteBroadcastsOlderThan(ctx, cutoff)
	if err != nil {
		log.Printf("⚠️ Failed to prune broadcast history: %v", err)
		return
	}
	if n > 0 {
		log.Printf("🗑️ Pruned %d broadcasts older than %d days", n, retentionDays)
	}

	log.Println("🎯 Cleanup tasks completed successfully")
}
