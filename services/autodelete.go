package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"autofilter/metrics"
)

// MessageDeleter removes a chat message
type MessageDeleter interface {
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
}

// AutoDeleter removes bot notices after a delay. Due messages live in a Redis
// sorted set scored by their due unix time, so schedules survive restarts and
// are shared between replicas.
type AutoDeleter struct {
	rdb      *redis.Client
	deleter  MessageDeleter
	delay    time.Duration
	key      string
	interval time.Duration
	batch    int64
	now      func() time.Time
}

// NewAutoDeleter creates an AutoDeleter; a zero delay disables scheduling
func NewAutoDeleter(rdb *redis.Client, deleter MessageDeleter, delay time.Duration) *AutoDeleter {
	return &AutoDeleter{
		rdb:      rdb,
		deleter:  deleter,
		delay:    delay,
		key:      "autodelete:due",
		interval: 5 * time.Second,
		batch:    100,
		now:      time.Now,
	}
}

// Enabled reports whether notices are scheduled at all
func (a *AutoDeleter) Enabled() bool {
	return a.delay > 0
}

func member(chatID, messageID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10)
}

func parseMember(m string) (int64, int64, error) {
	chat, msg, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed schedule entry %q", m)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed chat id in %q: %w", m, err)
	}
	msgID, err := strconv.ParseInt(msg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed message id in %q: %w", m, err)
	}
	return chatID, msgID, nil
}

// Schedule queues a message for deletion after the configured delay
func (a *AutoDeleter) Schedule(ctx context.Context, chatID, messageID int64) error {
	if !a.Enabled() || messageID == 0 {
		return nil
	}
	due := a.now().Add(a.delay).Unix()
	return a.rdb.ZAdd(ctx, a.key, redis.Z{Score: float64(due), Member: member(chatID, messageID)}).Err()
}

// Sweep deletes every message that is due. Each entry is claimed with ZREM
// first so concurrent sweepers never delete the same message twice.
func (a *AutoDeleter) Sweep(ctx context.Context) (int, error) {
	due, err := a.rdb.ZRangeByScore(ctx, a.key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(a.now().Unix(), 10),
		Count: a.batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("load due deletions: %w", err)
	}

	deleted := 0
	for _, m := range due {
		claimed, err := a.rdb.ZRem(ctx, a.key, m).Result()
		if err != nil {
			return deleted, fmt.Errorf("claim %s: %w", m, err)
		}
		if claimed == 0 {
			continue
		}

		chatID, msgID, err := parseMember(m)
		if err != nil {
			log.Printf("⚠️ Auto-delete: %v", err)
			continue
		}
		if err := a.deleter.DeleteMessage(ctx, chatID, msgID); err != nil {
			// Already gone or too old to delete; nothing to retry.
			metrics.IncrementAutoDelete("failed")
			log.Printf("⚠️ Auto-delete of message %d in chat %d failed: %v", msgID, chatID, err)
			continue
		}
		metrics.IncrementAutoDelete("deleted")
		deleted++
	}
	return deleted, nil
}

// Pending returns the number of scheduled deletions
func (a *AutoDeleter) Pending(ctx context.Context) (int64, error) {
	return a.rdb.ZCard(ctx, a.key).Result()
}

// Run sweeps on an interval until ctx is cancelled
func (a *AutoDeleter) Run(ctx context.Context) {
	if !a.Enabled() {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Printf("⚠️ Auto-delete sweep failed: %v", err)
			}
		}
	}
}
