package services

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL covers Telegram's redelivery window
const DefaultDedupeTTL = 24 * time.Hour

// Deduper remembers update ids so redelivered webhooks are processed once
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// NewDeduper creates a Deduper storing keys under "update:"
func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &Deduper{rdb: rdb, ttl: ttl, prefix: "update:"}
}

// FirstSeen reports whether updateID is new and marks it as seen.
// A Redis failure returns true with the error so callers can fail open.
func (d *Deduper) FirstSeen(ctx context.Context, updateID int64) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.prefix+strconv.FormatInt(updateID, 10), 1, d.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}
