package server

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"autofilter/database"
)

// FilterReadiness reports whether the banned-word set has been loaded
type FilterReadiness interface {
	Ready() bool
}

// ReadyState tracks initialization state for health checks
type ReadyState struct {
	db            database.Database
	rdb           *redis.Client
	filter        FilterReadiness
	databaseReady atomic.Bool
	redisReady    atomic.Bool
}

// NewReadyState creates a new ReadyState instance
func NewReadyState(db database.Database, rdb *redis.Client, filter FilterReadiness) *ReadyState {
	return &ReadyState{
		db:     db,
		rdb:    rdb,
		filter: filter,
	}
}

// MarkDatabaseReady marks the database (and its migrations) as usable
func (r *ReadyState) MarkDatabaseReady() {
	r.databaseReady.Store(true)
}

// MarkRedisReady marks the Redis initialization as complete
func (r *ReadyState) MarkRedisReady() {
	r.redisReady.Store(true)
}

// IsDatabaseReady returns true once the database has been set up
func (r *ReadyState) IsDatabaseReady() bool {
	return r.databaseReady.Load()
}

// IsRedisReady returns true if Redis initialization is complete
func (r *ReadyState) IsRedisReady() bool {
	return r.redisReady.Load()
}

// IsFilterReady returns true once the banned-word set is loaded
func (r *ReadyState) IsFilterReady() bool {
	return r.filter != nil && r.filter.Ready()
}

// IsFullyReady returns true if all initialization steps are complete
func (r *ReadyState) IsFullyReady() bool {
	return r.IsDatabaseReady() && r.IsRedisReady() && r.IsFilterReady()
}

// Probe performs live checks against the backing stores. The returned
// string names the first failing component.
func (r *ReadyState) Probe(ctx context.Context) (string, error) {
	if r.db == nil {
		return "database", errNotConfigured
	}
	if err := database.Ping(ctx, r.db); err != nil {
		return "database", err
	}
	if r.rdb == nil {
		return "redis", errNotConfigured
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return "redis", err
	}
	return "", nil
}
