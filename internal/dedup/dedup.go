package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator checks and records whether an LP alert has already been sent.
type Deduplicator struct {
	rdb *redis.Client
}

// New creates a Deduplicator backed by Redis.
func New(redisURL, password string) (*Deduplicator, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Deduplicator{rdb: rdb}, nil
}

// Client exposes the connection so other Redis-backed components share it.
func (d *Deduplicator) Client() *redis.Client {
	return d.rdb
}

// Close shuts down the Redis connection.
func (d *Deduplicator) Close() error {
	return d.rdb.Close()
}

// AlreadySent returns true if key was recorded. When Redis is unreachable it
// also returns true so that an outage never turns into an alert storm.
func (d *Deduplicator) AlreadySent(ctx context.Context, key string) bool {
	exists, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		return true
	}
	return exists > 0
}

// Record marks key as sent permanently (no expiry).
func (d *Deduplicator) Record(ctx context.Context, key string) {
	d.rdb.Set(ctx, key, "1", 0) // 0 = no expiry
}

// RecordFor marks key as sent for ttl.
func (d *Deduplicator) RecordFor(ctx context.Context, key string, ttl time.Duration) {
	d.rdb.Set(ctx, key, "1", ttl)
}

// Clear removes a dedup key so the alert can fire again when the condition resets.
func (d *Deduplicator) Clear(ctx context.Context, key string) {
	d.rdb.Del(ctx, key) //nolint:errcheck
}

// ClearByPattern removes every key matching a glob, e.g. all keys of a
// deleted watch.
func (d *Deduplicator) ClearByPattern(ctx context.Context, pattern string) {
	iter := d.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if iter.Err() != nil || len(keys) == 0 {
		return
	}
	d.rdb.Del(ctx, keys...) //nolint:errcheck
}

// ILAlertKey guards the impermanent loss alert of a watch.
func ILAlertKey(watchID int64) string {
	return fmt.Sprintf("lp:il:%d", watchID)
}

// DailyReportKey guards the daily report of a watch for one UTC day.
func DailyReportKey(watchID int64, day time.Time) string {
	return fmt.Sprintf("lp:daily:%d:%s", watchID, day.UTC().Format("2006-01-02"))
}

// DailyReportPattern matches the daily report keys of a watch.
func DailyReportPattern(watchID int64) string {
	return fmt.Sprintf("lp:daily:%d:*", watchID)
}
