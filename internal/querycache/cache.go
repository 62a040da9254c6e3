// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package querycache memoizes expensive reads against the storage backend.
//
// Entries are keyed by a content hash of the normalized query text and
// tagged with a group for bulk invalidation. Freshness is best effort:
// nothing here watches the write path, so callers that mutate data they
// previously cached must invalidate the relevant group themselves.
package querycache

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/cardinalhq/adminguard/internal/logctx"
	"github.com/cardinalhq/adminguard/internal/storagebackend"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

// ComputeFunc executes the underlying read on a cache miss.
type ComputeFunc func(ctx context.Context) (storagebackend.Rows, error)

// Config carries the cache's tunables.
type Config struct {
	// SlowThreshold is the elapsed compute time beyond which a read is
	// recorded in the slow log.
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
	// SlowLogSize bounds the slow log; the oldest entry is dropped first.
	SlowLogSize int `mapstructure:"slow_log_size"`
	// MaxLoggedQueryLen truncates query text before it reaches the slow log.
	MaxLoggedQueryLen int `mapstructure:"max_logged_query_len"`
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() Config {
	return Config{
		SlowThreshold:     500 * time.Millisecond,
		SlowLogSize:       100,
		MaxLoggedQueryLen: 200,
	}
}

// Stats are the cache's lifetime counters for reporting.
type Stats struct {
	TotalReads int64
	Hits       int64
	SlowReads  int64
	// TimeSaved is the summed compute cost of every hit, i.e. backend time
	// not spent.
	TimeSaved time.Duration
}

// cached is the stored value: result rows plus what they cost to compute,
// so hits can account for time saved.
type cached struct {
	rows storagebackend.Rows
	cost time.Duration
}

// Cache memoizes reads in the TTL store.
type Cache struct {
	store ttlstore.Store
	cfg   Config
	slow  *slowLog

	totalReads atomic.Int64
	hits       atomic.Int64
	slowReads  atomic.Int64
	timeSaved  atomic.Int64 // nanoseconds
}

// New creates a Cache on the given store.
func New(store ttlstore.Store, cfg Config) *Cache {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = DefaultConfig().SlowThreshold
	}
	if cfg.SlowLogSize <= 0 {
		cfg.SlowLogSize = DefaultConfig().SlowLogSize
	}
	if cfg.MaxLoggedQueryLen <= 0 {
		cfg.MaxLoggedQueryLen = DefaultConfig().MaxLoggedQueryLen
	}
	return &Cache{
		store: store,
		cfg:   cfg,
		slow:  newSlowLog(cfg.SlowLogSize),
	}
}

// Fingerprint returns the cache key for a query: an xxhash of the text
// with runs of whitespace collapsed, so formatting differences do not
// fragment the cache. Parameters must already be substituted.
func Fingerprint(query string) string {
	return strconv.FormatUint(xxhash.Sum64String(normalize(query)), 16)
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// Fetch returns the cached rows for query, or runs compute and caches the
// result. Backend failures propagate and are never cached.
func (c *Cache) Fetch(ctx context.Context, query string, compute ComputeFunc, ttl time.Duration, group string) (storagebackend.Rows, error) {
	c.totalReads.Add(1)

	fp := Fingerprint(query)
	if v, ok := c.store.Get(ctx, fp); ok {
		if entry, ok := v.(cached); ok {
			c.hits.Add(1)
			c.timeSaved.Add(int64(entry.cost))
			recordHit(ctx)
			return entry.rows, nil
		}
	}
	recordMiss(ctx)

	start := time.Now()
	rows, err := compute(ctx)
	elapsed := time.Since(start)

	if elapsed > c.cfg.SlowThreshold {
		c.slowReads.Add(1)
		recordSlowRead(ctx)
		c.slow.add(truncate(query, c.cfg.MaxLoggedQueryLen), elapsed)
		logctx.FromContext(ctx).Warn("Slow read",
			"fingerprint", fp,
			"elapsed", elapsed,
			"threshold", c.cfg.SlowThreshold)
	}
	if err != nil {
		return nil, err
	}

	c.store.Set(ctx, fp, cached{rows: rows, cost: elapsed}, ttl, group)
	return rows, nil
}

// Get returns the cached rows under the query's fingerprint, if live.
func (c *Cache) Get(ctx context.Context, query string) (storagebackend.Rows, bool) {
	v, ok := c.store.Get(ctx, Fingerprint(query))
	if !ok {
		return nil, false
	}
	entry, ok := v.(cached)
	if !ok {
		return nil, false
	}
	return entry.rows, true
}

// Set stores rows under the query's fingerprint directly.
func (c *Cache) Set(ctx context.Context, query string, rows storagebackend.Rows, ttl time.Duration, group string) {
	c.store.Set(ctx, Fingerprint(query), cached{rows: rows}, ttl, group)
}

// Invalidate drops every entry in group, or the whole cache when group is
// empty.
func (c *Cache) Invalidate(ctx context.Context, group string) {
	c.store.Flush(ctx, group)
}

// SlowReads returns a copy of the bounded slow-read log, oldest first.
func (c *Cache) SlowReads() []SlowRead {
	return c.slow.entries()
}

// Stats returns lifetime counters.
func (c *Cache) Stats() Stats {
	return Stats{
		TotalReads: c.totalReads.Load(),
		Hits:       c.hits.Load(),
		SlowReads:  c.slowReads.Load(),
		TimeSaved:  time.Duration(c.timeSaved.Load()),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
