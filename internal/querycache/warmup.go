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

package querycache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WarmQuery is one known-hot read the warmer keeps cached independent of
// user traffic.
type WarmQuery struct {
	Name    string
	Query   string
	Compute ComputeFunc
	TTL     time.Duration
	Group   string
}

// Warmer refreshes a registered list of hot queries on a fixed cadence so
// the first real request after a cold start is already served from cache.
type Warmer struct {
	cache    *Cache
	interval time.Duration
	ll       *slog.Logger

	mu      sync.Mutex
	queries []WarmQuery
}

// NewWarmer creates a Warmer on the given cache.
func NewWarmer(cache *Cache, interval time.Duration, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		cache:    cache,
		interval: interval,
		ll:       logger.With("component", "cachewarmer"),
	}
}

// Register adds a query to the warm-up list.
func (w *Warmer) Register(q WarmQuery) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queries = append(w.queries, q)
}

// Start begins the warm-up loop in a goroutine and returns a cancel
// function. The first pass runs immediately.
func (w *Warmer) Start(ctx context.Context) context.CancelFunc {
	warmCtx, cancel := context.WithCancel(ctx)
	go w.run(warmCtx)
	return cancel
}

func (w *Warmer) run(ctx context.Context) {
	w.ll.Debug("Starting cache warm-up loop", "interval", w.interval)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.ll.Debug("Context cancelled, stopping warm-up loop")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce fetches every registered query once. Failures are logged and do
// not stop the pass.
func (w *Warmer) RunOnce(ctx context.Context) {
	w.mu.Lock()
	queries := make([]WarmQuery, len(w.queries))
	copy(queries, w.queries)
	w.mu.Unlock()

	for _, q := range queries {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.cache.Fetch(ctx, q.Query, q.Compute, q.TTL, q.Group); err != nil {
			w.ll.Warn("Warm-up fetch failed (continuing)", "query", q.Name, "error", err)
		}
	}
}
