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

// Package mutbatch coalesces small mutations into bulk backend calls.
//
// Payloads accumulate per (collection, kind) and flush when a queue
// reaches the batch size, on a recurring timer, at shutdown, or when a
// caller asks for immediate execution. Delivery is at most once: a failed
// flush is logged and the batch is dropped, trading completeness for
// bounded memory. Callers that cached reads over mutated data must
// invalidate the relevant cache group themselves.
package mutbatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/adminguard/internal/logctx"
	"github.com/cardinalhq/adminguard/internal/storagebackend"
)

// Kind names a mutation class.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Config carries the batcher's tunables.
type Config struct {
	// MaxBatchSize is the per-(collection,kind) queue length that forces a
	// synchronous flush of that slice.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// FlushInterval is the cadence of the background FlushAll.
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// DefaultConfig returns the batcher defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  100,
		FlushInterval: time.Hour,
	}
}

// Stats are the batcher's lifetime counters for reporting.
type Stats struct {
	Enqueued      int64
	Flushes       int64
	FlushFailures int64
	RowsWritten   int64
	UpdateGroups  int64
}

// Batcher accumulates mutations per collection and kind.
type Batcher struct {
	backend storagebackend.Backend
	cfg     Config
	ll      *slog.Logger

	mu      sync.Mutex
	inserts map[string][]storagebackend.Row
	updates map[string][]storagebackend.Update
	deletes map[string][]storagebackend.Row

	enqueued      atomic.Int64
	flushes       atomic.Int64
	flushFailures atomic.Int64
	rowsWritten   atomic.Int64
	updateGroups  atomic.Int64
}

// New creates a Batcher writing through the given backend.
func New(backend storagebackend.Backend, cfg Config, logger *slog.Logger) *Batcher {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		backend: backend,
		cfg:     cfg,
		ll:      logger.With("component", "mutbatch"),
		inserts: make(map[string][]storagebackend.Row),
		updates: make(map[string][]storagebackend.Update),
		deletes: make(map[string][]storagebackend.Row),
	}
}

// Enqueue adds one mutation. Insert and delete payloads are
// storagebackend.Row; update payloads are storagebackend.Update. The slice
// flushes synchronously when immediate is set or the queue reaches the
// batch size; otherwise control returns right away.
func (b *Batcher) Enqueue(ctx context.Context, collection string, kind Kind, payload any, immediate bool) error {
	switch kind {
	case KindInsert:
		row, ok := payload.(storagebackend.Row)
		if !ok {
			return fmt.Errorf("insert payload for %s must be storagebackend.Row, got %T", collection, payload)
		}
		return b.EnqueueInsert(ctx, collection, row, immediate)
	case KindUpdate:
		u, ok := payload.(storagebackend.Update)
		if !ok {
			return fmt.Errorf("update payload for %s must be storagebackend.Update, got %T", collection, payload)
		}
		return b.EnqueueUpdate(ctx, collection, u, immediate)
	case KindDelete:
		cond, ok := payload.(storagebackend.Row)
		if !ok {
			return fmt.Errorf("delete payload for %s must be storagebackend.Row, got %T", collection, payload)
		}
		return b.EnqueueDelete(ctx, collection, cond, immediate)
	default:
		return fmt.Errorf("unknown mutation kind %q", kind)
	}
}

func (b *Batcher) EnqueueInsert(ctx context.Context, collection string, row storagebackend.Row, immediate bool) error {
	b.enqueued.Add(1)
	recordEnqueue(ctx, string(KindInsert))

	b.mu.Lock()
	b.inserts[collection] = append(b.inserts[collection], row)
	var due []storagebackend.Row
	if immediate || len(b.inserts[collection]) >= b.cfg.MaxBatchSize {
		due = b.inserts[collection]
		delete(b.inserts, collection)
	}
	b.mu.Unlock()

	if due == nil {
		return nil
	}
	return b.flushInserts(ctx, collection, due)
}

func (b *Batcher) EnqueueUpdate(ctx context.Context, collection string, u storagebackend.Update, immediate bool) error {
	b.enqueued.Add(1)
	recordEnqueue(ctx, string(KindUpdate))

	b.mu.Lock()
	b.updates[collection] = append(b.updates[collection], u)
	var due []storagebackend.Update
	if immediate || len(b.updates[collection]) >= b.cfg.MaxBatchSize {
		due = b.updates[collection]
		delete(b.updates, collection)
	}
	b.mu.Unlock()

	if due == nil {
		return nil
	}
	return b.flushUpdates(ctx, collection, due)
}

func (b *Batcher) EnqueueDelete(ctx context.Context, collection string, cond storagebackend.Row, immediate bool) error {
	b.enqueued.Add(1)
	recordEnqueue(ctx, string(KindDelete))

	b.mu.Lock()
	b.deletes[collection] = append(b.deletes[collection], cond)
	var due []storagebackend.Row
	if immediate || len(b.deletes[collection]) >= b.cfg.MaxBatchSize {
		due = b.deletes[collection]
		delete(b.deletes, collection)
	}
	b.mu.Unlock()

	if due == nil {
		return nil
	}
	return b.flushDeletes(ctx, collection, due)
}

// Flush drains every kind queued for one collection.
func (b *Batcher) Flush(ctx context.Context, collection string) error {
	b.mu.Lock()
	ins := b.inserts[collection]
	ups := b.updates[collection]
	dels := b.deletes[collection]
	delete(b.inserts, collection)
	delete(b.updates, collection)
	delete(b.deletes, collection)
	b.mu.Unlock()

	var errs *multierror.Error
	if len(ins) > 0 {
		errs = multierror.Append(errs, b.flushInserts(ctx, collection, ins))
	}
	if len(ups) > 0 {
		errs = multierror.Append(errs, b.flushUpdates(ctx, collection, ups))
	}
	if len(dels) > 0 {
		errs = multierror.Append(errs, b.flushDeletes(ctx, collection, dels))
	}
	return errs.ErrorOrNil()
}

// FlushAll drains every collection and kind. Queues are cleared whether or
// not the backend calls succeed; failures are reported but never retried.
func (b *Batcher) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	collections := make(map[string]struct{})
	for c := range b.inserts {
		collections[c] = struct{}{}
	}
	for c := range b.updates {
		collections[c] = struct{}{}
	}
	for c := range b.deletes {
		collections[c] = struct{}{}
	}
	b.mu.Unlock()

	var errs *multierror.Error
	for c := range collections {
		errs = multierror.Append(errs, b.Flush(ctx, c))
	}
	return errs.ErrorOrNil()
}

// Start begins the periodic FlushAll loop and returns a cancel function.
func (b *Batcher) Start(ctx context.Context) context.CancelFunc {
	flushCtx, cancel := context.WithCancel(ctx)
	go b.run(flushCtx)
	return cancel
}

func (b *Batcher) run(ctx context.Context) {
	b.ll.Debug("Starting periodic flush loop", "interval", b.cfg.FlushInterval)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.ll.Debug("Context cancelled, stopping flush loop")
			return
		case <-ticker.C:
			if err := b.FlushAll(ctx); err != nil {
				b.ll.Warn("Periodic flush failed (batches dropped)", "error", err)
			}
		}
	}
}

// QueueLen reports the pending count for one (collection, kind).
func (b *Batcher) QueueLen(collection string, kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case KindInsert:
		return len(b.inserts[collection])
	case KindUpdate:
		return len(b.updates[collection])
	case KindDelete:
		return len(b.deletes[collection])
	}
	return 0
}

// Stats returns lifetime counters.
func (b *Batcher) Stats() Stats {
	return Stats{
		Enqueued:      b.enqueued.Load(),
		Flushes:       b.flushes.Load(),
		FlushFailures: b.flushFailures.Load(),
		RowsWritten:   b.rowsWritten.Load(),
		UpdateGroups:  b.updateGroups.Load(),
	}
}

func (b *Batcher) flushInserts(ctx context.Context, collection string, rows []storagebackend.Row) error {
	b.flushes.Add(1)
	recordFlush(ctx, string(KindInsert))

	// Callers are responsible for homogeneous payloads; the bulk statement
	// uses the first row's column set, so flag stragglers loudly.
	firstCols := mapset.NewThreadUnsafeSet[string]()
	for c := range rows[0] {
		firstCols.Add(c)
	}
	for i, row := range rows[1:] {
		cols := mapset.NewThreadUnsafeSet[string]()
		for c := range row {
			cols.Add(c)
		}
		if !cols.Equal(firstCols) {
			b.ll.Warn("Heterogeneous insert batch, extra columns dropped",
				"collection", collection, "row", i+1)
		}
	}

	affected, err := b.backend.ExecuteBulkInsert(ctx, collection, rows)
	if err != nil {
		b.flushFailures.Add(1)
		recordFlushFailure(ctx, string(KindInsert))
		logctx.FromContext(ctx).Error("Bulk insert failed, batch dropped",
			"collection", collection, "rows", len(rows), "error", err)
		return fmt.Errorf("flush inserts for %s: %w", collection, err)
	}
	b.rowsWritten.Add(affected)
	return nil
}

func (b *Batcher) flushUpdates(ctx context.Context, collection string, updates []storagebackend.Update) error {
	b.flushes.Add(1)
	recordFlush(ctx, string(KindUpdate))

	var errs *multierror.Error
	for _, g := range groupUpdates(updates) {
		b.updateGroups.Add(1)
		affected, err := b.backend.ExecuteBulkUpdate(ctx, collection, g.updates)
		b.rowsWritten.Add(affected)
		// A group counts as successful if any of its rows landed. Row-level
		// failures inside a surviving group are logged and otherwise
		// dropped; the caller only ever sees group-level outcomes.
		if affected > 0 {
			if err != nil {
				b.ll.Debug("Partial update group failure",
					"collection", collection, "signature", g.signature, "error", err)
			}
			continue
		}
		if err != nil {
			b.flushFailures.Add(1)
			recordFlushFailure(ctx, string(KindUpdate))
			logctx.FromContext(ctx).Error("Update group failed, batch dropped",
				"collection", collection, "signature", g.signature,
				"rows", len(g.updates), "error", err)
			errs = multierror.Append(errs, fmt.Errorf("flush update group %s for %s: %w", g.signature, collection, err))
		}
	}
	return errs.ErrorOrNil()
}

func (b *Batcher) flushDeletes(ctx context.Context, collection string, conds []storagebackend.Row) error {
	b.flushes.Add(1)
	recordFlush(ctx, string(KindDelete))

	affected, err := b.backend.ExecuteBulkDelete(ctx, collection, conds)
	if err != nil {
		b.flushFailures.Add(1)
		recordFlushFailure(ctx, string(KindDelete))
		logctx.FromContext(ctx).Error("Bulk delete failed, batch dropped",
			"collection", collection, "conditions", len(conds), "error", err)
		return fmt.Errorf("flush deletes for %s: %w", collection, err)
	}
	b.rowsWritten.Add(affected)
	return nil
}
