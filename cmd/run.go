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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cardinalhq/adminguard/config"
	"github.com/cardinalhq/adminguard/internal/admission"
	"github.com/cardinalhq/adminguard/internal/logctx"
	"github.com/cardinalhq/adminguard/internal/memgov"
	"github.com/cardinalhq/adminguard/internal/mutbatch"
	"github.com/cardinalhq/adminguard/internal/querycache"
	"github.com/cardinalhq/adminguard/internal/reporting"
	"github.com/cardinalhq/adminguard/internal/storagebackend"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the governance loops until signaled",
	RunE: func(_ *cobra.Command, _ []string) error {
		servicename := "adminguard"
		doneCtx, otelShutdown, err := setupTelemetry(servicename)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer func() {
			if err := otelShutdown(); err != nil {
				slog.Error("Error shutting down telemetry", slog.Any("error", err))
			}
		}()

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Database.URL == "" {
			return errors.New("database.url is required (ADMINGUARD_DATABASE_URL)")
		}

		ctx := logctx.WithLogger(doneCtx, slog.Default())

		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to open database pool: %w", err)
		}
		defer pool.Close()
		backend := storagebackend.NewPostgresBackend(pool, cfg.Database.StatementTimeout)

		store := ttlstore.NewMemoryStore()
		defer store.Stop()

		controller := admission.New(store, cfg.Admission)
		cache := querycache.New(store, cfg.Cache)
		batcher := mutbatch.New(backend, cfg.Batch, slog.Default())
		governor := memgov.New(store, cfg.Memory, slog.Default())
		warmer := querycache.NewWarmer(cache, cfg.Warmup.Interval, slog.Default())

		stopFlush := batcher.Start(ctx)
		defer stopFlush()
		stopWarm := warmer.Start(ctx)
		defer stopWarm()
		stopMem := governor.Start(ctx)
		defer stopMem()

		governor.Checkpoint(ctx, "startup")
		slog.Info("Governance loops running",
			slog.Duration("flush_interval", cfg.Batch.FlushInterval),
			slog.Duration("warmup_interval", cfg.Warmup.Interval),
			slog.Duration("memory_check_interval", cfg.Memory.CheckInterval))

		<-doneCtx.Done()
		slog.Info("Shutdown requested")

		// Best effort, run to completion, never retried: a failure here is
		// logged and the process still exits cleanly.
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sctx = logctx.WithLogger(sctx, slog.Default())

		if err := batcher.FlushAll(sctx); err != nil {
			slog.Error("Final flush failed, pending batches dropped", slog.Any("error", err))
		}
		governor.Shutdown(sctx)

		report := reporting.Collect(controller, cache, batcher, governor)
		slog.Info("Final governance report",
			slog.Int64("admission_checks", report.Admission.Checks),
			slog.Int64("admission_denials", report.Admission.Denials),
			slog.Int64("cache_reads", report.Cache.TotalReads),
			slog.Int64("cache_hits", report.Cache.Hits),
			slog.Duration("cache_time_saved", report.Cache.TimeSaved),
			slog.Int64("batch_rows_written", report.Batch.RowsWritten),
			slog.Int64("batch_flush_failures", report.Batch.FlushFailures),
			slog.Int64("memory_alerts", report.Memory.Alerts))
		return nil
	},
}
