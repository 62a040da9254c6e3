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
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	hitsCounter      metric.Int64Counter
	missesCounter    metric.Int64Counter
	slowReadsCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adminguard/internal/querycache")

	var err error

	hitsCounter, err = meter.Int64Counter(
		"adminguard.querycache.hits",
		metric.WithDescription("Number of reads served from cache"),
	)
	if err != nil {
		log.Fatalf("failed to create querycache.hits counter: %v", err)
	}

	missesCounter, err = meter.Int64Counter(
		"adminguard.querycache.misses",
		metric.WithDescription("Number of reads that went to the backend"),
	)
	if err != nil {
		log.Fatalf("failed to create querycache.misses counter: %v", err)
	}

	slowReadsCounter, err = meter.Int64Counter(
		"adminguard.querycache.slow_reads",
		metric.WithDescription("Number of backend reads exceeding the slow threshold"),
	)
	if err != nil {
		log.Fatalf("failed to create querycache.slow_reads counter: %v", err)
	}
}

func recordHit(ctx context.Context)      { hitsCounter.Add(ctx, 1) }
func recordMiss(ctx context.Context)     { missesCounter.Add(ctx, 1) }
func recordSlowRead(ctx context.Context) { slowReadsCounter.Add(ctx, 1) }
