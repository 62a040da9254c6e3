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

package mutbatch

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	enqueueCounter      metric.Int64Counter
	flushCounter        metric.Int64Counter
	flushFailureCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adminguard/internal/mutbatch")

	var err error

	enqueueCounter, err = meter.Int64Counter(
		"adminguard.mutbatch.enqueued",
		metric.WithDescription("Number of mutations enqueued"),
	)
	if err != nil {
		log.Fatalf("failed to create mutbatch.enqueued counter: %v", err)
	}

	flushCounter, err = meter.Int64Counter(
		"adminguard.mutbatch.flushes",
		metric.WithDescription("Number of batch flushes attempted"),
	)
	if err != nil {
		log.Fatalf("failed to create mutbatch.flushes counter: %v", err)
	}

	flushFailureCounter, err = meter.Int64Counter(
		"adminguard.mutbatch.flush_failures",
		metric.WithDescription("Number of batch flushes that failed and were dropped"),
	)
	if err != nil {
		log.Fatalf("failed to create mutbatch.flush_failures counter: %v", err)
	}
}

func recordEnqueue(ctx context.Context, kind string) {
	enqueueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordFlush(ctx context.Context, kind string) {
	flushCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func recordFlushFailure(ctx context.Context, kind string) {
	flushFailureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
