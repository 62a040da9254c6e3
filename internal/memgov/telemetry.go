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

package memgov

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	alertsCounter   metric.Int64Counter
	cleanupsCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adminguard/internal/memgov")

	var err error

	alertsCounter, err = meter.Int64Counter(
		"adminguard.memgov.alerts",
		metric.WithDescription("Number of memory threshold crossings"),
	)
	if err != nil {
		log.Fatalf("failed to create memgov.alerts counter: %v", err)
	}

	cleanupsCounter, err = meter.Int64Counter(
		"adminguard.memgov.cleanups",
		metric.WithDescription("Number of cleanup passes run"),
	)
	if err != nil {
		log.Fatalf("failed to create memgov.cleanups counter: %v", err)
	}
}

func registerUsageGauge(g *Governor) {
	meter := otel.Meter("github.com/cardinalhq/adminguard/internal/memgov")
	_, err := meter.Int64ObservableGauge(
		"adminguard.memgov.usage_bytes",
		metric.WithDescription("Current memory usage as seen by the governor"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			usage, _ := g.readUsage()
			o.Observe(int64(usage))
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create memgov.usage_bytes gauge: %v", err)
	}
}

func recordAlert(metricName string) {
	alertsCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("metric", metricName)))
}

func recordCleanup(kind string) {
	cleanupsCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}
