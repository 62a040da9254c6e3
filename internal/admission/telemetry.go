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

package admission

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	checksCounter  metric.Int64Counter
	denialsCounter metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/adminguard/internal/admission")

	var err error

	checksCounter, err = meter.Int64Counter(
		"adminguard.admission.checks",
		metric.WithDescription("Number of admission checks performed"),
	)
	if err != nil {
		log.Fatalf("failed to create admission.checks counter: %v", err)
	}

	denialsCounter, err = meter.Int64Counter(
		"adminguard.admission.denials",
		metric.WithDescription("Number of admission checks denied"),
	)
	if err != nil {
		log.Fatalf("failed to create admission.denials counter: %v", err)
	}
}

func recordCheck(ctx context.Context, action string) {
	checksCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func recordDenial(ctx context.Context, action string) {
	denialsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}
