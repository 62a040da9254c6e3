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

// Package reporting assembles one snapshot of the governance layer's
// counters for dashboards. This is an in-process struct, not a wire
// format; nothing external depends on its byte layout.
package reporting

import (
	"time"

	"github.com/cardinalhq/adminguard/internal/admission"
	"github.com/cardinalhq/adminguard/internal/memgov"
	"github.com/cardinalhq/adminguard/internal/mutbatch"
	"github.com/cardinalhq/adminguard/internal/querycache"
)

// Report is a point-in-time aggregate of all four components.
type Report struct {
	GeneratedAt time.Time

	Admission admission.Stats
	Cache     querycache.Stats
	Batch     mutbatch.Stats
	Memory    memgov.Stats

	SlowReads    []querycache.SlowRead
	MemoryAlerts []memgov.AlertEvent
}

// Collect builds a Report from whichever components exist; nil components
// contribute zero values.
func Collect(ac *admission.Controller, qc *querycache.Cache, mb *mutbatch.Batcher, mg *memgov.Governor) Report {
	r := Report{GeneratedAt: time.Now()}
	if ac != nil {
		r.Admission = ac.Stats()
	}
	if qc != nil {
		r.Cache = qc.Stats()
		r.SlowReads = qc.SlowReads()
	}
	if mb != nil {
		r.Batch = mb.Stats()
	}
	if mg != nil {
		r.Memory = mg.Stats()
		r.MemoryAlerts = mg.Alerts()
	}
	return r
}

// CacheHitRate returns hits over total reads, or zero with no traffic.
func (r Report) CacheHitRate() float64 {
	if r.Cache.TotalReads == 0 {
		return 0
	}
	return float64(r.Cache.Hits) / float64(r.Cache.TotalReads)
}
