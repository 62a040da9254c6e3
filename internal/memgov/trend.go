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

// trendSample is one usage reading in the leak-detection window.
type trendSample struct {
	usage uint64
}

func (g *Governor) pushSampleLocked(usage uint64) {
	g.samples = append(g.samples, trendSample{usage: usage})
	if len(g.samples) > g.cfg.TrendSamples {
		g.samples = g.samples[len(g.samples)-g.cfg.TrendSamples:]
	}
}

// olsSlope fits usage over sample index by ordinary least squares and
// returns the slope in bytes per sample:
//
//	slope = (n·Σxy − Σx·Σy) / (n·Σx² − (Σx)²)
func olsSlope(samples []trendSample) float64 {
	n := float64(len(samples))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range samples {
		x := float64(i)
		y := float64(s.usage)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
