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
	"runtime"

	"github.com/KimMachineGun/automemlimit/memlimit"
)

// readRuntimeUsage reads live heap bytes and total bytes obtained from the
// OS. The latter stands in for peak usage: Go never returns most of it.
func readRuntimeUsage() (usage, peak uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

// DetectLimit discovers the memory ceiling the host enforces: the cgroup
// limit when containerized, total system memory otherwise. Zero means
// unknown.
func DetectLimit() uint64 {
	if v, err := memlimit.FromCgroup(); err == nil && v > 0 {
		return v
	}
	if v, err := memlimit.FromSystem(); err == nil && v > 0 {
		return v
	}
	return 0
}
