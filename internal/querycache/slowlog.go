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
	"sync"
	"time"
)

// SlowRead is one slow-log entry. Query is pre-truncated.
type SlowRead struct {
	Query     string
	Elapsed   time.Duration
	Timestamp time.Time
}

// slowLog is a bounded append-only ring of slow reads.
type slowLog struct {
	mu   sync.Mutex
	max  int
	ring []SlowRead
}

func newSlowLog(max int) *slowLog {
	return &slowLog{max: max}
}

func (l *slowLog) add(query string, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring = append(l.ring, SlowRead{
		Query:     query,
		Elapsed:   elapsed,
		Timestamp: time.Now(),
	})
	if len(l.ring) > l.max {
		l.ring = l.ring[len(l.ring)-l.max:]
	}
}

func (l *slowLog) entries() []SlowRead {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SlowRead, len(l.ring))
	copy(out, l.ring)
	return out
}
