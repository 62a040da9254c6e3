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

// Package ttlstore defines the expiring key/value store the governance
// layer coordinates through, and provides the in-process implementation.
//
// Rate-limit counters and cached query results live here rather than in
// request-scoped memory so state survives across independent request
// lifetimes. Keys are flat strings; the group is a logical namespace that
// supports bulk invalidation without enumerating keys.
package ttlstore

import (
	"context"
	"time"
)

// Store is the minimal contract the admission controller and query cache
// require. Increment must be atomic with respect to concurrent callers on
// the same key; Flush with an empty group clears everything.
type Store interface {
	// Get returns the live value for key, or false if absent or expired.
	Get(ctx context.Context, key string) (any, bool)

	// Set stores value under key with the given TTL and group. A zero TTL
	// stores the value without expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration, group string)

	// Delete removes key if present.
	Delete(ctx context.Context, key string)

	// Increment atomically adds one to the integer counter at key and
	// returns the new count. A missing or expired key starts at zero; the
	// TTL is applied only when the counter is created, so a window's
	// expiry is fixed at its first hit.
	Increment(ctx context.Context, key string, ttl time.Duration) int64

	// Flush removes every entry in the given group, or all entries when
	// group is empty.
	Flush(ctx context.Context, group string)

	// DeleteExpired reaps entries whose TTL has passed but which have not
	// yet been lazily evicted.
	DeleteExpired()
}
