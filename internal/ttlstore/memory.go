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

package ttlstore

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// entry is what we actually keep in the cache: the caller's value plus the
// group tag used for bulk invalidation.
type entry struct {
	value any
	group string
}

// MemoryStore is a process-wide Store backed by ttlcache. Touch-on-hit is
// disabled so a rate-limit window's expiry is fixed at creation time and
// reads never extend an entry's life.
type MemoryStore struct {
	cache *ttlcache.Cache[string, entry]

	// incrMu serializes Increment's read-modify-write; ttlcache guards its
	// own map but has no atomic counter primitive.
	incrMu sync.Mutex
}

// NewMemoryStore creates a MemoryStore and starts its background reaper.
// Callers must Stop it when done.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, entry](),
	)
	go cache.Start()
	return &MemoryStore{cache: cache}
}

// Stop halts the background expiry goroutine.
func (s *MemoryStore) Stop() {
	s.cache.Stop()
}

func (s *MemoryStore) Get(_ context.Context, key string) (any, bool) {
	item := s.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value().value, true
}

func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration, group string) {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, entry{value: value, group: group}, ttl)
}

func (s *MemoryStore) Delete(_ context.Context, key string) {
	s.cache.Delete(key)
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) int64 {
	s.incrMu.Lock()
	defer s.incrMu.Unlock()

	var count int64
	var group string
	if item := s.cache.Get(key); item != nil {
		e := item.Value()
		group = e.group
		if n, ok := e.value.(int64); ok {
			count = n
		}
		// Preserve the window's original expiry rather than restarting it.
		if remaining := time.Until(item.ExpiresAt()); remaining > 0 {
			ttl = remaining
		}
	}
	count++
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, entry{value: count, group: group}, ttl)
	return count
}

func (s *MemoryStore) Flush(_ context.Context, group string) {
	if group == "" {
		s.cache.DeleteAll()
		return
	}
	var keys []string
	s.cache.Range(func(item *ttlcache.Item[string, entry]) bool {
		if item.Value().group == group {
			keys = append(keys, item.Key())
		}
		return true
	})
	for _, k := range keys {
		s.cache.Delete(k)
	}
}

func (s *MemoryStore) DeleteExpired() {
	s.cache.DeleteExpired()
}

var _ Store = (*MemoryStore)(nil)
