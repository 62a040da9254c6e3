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
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adminguard/internal/storagebackend"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	store := ttlstore.NewMemoryStore()
	t.Cleanup(store.Stop)
	return New(store, cfg)
}

func countingCompute(calls *atomic.Int64, rows storagebackend.Rows, err error) ComputeFunc {
	return func(context.Context) (storagebackend.Rows, error) {
		calls.Add(1)
		return rows, err
	}
}

func TestFetch_ComputesOnceWhileLive(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	want := storagebackend.Rows{{"name": "theme", "value": "dark"}}

	var calls atomic.Int64
	compute := countingCompute(&calls, want, nil)

	got, err := c.Fetch(context.Background(), "SELECT * FROM settings", compute, time.Minute, "settings")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = c.Fetch(context.Background(), "SELECT * FROM settings", compute, time.Minute, "settings")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, int64(1), calls.Load(), "second fetch should be served from cache")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.TotalReads)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestFetch_RecomputesAfterExpiry(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	var calls atomic.Int64
	compute := countingCompute(&calls, storagebackend.Rows{{"v": 1}}, nil)

	_, err := c.Fetch(context.Background(), "q", compute, 20*time.Millisecond, "g")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	_, err = c.Fetch(context.Background(), "q", compute, 20*time.Millisecond, "g")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestFetch_RecomputesAfterInvalidate(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	var calls atomic.Int64
	compute := countingCompute(&calls, storagebackend.Rows{{"v": 1}}, nil)

	_, err := c.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.NoError(t, err)

	c.Invalidate(context.Background(), "g")

	_, err = c.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFetch_InvalidateOtherGroupKeepsEntry(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	var calls atomic.Int64
	compute := countingCompute(&calls, storagebackend.Rows{{"v": 1}}, nil)

	_, err := c.Fetch(context.Background(), "q", compute, time.Minute, "g1")
	require.NoError(t, err)

	c.Invalidate(context.Background(), "g2")

	_, err = c.Fetch(context.Background(), "q", compute, time.Minute, "g1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetch_FailureNotCached(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	var calls atomic.Int64
	boom := errors.New("backend down")
	compute := countingCompute(&calls, nil, boom)

	_, err := c.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.ErrorIs(t, err, boom)

	_, err = c.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), calls.Load(), "failures must not be cached")
}

func TestFetch_SlowReadLogged(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlowThreshold = time.Millisecond
	cfg.MaxLoggedQueryLen = 10
	c := newTestCache(t, cfg)

	longQuery := "SELECT something_long FROM somewhere"
	compute := func(context.Context) (storagebackend.Rows, error) {
		time.Sleep(5 * time.Millisecond)
		return storagebackend.Rows{}, nil
	}

	_, err := c.Fetch(context.Background(), longQuery, compute, time.Minute, "g")
	require.NoError(t, err)

	slow := c.SlowReads()
	require.Len(t, slow, 1)
	assert.Len(t, slow[0].Query, 10, "query text should be truncated")
	assert.GreaterOrEqual(t, slow[0].Elapsed, time.Millisecond)
	assert.Equal(t, int64(1), c.Stats().SlowReads)
}

func TestFetch_FingerprintNormalizesWhitespace(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	var calls atomic.Int64
	compute := countingCompute(&calls, storagebackend.Rows{{"v": 1}}, nil)

	_, err := c.Fetch(context.Background(), "SELECT  *\n FROM settings", compute, time.Minute, "g")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "SELECT * FROM settings", compute, time.Minute, "g")
	require.NoError(t, err)

	assert.Equal(t, int64(1), calls.Load())
}

func TestFingerprint_Deterministic(t *testing.T) {
	assert.Equal(t, Fingerprint("SELECT 1"), Fingerprint("SELECT 1"))
	assert.NotEqual(t, Fingerprint("SELECT 1"), Fingerprint("SELECT 2"))
}

func TestGetSet_Direct(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	rows := storagebackend.Rows{{"v": 42}}

	_, ok := c.Get(context.Background(), "q")
	assert.False(t, ok)

	c.Set(context.Background(), "q", rows, time.Minute, "g")
	got, ok := c.Get(context.Background(), "q")
	require.True(t, ok)
	assert.Equal(t, rows, got)
}

func TestWarmer_PrimesCache(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	w := NewWarmer(c, time.Hour, nil)

	var calls atomic.Int64
	w.Register(WarmQuery{
		Name:    "hot-settings",
		Query:   "SELECT * FROM settings",
		Compute: countingCompute(&calls, storagebackend.Rows{{"v": 1}}, nil),
		TTL:     time.Minute,
		Group:   "settings",
	})

	w.RunOnce(context.Background())
	require.Equal(t, int64(1), calls.Load())

	// A user-facing fetch after warm-up is a hit.
	got, err := c.Fetch(context.Background(), "SELECT * FROM settings",
		countingCompute(&calls, nil, errors.New("should not run")), time.Minute, "settings")
	require.NoError(t, err)
	assert.Equal(t, storagebackend.Rows{{"v": 1}}, got)
	assert.Equal(t, int64(1), calls.Load())
}

func TestWarmer_FailuresDoNotStopPass(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	w := NewWarmer(c, time.Hour, nil)

	var okCalls atomic.Int64
	w.Register(WarmQuery{
		Name:    "broken",
		Query:   "q1",
		Compute: func(context.Context) (storagebackend.Rows, error) { return nil, errors.New("boom") },
		TTL:     time.Minute,
	})
	w.Register(WarmQuery{
		Name:    "fine",
		Query:   "q2",
		Compute: countingCompute(&okCalls, storagebackend.Rows{}, nil),
		TTL:     time.Minute,
	})

	w.RunOnce(context.Background())
	assert.Equal(t, int64(1), okCalls.Load())
}
