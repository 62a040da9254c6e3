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

package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adminguard/internal/admission"
	"github.com/cardinalhq/adminguard/internal/querycache"
	"github.com/cardinalhq/adminguard/internal/storagebackend"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

func TestCollect(t *testing.T) {
	store := ttlstore.NewMemoryStore()
	defer store.Stop()

	ac := admission.New(store, admission.DefaultConfig())
	ac.RegisterPolicy("save", admission.Policy{Requests: 1, Window: time.Minute})
	qc := querycache.New(store, querycache.DefaultConfig())

	origin := admission.OriginFromString("192.0.2.1")
	ac.Check(context.Background(), "save", admission.Identity{Name: "alice"}, origin)
	ac.Check(context.Background(), "save", admission.Identity{Name: "alice"}, origin)

	compute := func(context.Context) (storagebackend.Rows, error) {
		return storagebackend.Rows{{"v": 1}}, nil
	}
	_, err := qc.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.NoError(t, err)
	_, err = qc.Fetch(context.Background(), "q", compute, time.Minute, "g")
	require.NoError(t, err)

	r := Collect(ac, qc, nil, nil)

	assert.Equal(t, int64(2), r.Admission.Checks)
	assert.Equal(t, int64(1), r.Admission.Denials)
	assert.Equal(t, int64(2), r.Cache.TotalReads)
	assert.Equal(t, int64(1), r.Cache.Hits)
	assert.InDelta(t, 0.5, r.CacheHitRate(), 0.001)
	assert.False(t, r.GeneratedAt.IsZero())
}

func TestCollect_NilComponents(t *testing.T) {
	r := Collect(nil, nil, nil, nil)
	assert.Zero(t, r.Admission.Checks)
	assert.Zero(t, r.CacheHitRate())
}
