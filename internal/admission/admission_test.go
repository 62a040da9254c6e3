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
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	store := ttlstore.NewMemoryStore()
	t.Cleanup(store.Stop)
	return New(store, cfg)
}

func TestCheck_AllowsWithinLimit(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("save", Policy{Requests: 5, Window: time.Minute})

	principal := Identity{Name: "alice"}
	origin := OriginFromString("192.0.2.10")

	for i := range 5 {
		res := c.Check(context.Background(), "save", principal, origin)
		assert.True(t, res.Allowed, "check %d should be allowed", i+1)
		assert.Equal(t, int64(i+1), res.PrincipalCount)
	}
}

func TestCheck_DeniesOverLimit(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("save", Policy{Requests: 5, Window: time.Minute})
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	principal := Identity{Name: "alice"}
	origin := OriginFromString("192.0.2.10")

	for range 5 {
		res := c.Check(context.Background(), "save", principal, origin)
		require.True(t, res.Allowed)
	}

	// The (limit+1)th check is the one and only denial.
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	res := c.Check(context.Background(), "save", principal, origin)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(6), res.PrincipalCount)
	assert.InDelta(t, 50*time.Second, res.RetryAfter, float64(time.Second))

	stats := c.Stats()
	assert.Equal(t, int64(6), stats.Checks)
	assert.Equal(t, int64(1), stats.Denials)
}

func TestCheck_IndependentPrincipals(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("save", Policy{Requests: 2, Window: time.Minute})

	origin1 := OriginFromString("192.0.2.10")
	origin2 := OriginFromString("198.51.100.20")

	for range 2 {
		require.True(t, c.Check(context.Background(), "save", Identity{Name: "alice"}, origin1).Allowed)
	}
	assert.False(t, c.Check(context.Background(), "save", Identity{Name: "alice"}, origin1).Allowed)

	// A different principal on a different network is unaffected.
	assert.True(t, c.Check(context.Background(), "save", Identity{Name: "bob"}, origin2).Allowed)
}

func TestCheck_SharedOriginGetsDoubleLimit(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("save", Policy{Requests: 2, Window: time.Minute})

	// Same /24, different hosts: they share the origin counter.
	origin := OriginFromString("192.0.2.10")
	sameNet := OriginFromString("192.0.2.99")
	require.Equal(t, origin.Anonymized(), sameNet.Anonymized())

	require.True(t, c.Check(context.Background(), "save", Identity{Name: "alice"}, origin).Allowed)
	require.True(t, c.Check(context.Background(), "save", Identity{Name: "bob"}, sameNet).Allowed)
	require.True(t, c.Check(context.Background(), "save", Identity{Name: "carol"}, origin).Allowed)
	require.True(t, c.Check(context.Background(), "save", Identity{Name: "dave"}, sameNet).Allowed)

	// Fifth hit crosses the 2x origin limit even though the principal is fresh.
	res := c.Check(context.Background(), "save", Identity{Name: "erin"}, origin)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(5), res.OriginCount)
}

func TestCheck_UnregisteredActionUsesDefault(t *testing.T) {
	c := newTestController(t, Config{
		Default: Policy{Requests: 1, Window: time.Minute},
		Grace:   time.Second,
	})

	principal := Identity{Name: "alice"}
	origin := OriginFromString("192.0.2.10")

	assert.True(t, c.Check(context.Background(), "unknown", principal, origin).Allowed)
	assert.False(t, c.Check(context.Background(), "unknown", principal, origin).Allowed)
}

func TestCheck_ZeroRequestLimitDenies(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("locked", Policy{Requests: 0, Window: time.Minute})

	res := c.Check(context.Background(), "locked", Identity{Name: "alice"}, OriginFromString("192.0.2.10"))
	assert.False(t, res.Allowed)
}

func TestCheck_NewWindowResetsCounters(t *testing.T) {
	c := newTestController(t, DefaultConfig())
	c.RegisterPolicy("save", Policy{Requests: 1, Window: time.Minute})
	base := time.Date(2025, 6, 1, 12, 0, 30, 0, time.UTC)
	c.now = func() time.Time { return base }

	principal := Identity{Name: "alice"}
	origin := OriginFromString("192.0.2.10")

	require.True(t, c.Check(context.Background(), "save", principal, origin).Allowed)
	require.False(t, c.Check(context.Background(), "save", principal, origin).Allowed)

	// Next epoch: new counter keys, admission resumes.
	c.now = func() time.Time { return base.Add(time.Minute) }
	assert.True(t, c.Check(context.Background(), "save", principal, origin).Allowed)
}

func TestOrigin_Anonymization(t *testing.T) {
	a := OriginFromAddr(netip.MustParseAddr("192.0.2.10"))
	b := OriginFromAddr(netip.MustParseAddr("192.0.2.200"))
	c := OriginFromAddr(netip.MustParseAddr("192.0.3.10"))

	assert.Equal(t, a.Anonymized(), b.Anonymized(), "same /24 should collapse")
	assert.NotEqual(t, a.Anonymized(), c.Anonymized(), "different /24 should differ")
	assert.NotContains(t, a.Anonymized(), "192.0.2", "raw address must not leak")
}

func TestOrigin_IPv6Anonymization(t *testing.T) {
	a := OriginFromAddr(netip.MustParseAddr("2001:db8:1:2::1"))
	b := OriginFromAddr(netip.MustParseAddr("2001:db8:1:ffff::1"))

	assert.Equal(t, a.Anonymized(), b.Anonymized(), "same /48 should collapse")
}

func TestOrigin_Unparseable(t *testing.T) {
	assert.Equal(t, "unparseable", OriginFromString("not-an-address").Anonymized())
}

func TestDenied_Error(t *testing.T) {
	err := &Denied{Action: "save", RetryAfter: 30 * time.Second}
	assert.Contains(t, err.Error(), "save")
	assert.Contains(t, err.Error(), "30s")
}
