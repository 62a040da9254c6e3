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

// Package admission decides whether an administrative action is allowed to
// proceed before it reaches the backend. Requests are counted in fixed
// time windows against two independent keys: the acting principal and an
// anonymized network origin. The origin limit is double the principal
// limit so shared NATs are not starved by one noisy user.
package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cardinalhq/adminguard/internal/idgen"
	"github.com/cardinalhq/adminguard/internal/logctx"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

// Policy bounds one action: at most Requests admissions per principal per
// Window.
type Policy struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// Config carries the controller's tunables.
type Config struct {
	// Default applies to actions with no registered policy.
	Default Policy `mapstructure:"default"`
	// Grace extends counter expiry past the window end so a counter never
	// vanishes while its window is still live.
	Grace time.Duration `mapstructure:"grace"`
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		Default: Policy{Requests: 30, Window: time.Minute},
		Grace:   10 * time.Second,
	}
}

// Identity names the acting principal.
type Identity struct {
	UserID uuid.UUID
	Name   string
}

// Key returns the stable counter key component for the identity. The UUID
// wins when set; the name covers principals provisioned before UUIDs.
func (id Identity) Key() string {
	if id.UserID != (uuid.UUID{}) {
		return id.UserID.String()
	}
	return id.Name
}

// Result reports the admission decision. RetryAfter is meaningful only
// when Allowed is false.
type Result struct {
	Allowed        bool
	RetryAfter     time.Duration
	PrincipalCount int64
	OriginCount    int64
}

// Stats are the controller's lifetime counters for reporting.
type Stats struct {
	Checks  int64
	Denials int64
}

// Controller is the dual-keyed fixed-window rate limiter. It holds no
// counter state itself; counters live in the TTL store so concurrent
// workers coordinate through the store's atomic increment.
type Controller struct {
	store ttlstore.Store
	cfg   Config
	now   func() time.Time

	mu       sync.RWMutex
	policies map[string]Policy

	checks  atomic.Int64
	denials atomic.Int64
}

// New creates a Controller on the given store.
func New(store ttlstore.Store, cfg Config) *Controller {
	if cfg.Default.Window <= 0 {
		cfg.Default = DefaultConfig().Default
	}
	return &Controller{
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		policies: make(map[string]Policy),
	}
}

// RegisterPolicy sets or replaces the policy for an action at runtime.
func (c *Controller) RegisterPolicy(action string, p Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[action] = p
}

// PolicyFor returns the registered policy for action, or the default.
func (c *Controller) PolicyFor(action string) Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.policies[action]; ok {
		return p
	}
	return c.cfg.Default
}

// Check records one attempt for the action and reports whether it is
// admitted. Both counters are always incremented; a denial is logged
// exactly once with an audit event ID.
func (c *Controller) Check(ctx context.Context, action string, principal Identity, origin Origin) Result {
	c.checks.Add(1)
	recordCheck(ctx, action)

	policy := c.PolicyFor(action)
	now := c.now()
	windowStart := now.Truncate(policy.Window)
	epoch := windowStart.Unix()
	expiry := policy.Window + c.cfg.Grace

	principalKey := fmt.Sprintf("adm:%s:p:%s:%d", action, principal.Key(), epoch)
	originKey := fmt.Sprintf("adm:%s:o:%s:%d", action, origin.Anonymized(), epoch)

	pCount := c.store.Increment(ctx, principalKey, expiry)
	oCount := c.store.Increment(ctx, originKey, expiry)

	pLimit := int64(policy.Requests)
	oLimit := pLimit * 2

	res := Result{
		Allowed:        pLimit > 0 && pCount <= pLimit && oCount <= oLimit,
		PrincipalCount: pCount,
		OriginCount:    oCount,
	}
	if res.Allowed {
		return res
	}

	res.RetryAfter = windowStart.Add(policy.Window).Sub(now)
	if res.RetryAfter < 0 {
		res.RetryAfter = 0
	}

	c.denials.Add(1)
	recordDenial(ctx, action)
	logctx.FromContext(ctx).Warn("Admission denied",
		"event_id", idgen.NextEventID(),
		"action", action,
		"principal", principal.Key(),
		"origin", origin.Anonymized(),
		"principal_count", pCount,
		"origin_count", oCount,
		"limit", pLimit,
		"retry_after", res.RetryAfter)
	return res
}

// Denied wraps a deny decision as the error callers surface to routers.
type Denied struct {
	Action     string
	RetryAfter time.Duration
}

func (d *Denied) Error() string {
	return fmt.Sprintf("admission denied for %q, retry after %s", d.Action, d.RetryAfter)
}

// Stats returns lifetime check and denial counts.
func (c *Controller) Stats() Stats {
	return Stats{
		Checks:  c.checks.Load(),
		Denials: c.denials.Load(),
	}
}
