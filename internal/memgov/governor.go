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

// Package memgov watches process memory and intervenes before the host
// kills the process.
//
// Each checkpoint records a snapshot, classifies usage against ascending
// thresholds, and runs the matching mitigation: alert only above peak,
// standard cleanup above warning, emergency cleanup above critical. A
// linear-regression slope over recent samples catches sustained drift that
// never crosses a threshold. After emergency or leak mitigation the
// governor quiets itself for a cooldown so it does not fight the
// allocator while memory stabilizes.
package memgov

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cardinalhq/adminguard/internal/idgen"
	"github.com/cardinalhq/adminguard/internal/ttlstore"
)

// State is the monitoring state machine.
type State int

const (
	StateEnabled State = iota
	StateDisabled
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateCoolingDown:
		return "cooling-down"
	}
	return "unknown"
}

// Config carries the governor's tunables. Thresholds are absolute bytes;
// a zero threshold disables that classification.
type Config struct {
	SnapshotHistory int `mapstructure:"snapshot_history"`
	TrendSamples    int `mapstructure:"trend_samples"`
	MinTrendSamples int `mapstructure:"min_trend_samples"`
	AlertHistory    int `mapstructure:"alert_history"`

	PeakBytes     uint64 `mapstructure:"peak_bytes"`
	WarningBytes  uint64 `mapstructure:"warning_bytes"`
	CriticalBytes uint64 `mapstructure:"critical_bytes"`

	// LeakSlopeBytes is the OLS slope, in bytes per sample, above which
	// the trend is treated as a leak.
	LeakSlopeBytes float64 `mapstructure:"leak_slope_bytes"`

	Cooldown      time.Duration `mapstructure:"cooldown"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// DefaultConfig returns governor defaults sized for a container with a few
// hundred MB of headroom.
func DefaultConfig() Config {
	return Config{
		SnapshotHistory: 50,
		TrendSamples:    10,
		MinTrendSamples: 5,
		AlertHistory:    100,
		PeakBytes:       256 << 20,
		WarningBytes:    384 << 20,
		CriticalBytes:   512 << 20,
		LeakSlopeBytes:  8 << 20,
		Cooldown:        5 * time.Minute,
		CheckInterval:   30 * time.Second,
	}
}

// Snapshot is one immutable memory reading.
type Snapshot struct {
	Label     string
	Timestamp time.Time
	Usage     uint64
	Peak      uint64
	Limit     uint64
}

// AlertEvent records one threshold crossing. Crossings, not checks: usage
// sitting above a threshold across consecutive checkpoints produces one
// event at the transition.
type AlertEvent struct {
	ID        int64
	Metric    string
	Value     uint64
	Threshold uint64
	Timestamp time.Time
}

// CleanupFunc releases memory held by a registered large object and
// reports an estimate of bytes freed.
type CleanupFunc func(ctx context.Context) int64

type largeObject struct {
	key     string
	size    int64
	cleanup CleanupFunc
}

// UsageFunc reads current and peak memory usage.
type UsageFunc func() (usage, peak uint64)

// Stats are the governor's lifetime counters for reporting.
type Stats struct {
	Snapshots         int64
	Alerts            int64
	StandardCleanups  int64
	EmergencyCleanups int64
	LeakEvents        int64
}

// Governor owns the snapshot and sample rings, the alert history, and the
// large-object registry. One mutex covers snapshot append, classification,
// and mitigation so two racing workers cannot both decide to run emergency
// cleanup from the same reading.
type Governor struct {
	cfg       Config
	ll        *slog.Logger
	store     ttlstore.Store // may be nil when no shared cache exists
	readUsage UsageFunc
	limit     uint64
	now       func() time.Time

	mu            sync.Mutex
	state         State
	snapshots     []Snapshot
	samples       []trendSample
	alerts        []AlertEvent
	objects       []largeObject
	prevLevel     int
	cooldownTimer *time.Timer

	statSnapshots         int64
	statAlerts            int64
	statStandardCleanups  int64
	statEmergencyCleanups int64
	statLeakEvents        int64
}

// New creates a Governor in the Enabled state. store may be nil; then
// cleanup skips cache purging.
func New(store ttlstore.Store, cfg Config, logger *slog.Logger) *Governor {
	def := DefaultConfig()
	if cfg.SnapshotHistory <= 0 {
		cfg.SnapshotHistory = def.SnapshotHistory
	}
	if cfg.TrendSamples <= 0 {
		cfg.TrendSamples = def.TrendSamples
	}
	if cfg.MinTrendSamples <= 0 {
		cfg.MinTrendSamples = def.MinTrendSamples
	}
	if cfg.AlertHistory <= 0 {
		cfg.AlertHistory = def.AlertHistory
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Governor{
		cfg:       cfg,
		ll:        logger.With("component", "memgov"),
		store:     store,
		readUsage: readRuntimeUsage,
		limit:     DetectLimit(),
		now:       time.Now,
		state:     StateEnabled,
	}
	registerUsageGauge(g)
	return g
}

// RegisterLargeObject tracks a handle whose memory the governor may
// reclaim under pressure. cleanup may be nil for tracking-only entries.
func (g *Governor) RegisterLargeObject(key string, estimatedSize int64, cleanup CleanupFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, o := range g.objects {
		if o.key == key {
			g.objects[i] = largeObject{key: key, size: estimatedSize, cleanup: cleanup}
			return
		}
	}
	g.objects = append(g.objects, largeObject{key: key, size: estimatedSize, cleanup: cleanup})
}

// UnregisterLargeObject removes a handle without invoking its cleanup.
func (g *Governor) UnregisterLargeObject(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, o := range g.objects {
		if o.key == key {
			g.objects = append(g.objects[:i], g.objects[i+1:]...)
			return
		}
	}
}

// Enable turns monitoring on and cancels any pending cooldown.
func (g *Governor) Enable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
		g.cooldownTimer = nil
	}
	g.state = StateEnabled
}

// Disable turns monitoring off until Enable is called.
func (g *Governor) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
		g.cooldownTimer = nil
	}
	g.state = StateDisabled
}

// State returns the current monitoring state.
func (g *Governor) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Checkpoint records a snapshot and runs whatever mitigation current usage
// calls for. It is a no-op unless monitoring is Enabled. Call sites are
// request start/end plus the periodic loop started by Start.
func (g *Governor) Checkpoint(ctx context.Context, label string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != StateEnabled {
		return
	}

	usage, peak := g.readUsage()
	g.pushSnapshotLocked(Snapshot{
		Label:     label,
		Timestamp: g.now(),
		Usage:     usage,
		Peak:      peak,
		Limit:     g.limit,
	})
	g.pushSampleLocked(usage)

	level := g.classify(usage)
	if level > g.prevLevel {
		g.appendAlertLocked(levelMetric(level), usage, g.levelThreshold(level))
	}
	g.prevLevel = level

	switch level {
	case levelCritical:
		g.emergencyCleanupLocked(ctx)
		g.beginCooldownLocked()
		// Snapshot again to confirm the cleanup had an effect.
		u2, p2 := g.readUsage()
		g.pushSnapshotLocked(Snapshot{
			Label:     label + "/post-emergency",
			Timestamp: g.now(),
			Usage:     u2,
			Peak:      p2,
			Limit:     g.limit,
		})
		return
	case levelWarning:
		g.standardCleanupLocked(ctx)
	case levelPeak:
		// Alert only, no action.
	}

	g.checkLeakLocked(ctx)
}

// Start begins the periodic checkpoint loop and returns a cancel function.
func (g *Governor) Start(ctx context.Context) context.CancelFunc {
	checkCtx, cancel := context.WithCancel(ctx)
	go g.run(checkCtx)
	return cancel
}

func (g *Governor) run(ctx context.Context) {
	g.ll.Debug("Starting memory checkpoint loop", "interval", g.cfg.CheckInterval)

	ticker := time.NewTicker(g.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.ll.Debug("Context cancelled, stopping memory checkpoint loop")
			return
		case <-ticker.C:
			g.Checkpoint(ctx, "periodic")
		}
	}
}

// Shutdown records a final snapshot regardless of monitoring state. Best
// effort: it never fails the host.
func (g *Governor) Shutdown(_ context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	usage, peak := g.readUsage()
	g.pushSnapshotLocked(Snapshot{
		Label:     "shutdown",
		Timestamp: g.now(),
		Usage:     usage,
		Peak:      peak,
		Limit:     g.limit,
	})
	g.ll.Info("Final memory snapshot", "usage", usage, "peak", peak, "limit", g.limit)
}

// Snapshots returns a copy of the retained snapshot history, oldest first.
func (g *Governor) Snapshots() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, len(g.snapshots))
	copy(out, g.snapshots)
	return out
}

// Alerts returns a copy of the alert history, oldest first.
func (g *Governor) Alerts() []AlertEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]AlertEvent, len(g.alerts))
	copy(out, g.alerts)
	return out
}

// Stats returns lifetime counters.
func (g *Governor) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Snapshots:         g.statSnapshots,
		Alerts:            g.statAlerts,
		StandardCleanups:  g.statStandardCleanups,
		EmergencyCleanups: g.statEmergencyCleanups,
		LeakEvents:        g.statLeakEvents,
	}
}

const (
	levelNone = iota
	levelPeak
	levelWarning
	levelCritical
)

func (g *Governor) classify(usage uint64) int {
	switch {
	case g.cfg.CriticalBytes > 0 && usage > g.cfg.CriticalBytes:
		return levelCritical
	case g.cfg.WarningBytes > 0 && usage > g.cfg.WarningBytes:
		return levelWarning
	case g.cfg.PeakBytes > 0 && usage > g.cfg.PeakBytes:
		return levelPeak
	}
	return levelNone
}

func (g *Governor) levelThreshold(level int) uint64 {
	switch level {
	case levelCritical:
		return g.cfg.CriticalBytes
	case levelWarning:
		return g.cfg.WarningBytes
	case levelPeak:
		return g.cfg.PeakBytes
	}
	return 0
}

func levelMetric(level int) string {
	switch level {
	case levelCritical:
		return "memory_critical"
	case levelWarning:
		return "memory_warning"
	case levelPeak:
		return "memory_peak"
	}
	return "memory"
}

func (g *Governor) pushSnapshotLocked(s Snapshot) {
	g.statSnapshots++
	g.snapshots = append(g.snapshots, s)
	if len(g.snapshots) > g.cfg.SnapshotHistory {
		g.snapshots = g.snapshots[len(g.snapshots)-g.cfg.SnapshotHistory:]
	}
}

func (g *Governor) appendAlertLocked(metric string, value, threshold uint64) {
	g.statAlerts++
	recordAlert(metric)
	ev := AlertEvent{
		ID:        idgen.NextEventID(),
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Timestamp: g.now(),
	}
	g.alerts = append(g.alerts, ev)
	if len(g.alerts) > g.cfg.AlertHistory {
		g.alerts = g.alerts[len(g.alerts)-g.cfg.AlertHistory:]
	}
	g.ll.Warn("Memory alert",
		"event_id", ev.ID,
		"metric", metric,
		"value", value,
		"threshold", threshold)
}

func (g *Governor) checkLeakLocked(ctx context.Context) {
	if len(g.samples) < g.cfg.MinTrendSamples {
		return
	}
	slope := olsSlope(g.samples)
	if slope <= g.cfg.LeakSlopeBytes {
		return
	}

	g.statLeakEvents++
	g.appendAlertLocked("memory_leak_slope", uint64(slope), uint64(g.cfg.LeakSlopeBytes))
	g.ll.Warn("Leak signature detected, running cleanup and backing off",
		"slope_bytes_per_sample", slope,
		"samples", len(g.samples),
		"cooldown", g.cfg.Cooldown)

	g.standardCleanupLocked(ctx)
	// Reset the trend baseline so the post-cleanup profile starts clean.
	g.samples = nil
	g.beginCooldownLocked()
}

func (g *Governor) beginCooldownLocked() {
	g.state = StateCoolingDown
	if g.cooldownTimer != nil {
		g.cooldownTimer.Stop()
	}
	g.cooldownTimer = time.AfterFunc(g.cfg.Cooldown, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.state == StateCoolingDown {
			g.state = StateEnabled
			g.prevLevel = levelNone
			g.ll.Info("Cooldown elapsed, monitoring re-enabled")
		}
	})
}

// standardCleanupLocked invokes registered finalizers, flushes the shared
// cache, and forces one GC pass. The registry and history survive.
func (g *Governor) standardCleanupLocked(ctx context.Context) {
	g.statStandardCleanups++
	recordCleanup("standard")

	freed := g.invokeFinalizersLocked(ctx)
	if g.store != nil {
		g.store.Flush(ctx, "")
	}
	runtime.GC()

	g.ll.Info("Standard cleanup complete", "bytes_reported_freed", freed)
}

// emergencyCleanupLocked releases every registered handle, truncates
// retained history, purges the cache and its expired leftovers, and forces
// two GC passes.
func (g *Governor) emergencyCleanupLocked(ctx context.Context) {
	g.statEmergencyCleanups++
	recordCleanup("emergency")

	freed := g.invokeFinalizersLocked(ctx)
	g.objects = nil

	const keep = 5
	if len(g.snapshots) > keep {
		g.snapshots = g.snapshots[len(g.snapshots)-keep:]
	}
	g.samples = nil

	if g.store != nil {
		g.store.Flush(ctx, "")
		g.store.DeleteExpired()
	}

	runtime.GC()
	runtime.GC()

	g.ll.Error("Emergency cleanup complete", "bytes_reported_freed", freed)
}

func (g *Governor) invokeFinalizersLocked(ctx context.Context) int64 {
	var freed int64
	for _, o := range g.objects {
		if o.cleanup == nil {
			continue
		}
		freed += g.safeCleanup(ctx, o)
	}
	return freed
}

// safeCleanup keeps a misbehaving finalizer from masking the memory
// condition that triggered it.
func (g *Governor) safeCleanup(ctx context.Context, o largeObject) (freed int64) {
	defer func() {
		if r := recover(); r != nil {
			g.ll.Error("Cleanup callback panicked (continuing)", "key", o.key, "panic", r)
			freed = 0
		}
	}()
	return o.cleanup(ctx)
}
