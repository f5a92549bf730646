package admission

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dr-kube/dr-kube/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func iss(id string) models.IssueRecord {
	return models.IssueRecord{
		ID:               id,
		Fingerprint:      "fp-" + id,
		Category:         models.CategoryPodCrash,
		Namespace:        "shop",
		Resource:         "svc-" + id,
		TargetConfigPath: "values/" + id + ".yaml",
	}
}

func admitOne(t *testing.T, c Controller, issue models.IssueRecord, publishing bool) Decision {
	t.Helper()
	ds := c.AdmitBatch(context.Background(), []models.IssueRecord{issue}, publishing)
	require.Len(t, ds, 1)
	return ds[0]
}

func outcomes(ds []Decision) []Outcome {
	out := make([]Outcome, len(ds))
	for i, d := range ds {
		out[i] = d.Outcome
	}
	return out
}

// ─── Limits ───────────────────────────────────────────────────────────────────

func TestComputeLimits(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	l := ComputeLimits(cfg, now)
	assert.Equal(t, CostModeNormal, l.CostMode)
	assert.Equal(t, 20, l.MaxCallsPerDay)
	assert.Equal(t, 30*time.Minute, l.DedupCooldown)
	assert.False(t, l.OverrideActive)

	cfg.CostMode = CostModeHigh
	l = ComputeLimits(cfg, now)
	assert.Equal(t, 100, l.MaxCallsPerDay)
	assert.Equal(t, 10*time.Minute, l.DedupCooldown)

	cfg.CostMode = CostModeUnlimited
	l = ComputeLimits(cfg, now)
	assert.Equal(t, 0, l.MaxCallsPerDay)
	assert.Equal(t, UnlimitedDedupCooldown, l.DedupCooldown)
}

func TestComputeLimitsOverrideWindow(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.OverrideCostMode = CostModeUnlimited
	cfg.OverrideUntil = now.Add(time.Hour)

	l := ComputeLimits(cfg, now)
	assert.True(t, l.OverrideActive)
	assert.Equal(t, CostModeUnlimited, l.CostMode)
	assert.Equal(t, cfg.OverrideUntil, l.OverrideExpiry)

	// expired override has no influence
	l = ComputeLimits(cfg, now.Add(2*time.Hour))
	assert.False(t, l.OverrideActive)
	assert.Equal(t, CostModeNormal, l.CostMode)
	assert.True(t, l.OverrideExpiry.IsZero())

	// expiry exactly now is already over
	l = ComputeLimits(cfg, cfg.OverrideUntil)
	assert.False(t, l.OverrideActive)
}

func TestParseCostMode(t *testing.T) {
	for _, s := range []string{"normal", "high", "unlimited"} {
		m, err := ParseCostMode(s)
		require.NoError(t, err)
		assert.Equal(t, CostMode(s), m)
	}
	_, err := ParseCostMode("cheap")
	assert.Error(t, err)
}

// ─── Dedup ────────────────────────────────────────────────────────────────────

func TestDedupWithinCooldown(t *testing.T) {
	clock := newClock()
	c := NewController(DefaultConfig(), nil, nil, WithClock(clock.Now))

	assert.Equal(t, Accepted, admitOne(t, c, iss("a"), false).Outcome)

	clock.Advance(10 * time.Minute)
	d := admitOne(t, c, iss("a"), false)
	assert.Equal(t, SkippedDuplicate, d.Outcome)
	assert.NotEmpty(t, d.Reason)

	clock.Advance(31 * time.Minute)
	assert.Equal(t, Accepted, admitOne(t, c, iss("a"), false).Outcome, "last-seen was refreshed only on the accepted pass")
}

func TestDedupSameBatch(t *testing.T) {
	c := NewController(DefaultConfig(), nil, nil, WithClock(newClock().Now))
	ds := c.AdmitBatch(context.Background(), []models.IssueRecord{iss("a"), iss("a")}, false)
	assert.Equal(t, []Outcome{Accepted, SkippedDuplicate}, outcomes(ds))
}

func TestDedupDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupCooldown = 0
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	assert.Equal(t, Accepted, admitOne(t, c, iss("a"), false).Outcome)
	assert.Equal(t, Accepted, admitOne(t, c, iss("a"), false).Outcome)

	// empty fingerprint never dedups
	cfg = DefaultConfig()
	c = NewController(cfg, nil, nil, WithClock(newClock().Now))
	noFP := iss("b")
	noFP.Fingerprint = ""
	assert.Equal(t, Accepted, admitOne(t, c, noFP, false).Outcome)
	assert.Equal(t, Accepted, admitOne(t, c, noFP, false).Outcome)
}

// ─── Budget ───────────────────────────────────────────────────────────────────

func TestDailyBudget(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 3
	c := NewController(cfg, nil, nil, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		assert.Equal(t, Accepted, admitOne(t, c, iss(fmt.Sprint(i)), false).Outcome)
	}
	d := admitOne(t, c, iss("over"), false)
	assert.Equal(t, SkippedBudget, d.Outcome)
	assert.Contains(t, d.Reason, "3/3")

	// roll over to the next UTC day
	clock.Advance(12 * time.Hour)
	assert.Equal(t, Accepted, admitOne(t, c, iss("next-day"), false).Outcome)
	snap := c.Snapshot()
	assert.Equal(t, "2026-06-11", snap.DailyDate)
	assert.Equal(t, 1, snap.DailyCount)
}

func TestBudgetSkipStillMarksFingerprint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 1
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	ds := c.AdmitBatch(context.Background(), []models.IssueRecord{iss("a"), iss("b"), iss("b")}, false)
	assert.Equal(t, []Outcome{Accepted, SkippedBudget, SkippedDuplicate}, outcomes(ds))
}

func TestUnlimitedNeverSkipsBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CostMode = CostModeUnlimited
	cfg.MaxCallsPerDay = 1
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	var batch []models.IssueRecord
	for i := 0; i < 200; i++ {
		batch = append(batch, iss(fmt.Sprint(i)))
	}
	for _, d := range c.AdmitBatch(context.Background(), batch, false) {
		assert.NotEqual(t, SkippedBudget, d.Outcome)
	}
}

// ─── Publishing checks ────────────────────────────────────────────────────────

func TestBatchLimitOnlyWhenPublishing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIssuesPerBatchWhenPublishing = 2
	batch := []models.IssueRecord{iss("a"), iss("b"), iss("c")}

	c := NewController(cfg, nil, nil, WithClock(newClock().Now))
	assert.Equal(t, []Outcome{Accepted, Accepted, SkippedBatchLimit},
		outcomes(c.AdmitBatch(context.Background(), batch, true)))

	// counter resets per batch
	next := []models.IssueRecord{iss("d")}
	assert.Equal(t, []Outcome{Accepted}, outcomes(c.AdmitBatch(context.Background(), next, true)))

	c = NewController(cfg, nil, nil, WithClock(newClock().Now))
	assert.Equal(t, []Outcome{Accepted, Accepted, Accepted},
		outcomes(c.AdmitBatch(context.Background(), batch, false)))
}

func TestGroupCooldown(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.DedupCooldown = 0
	c := NewController(cfg, nil, nil, WithClock(clock.Now))

	first := iss("a")
	second := iss("b")
	second.TargetConfigPath = first.TargetConfigPath

	assert.Equal(t, Accepted, admitOne(t, c, first, true).Outcome)
	d := admitOne(t, c, second, true)
	assert.Equal(t, SkippedGroupCooldown, d.Outcome)
	assert.Contains(t, d.Reason, first.TargetConfigPath)

	// not evaluated without publishing
	assert.Equal(t, Accepted, admitOne(t, c, second, false).Outcome)

	clock.Advance(61 * time.Minute)
	assert.Equal(t, Accepted, admitOne(t, c, second, true).Outcome)
}

func TestGroupCooldownFallbackKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DedupCooldown = 0
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	a := models.IssueRecord{ID: "a", Category: models.CategoryOOM, Namespace: "ns", Resource: "api"}
	b := models.IssueRecord{ID: "b", Category: models.CategoryOOM, Namespace: "ns", Resource: "api"}
	other := models.IssueRecord{ID: "c", Category: models.CategoryCPUThrottle, Namespace: "ns", Resource: "api"}

	ds := c.AdmitBatch(context.Background(), []models.IssueRecord{a, b, other}, true)
	assert.Equal(t, []Outcome{Accepted, SkippedGroupCooldown, Accepted}, outcomes(ds))
}

func TestCheckOrderFirstFailureWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 1
	cfg.MaxIssuesPerBatchWhenPublishing = 1
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	// Budget is exhausted and batch cap reached after "a": "b" reports budget, not batch limit.
	ds := c.AdmitBatch(context.Background(), []models.IssueRecord{iss("a"), iss("b")}, true)
	assert.Equal(t, []Outcome{Accepted, SkippedBudget}, outcomes(ds))
}

// ─── Override ─────────────────────────────────────────────────────────────────

func TestOverrideRaisesBudgetUntilExpiry(t *testing.T) {
	clock := newClock()
	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 1
	cfg.DedupCooldown = 0
	c := NewController(cfg, nil, nil, WithClock(clock.Now))

	assert.Equal(t, Accepted, admitOne(t, c, iss("a"), false).Outcome)
	assert.Equal(t, SkippedBudget, admitOne(t, c, iss("b"), false).Outcome)

	require.NoError(t, c.SetOverride(CostModeUnlimited, clock.Now().Add(30*time.Minute)))
	assert.True(t, c.Limits().OverrideActive)
	assert.Equal(t, Accepted, admitOne(t, c, iss("c"), false).Outcome)

	clock.Advance(31 * time.Minute)
	assert.False(t, c.Limits().OverrideActive)
	assert.Equal(t, SkippedBudget, admitOne(t, c, iss("d"), false).Outcome)
}

func TestSetOverrideValidation(t *testing.T) {
	clock := newClock()
	c := NewController(DefaultConfig(), nil, nil, WithClock(clock.Now))

	assert.Error(t, c.SetOverride("bogus", clock.Now().Add(time.Hour)))
	assert.Error(t, c.SetOverride(CostModeHigh, clock.Now().Add(-time.Minute)))

	require.NoError(t, c.SetOverride(CostModeHigh, clock.Now().Add(time.Hour)))
	assert.Equal(t, CostModeHigh, c.Limits().CostMode)
	c.ClearOverride()
	assert.Equal(t, CostModeNormal, c.Limits().CostMode)
}

func TestUpdateConfigKeepsCounters(t *testing.T) {
	c := NewController(DefaultConfig(), nil, nil, WithClock(newClock().Now))
	admitOne(t, c, iss("a"), false)

	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 1
	c.UpdateConfig(cfg)
	assert.Equal(t, SkippedBudget, admitOne(t, c, iss("b"), false).Outcome)
	assert.Equal(t, 1, c.Config().MaxCallsPerDay)
}

func TestUpdateConfigKeepsRuntimeOverride(t *testing.T) {
	clock := newClock()
	c := NewController(DefaultConfig(), nil, nil, WithClock(clock.Now))
	until := clock.Now().Add(time.Hour)
	require.NoError(t, c.SetOverride(CostModeUnlimited, until))

	reloaded := DefaultConfig()
	reloaded.MaxCallsPerDay = 5
	c.UpdateConfig(reloaded)

	limits := c.Limits()
	assert.True(t, limits.OverrideActive)
	assert.Equal(t, CostModeUnlimited, limits.CostMode)
	assert.True(t, until.Equal(limits.OverrideExpiry))
	assert.Equal(t, 5, c.Config().MaxCallsPerDay)

	clock.Advance(61 * time.Minute)
	c.UpdateConfig(DefaultConfig())
	assert.False(t, c.Limits().OverrideActive)
	assert.True(t, c.Config().OverrideUntil.IsZero())
}

func TestUpdateConfigFileOverrideWins(t *testing.T) {
	clock := newClock()
	c := NewController(DefaultConfig(), nil, nil, WithClock(clock.Now))
	require.NoError(t, c.SetOverride(CostModeUnlimited, clock.Now().Add(time.Hour)))

	fromFile := DefaultConfig()
	fromFile.OverrideCostMode = CostModeHigh
	fromFile.OverrideUntil = clock.Now().Add(2 * time.Hour)
	c.UpdateConfig(fromFile)
	assert.Equal(t, CostModeHigh, c.Limits().CostMode)

	// The same file value again is not a new request; a later runtime
	// override survives it.
	require.NoError(t, c.SetOverride(CostModeUnlimited, clock.Now().Add(30*time.Minute)))
	c.UpdateConfig(fromFile)
	assert.Equal(t, CostModeUnlimited, c.Limits().CostMode)
}

func TestUpdateConfigAfterClearOverride(t *testing.T) {
	clock := newClock()
	c := NewController(DefaultConfig(), nil, nil, WithClock(clock.Now))
	require.NoError(t, c.SetOverride(CostModeHigh, clock.Now().Add(time.Hour)))
	c.ClearOverride()

	c.UpdateConfig(DefaultConfig())
	assert.False(t, c.Limits().OverrideActive)
}

func TestObserverAndSnapshot(t *testing.T) {
	var seen []Decision
	c := NewController(DefaultConfig(), nil, nil,
		WithClock(newClock().Now),
		WithObserver(func(d Decision) { seen = append(seen, d) }),
	)
	c.AdmitBatch(context.Background(), []models.IssueRecord{iss("a"), iss("a")}, false)
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Accepted())
	assert.False(t, seen[1].Accepted())

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.DailyCount)
	assert.Equal(t, 30, snap.Config.DedupCooldownMinutes)
	assert.Nil(t, snap.Config.OverrideUntil)
}

func TestConcurrentBatchesRespectBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallsPerDay = 10
	c := NewController(cfg, nil, nil, WithClock(newClock().Now))

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var batch []models.IssueRecord
			for i := 0; i < 5; i++ {
				batch = append(batch, iss(fmt.Sprintf("%d-%d", w, i)))
			}
			for _, d := range c.AdmitBatch(context.Background(), batch, false) {
				if d.Accepted() {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 10, accepted)
}
