package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/store"
)

const dayLayout = "2006-01-02"

// Option configures a controller.
type Option func(*controllerImpl)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *controllerImpl) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *controllerImpl) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a callback invoked for every decision.
func WithObserver(fn func(Decision)) Option {
	return func(c *controllerImpl) { c.observers = append(c.observers, fn) }
}

type controllerImpl struct {
	mu sync.Mutex

	cfg    Config
	dedup  store.MarkStore
	groups store.MarkStore

	// fileUntil is the override_until of the last configuration applied from
	// outside; runtime holds an override set through SetOverride.
	fileUntil    time.Time
	runtimeMode  CostMode
	runtimeUntil time.Time

	dailyDate  string
	dailyCount int

	now       func() time.Time
	logger    *zap.Logger
	observers []func(Decision)
}

// NewController creates an admission controller. dedup holds fingerprint marks
// and groups holds change-target marks; nil stores default to in-memory ones.
func NewController(cfg Config, dedup, groups store.MarkStore, opts ...Option) Controller {
	if dedup == nil {
		dedup = store.NewMemory()
	}
	if groups == nil {
		groups = store.NewMemory()
	}
	c := &controllerImpl{
		cfg:       cfg,
		dedup:     dedup,
		groups:    groups,
		fileUntil: cfg.OverrideUntil,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// batchState is reset at the start of each AdmitBatch call.
type batchState struct {
	accepted   int
	publishing bool
	limits     RuntimeLimits
	now        time.Time
}

func (c *controllerImpl) AdmitBatch(ctx context.Context, issues []models.IssueRecord, publishing bool) []Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	batch := &batchState{
		publishing: publishing,
		limits:     ComputeLimits(c.cfg, now),
		now:        now,
	}
	metrics.SetOverrideActive(batch.limits.OverrideActive)

	decisions := make([]Decision, 0, len(issues))
	for _, issue := range issues {
		d := c.admitLocked(ctx, issue, batch)
		c.logger.Info("admission decision",
			zap.String("issue_id", d.IssueID),
			zap.String("decision", string(d.Outcome)),
			zap.String("reason", d.Reason),
			zap.String("category", string(issue.Category)),
			zap.String("cost_mode", string(batch.limits.CostMode)),
		)
		metrics.RecordAdmission(string(d.Outcome), string(issue.Category))
		for _, fn := range c.observers {
			fn(d)
		}
		decisions = append(decisions, d)
	}
	metrics.DailyCallsUsed.Set(float64(c.dailyCount))
	return decisions
}

// admitLocked runs the ordered checks for one issue. Caller holds c.mu.
func (c *controllerImpl) admitLocked(ctx context.Context, issue models.IssueRecord, b *batchState) Decision {
	d := Decision{IssueID: issue.ID, Issue: issue}
	limits := b.limits

	// 1. dedup
	if issue.Fingerprint != "" && limits.DedupCooldown > 0 {
		last, seen, err := c.dedup.Get(ctx, issue.Fingerprint)
		if err != nil {
			c.logger.Warn("dedup lookup failed, treating as unseen",
				zap.String("fingerprint", issue.Fingerprint), zap.Error(err))
		}
		if seen && b.now.Sub(last) < limits.DedupCooldown {
			d.Outcome = SkippedDuplicate
			d.Reason = fmt.Sprintf("fingerprint %s seen %s ago (cooldown %s)",
				issue.Fingerprint, b.now.Sub(last).Round(time.Second), limits.DedupCooldown)
			return d
		}
		if err := c.dedup.Set(ctx, issue.Fingerprint, b.now, limits.DedupCooldown); err != nil {
			c.logger.Warn("failed to record fingerprint", zap.String("fingerprint", issue.Fingerprint), zap.Error(err))
		}
	}

	// 2. daily budget
	c.rollDayLocked(b.now)
	if limits.MaxCallsPerDay > 0 && c.dailyCount >= limits.MaxCallsPerDay {
		d.Outcome = SkippedBudget
		d.Reason = fmt.Sprintf("daily budget exhausted: %d/%d calls on %s (mode %s)",
			c.dailyCount, limits.MaxCallsPerDay, c.dailyDate, limits.CostMode)
		return d
	}

	groupKey := issue.ChangeTargetKey()

	// 3. publish-group cooldown
	if b.publishing && c.cfg.PublishGroupCooldown > 0 {
		last, seen, err := c.groups.Get(ctx, groupKey)
		if err != nil {
			c.logger.Warn("group cooldown lookup failed, treating as unseen",
				zap.String("change_target", groupKey), zap.Error(err))
		}
		if seen && b.now.Sub(last) < c.cfg.PublishGroupCooldown {
			d.Outcome = SkippedGroupCooldown
			d.Reason = fmt.Sprintf("change target %s admitted %s ago (cooldown %s)",
				groupKey, b.now.Sub(last).Round(time.Second), c.cfg.PublishGroupCooldown)
			return d
		}
	}

	// 4. batch cap
	if b.publishing && c.cfg.MaxIssuesPerBatchWhenPublishing > 0 && b.accepted >= c.cfg.MaxIssuesPerBatchWhenPublishing {
		d.Outcome = SkippedBatchLimit
		d.Reason = fmt.Sprintf("batch limit reached: %d issues already accepted", b.accepted)
		return d
	}

	// 5. accept
	c.dailyCount++
	b.accepted++
	if b.publishing {
		if err := c.groups.Set(ctx, groupKey, b.now, c.cfg.PublishGroupCooldown); err != nil {
			c.logger.Warn("failed to record change target", zap.String("change_target", groupKey), zap.Error(err))
		}
	}
	d.Outcome = Accepted
	d.Reason = fmt.Sprintf("accepted (%s mode, %d/%s calls today)", limits.CostMode, c.dailyCount, budgetString(limits.MaxCallsPerDay))
	return d
}

// rollDayLocked resets the daily counter when the UTC date has changed.
func (c *controllerImpl) rollDayLocked(now time.Time) {
	today := now.UTC().Format(dayLayout)
	if c.dailyDate != today {
		c.dailyDate = today
		c.dailyCount = 0
	}
}

func (c *controllerImpl) Limits() RuntimeLimits {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ComputeLimits(c.cfg, c.now())
}

func (c *controllerImpl) SetOverride(mode CostMode, until time.Time) error {
	if _, err := ParseCostMode(string(mode)); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !until.After(c.now()) {
		return fmt.Errorf("override expiry %s is not in the future", until.Format(time.RFC3339))
	}
	c.cfg.OverrideCostMode = mode
	c.cfg.OverrideUntil = until
	c.runtimeMode = mode
	c.runtimeUntil = until
	c.logger.Info("admission override set",
		zap.String("mode", string(mode)), zap.Time("until", until))
	return nil
}

func (c *controllerImpl) ClearOverride() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.OverrideUntil = time.Time{}
	c.runtimeUntil = time.Time{}
	c.logger.Info("admission override cleared")
}

// UpdateConfig keeps an unexpired runtime override unless the new
// configuration changes override_until itself.
func (c *controllerImpl) UpdateConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fileChanged := !cfg.OverrideUntil.Equal(c.fileUntil)
	c.fileUntil = cfg.OverrideUntil
	switch {
	case fileChanged:
		c.runtimeUntil = time.Time{}
	case c.runtimeUntil.After(c.now()):
		cfg.OverrideCostMode = c.runtimeMode
		cfg.OverrideUntil = c.runtimeUntil
		c.logger.Debug("keeping runtime admission override across reload",
			zap.String("mode", string(c.runtimeMode)), zap.Time("until", c.runtimeUntil))
	}
	c.cfg = cfg
}

func (c *controllerImpl) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *controllerImpl) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.rollDayLocked(now)
	return Snapshot{
		Limits:     ComputeLimits(c.cfg, now),
		DailyDate:  c.dailyDate,
		DailyCount: c.dailyCount,
		Config:     viewOf(c.cfg),
	}
}

func viewOf(cfg Config) ConfigView {
	v := ConfigView{
		CostMode:                        cfg.CostMode,
		OverrideCostMode:                cfg.OverrideCostMode,
		MaxCallsPerDay:                  cfg.MaxCallsPerDay,
		DedupCooldownMinutes:            int(cfg.DedupCooldown / time.Minute),
		HighMaxCallsPerDay:              cfg.HighMaxCallsPerDay,
		HighDedupCooldownMinutes:        int(cfg.HighDedupCooldown / time.Minute),
		MaxIssuesPerBatchWhenPublishing: cfg.MaxIssuesPerBatchWhenPublishing,
		PublishGroupCooldownMinutes:     int(cfg.PublishGroupCooldown / time.Minute),
		CompositeIncidentMode:           cfg.CompositeIncidentMode,
	}
	if !cfg.OverrideUntil.IsZero() {
		t := cfg.OverrideUntil
		v.OverrideUntil = &t
	}
	return v
}

func budgetString(max int) string {
	if max == 0 {
		return "unbounded"
	}
	return fmt.Sprintf("%d", max)
}
