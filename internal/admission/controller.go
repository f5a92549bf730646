package admission

// Package admission is the gatekeeper in front of the remediation pipeline.
//
// For each issue of an intake batch, in arrival order, the controller applies:
//
//   1. Dedup: a fingerprint seen within the dedup cooldown is a duplicate.
//      Otherwise the fingerprint is marked now, even if a later check rejects.
//   2. Daily budget: the UTC-day counter must be below max calls per day.
//   3. Publish-group cooldown (publishing only): the change target must not
//      have been admitted for publishing within the group cooldown.
//   4. Batch cap (publishing only): at most N acceptances per batch.
//   5. Accept: bump the daily and batch counters, mark the change target.
//
// Limits are computed once per batch. The daily counter resets lazily on the
// first check of a new UTC day. A single mutex covers the whole batch, so the
// check-then-set on every cache is atomic and batches never interleave.

import (
	"context"
	"time"

	"github.com/dr-kube/dr-kube/internal/models"
)

// Outcome is the result of admitting one issue.
type Outcome string

const (
	Accepted             Outcome = "ACCEPTED"
	SkippedDuplicate     Outcome = "SKIPPED_DUPLICATE"
	SkippedBudget        Outcome = "SKIPPED_BUDGET"
	SkippedGroupCooldown Outcome = "SKIPPED_GROUP_COOLDOWN"
	SkippedBatchLimit    Outcome = "SKIPPED_BATCH_LIMIT"
)

// Decision is the admission outcome for one issue.
type Decision struct {
	IssueID string             `json:"issue_id"`
	Outcome Outcome            `json:"decision"`
	Reason  string             `json:"reason"`
	Issue   models.IssueRecord `json:"-"`
}

// Accepted reports whether the issue may proceed to remediation.
func (d Decision) Accepted() bool {
	return d.Outcome == Accepted
}

// Snapshot is a read-only view of controller state.
type Snapshot struct {
	Limits     RuntimeLimits `json:"limits"`
	DailyDate  string        `json:"daily_date"`
	DailyCount int           `json:"daily_count"`
	Config     ConfigView    `json:"config"`
}

// ConfigView is the JSON form of Config.
type ConfigView struct {
	CostMode                        CostMode   `json:"cost_mode"`
	OverrideUntil                   *time.Time `json:"override_until,omitempty"`
	OverrideCostMode                CostMode   `json:"override_cost_mode,omitempty"`
	MaxCallsPerDay                  int        `json:"max_calls_per_day"`
	DedupCooldownMinutes            int        `json:"dedup_cooldown_minutes"`
	HighMaxCallsPerDay              int        `json:"high_max_calls_per_day"`
	HighDedupCooldownMinutes        int        `json:"high_dedup_cooldown_minutes"`
	MaxIssuesPerBatchWhenPublishing int        `json:"max_issues_per_batch_when_publishing"`
	PublishGroupCooldownMinutes     int        `json:"publish_group_cooldown_minutes"`
	CompositeIncidentMode           bool       `json:"composite_incident_mode"`
}

// Controller decides which issues may spend a remediation call.
type Controller interface {
	// AdmitBatch evaluates issues sequentially in arrival order and returns one
	// decision per issue. publishing enables the group cooldown and batch cap.
	AdmitBatch(ctx context.Context, issues []models.IssueRecord, publishing bool) []Decision

	// Limits returns the limits in effect now.
	Limits() RuntimeLimits

	// SetOverride opens an override window until the given time.
	SetOverride(mode CostMode, until time.Time) error

	// ClearOverride ends any override window.
	ClearOverride()

	// UpdateConfig replaces the configuration; caches and counters are kept,
	// as is an unexpired override set through SetOverride.
	UpdateConfig(cfg Config)

	// Config returns the current configuration.
	Config() Config

	// Snapshot returns the current limits and counters.
	Snapshot() Snapshot
}
