package admission

import (
	"fmt"
	"time"
)

// CostMode selects the call budget and dedup window.
type CostMode string

const (
	CostModeNormal    CostMode = "normal"
	CostModeHigh      CostMode = "high"
	CostModeUnlimited CostMode = "unlimited"
)

// UnlimitedDedupCooldown is the minimal dedup window applied in unlimited mode,
// so a storm of identical alerts still collapses.
const UnlimitedDedupCooldown = time.Minute

// ParseCostMode validates a cost mode name. Empty is not accepted.
func ParseCostMode(s string) (CostMode, error) {
	switch m := CostMode(s); m {
	case CostModeNormal, CostModeHigh, CostModeUnlimited:
		return m, nil
	}
	return "", fmt.Errorf("invalid cost mode %q, must be one of: normal, high, unlimited", s)
}

// Config is the admission configuration surface.
type Config struct {
	CostMode         CostMode
	OverrideUntil    time.Time // zero means no override
	OverrideCostMode CostMode

	MaxCallsPerDay     int
	DedupCooldown      time.Duration
	HighMaxCallsPerDay int
	HighDedupCooldown  time.Duration

	// MaxIssuesPerBatchWhenPublishing caps accepted issues per intake batch
	// when publishing. Zero means no cap.
	MaxIssuesPerBatchWhenPublishing int
	PublishGroupCooldown            time.Duration

	CompositeIncidentMode bool
}

// DefaultConfig returns the admission defaults.
func DefaultConfig() Config {
	return Config{
		CostMode:                        CostModeNormal,
		OverrideCostMode:                CostModeHigh,
		MaxCallsPerDay:                  20,
		DedupCooldown:                   30 * time.Minute,
		HighMaxCallsPerDay:              100,
		HighDedupCooldown:               10 * time.Minute,
		MaxIssuesPerBatchWhenPublishing: 3,
		PublishGroupCooldown:            60 * time.Minute,
		CompositeIncidentMode:           true,
	}
}

// RuntimeLimits are derived from Config for one admission pass.
type RuntimeLimits struct {
	CostMode       CostMode      `json:"cost_mode"`
	MaxCallsPerDay int           `json:"max_calls_per_day"` // 0 = unbounded
	DedupCooldown  time.Duration `json:"dedup_cooldown"`    // 0 = dedup disabled
	OverrideActive bool          `json:"override_active"`
	OverrideExpiry time.Time     `json:"override_expiry,omitempty"`
}

// ComputeLimits derives the limits in effect at now. An override whose expiry
// is not after now is inactive and does not influence the mode.
func ComputeLimits(cfg Config, now time.Time) RuntimeLimits {
	mode := cfg.CostMode
	if mode == "" {
		mode = CostModeNormal
	}

	limits := RuntimeLimits{}
	if !cfg.OverrideUntil.IsZero() && now.Before(cfg.OverrideUntil) && cfg.OverrideCostMode != "" {
		mode = cfg.OverrideCostMode
		limits.OverrideActive = true
		limits.OverrideExpiry = cfg.OverrideUntil
	}
	limits.CostMode = mode

	switch mode {
	case CostModeUnlimited:
		limits.MaxCallsPerDay = 0
		limits.DedupCooldown = UnlimitedDedupCooldown
	case CostModeHigh:
		limits.MaxCallsPerDay = cfg.HighMaxCallsPerDay
		limits.DedupCooldown = cfg.HighDedupCooldown
	default:
		limits.MaxCallsPerDay = cfg.MaxCallsPerDay
		limits.DedupCooldown = cfg.DedupCooldown
	}
	return limits
}
