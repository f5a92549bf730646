package models

// Package models defines the core data types shared across dr-kube.
//
// An IssueRecord is created once (by the alert intake or the correlator) and is
// read-only afterwards. Components never mutate an issue in place; a composite
// issue is a new record synthesized from several inputs.

import "time"

// Category is the incident type tag that drives policy and target-file derivation.
type Category string

const (
	CategoryOOM           Category = "oom"
	CategoryCPUThrottle   Category = "cpu_throttle"
	CategoryPodCrash      Category = "pod_crash"
	CategoryServiceError  Category = "service_error"
	CategoryUpstreamError Category = "upstream_error"
	CategoryServiceDown   Category = "service_down"
	CategoryComposite     Category = "composite"
	CategoryUnknown       Category = "unknown"
)

// Severity is the proposal collaborator's assessment of an incident.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps free text onto a Severity, defaulting to medium.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	}
	return SeverityMedium
}

// IssueRecord is a single actionable problem.
type IssueRecord struct {
	ID          string   `json:"id"`
	Fingerprint string   `json:"fingerprint,omitempty"` // empty disables dedup for this issue
	Category    Category `json:"type"`
	Namespace   string   `json:"namespace"`
	Resource    string   `json:"resource"`
	Description string   `json:"error_message"`
	LogExcerpts []string `json:"logs,omitempty"`

	// TargetConfigPath is the configuration document a fix may modify.
	// Empty means the issue is analysis-only.
	TargetConfigPath string `json:"values_file,omitempty"`

	// MemberIDs lists the merged issue ids for a composite issue.
	MemberIDs  []string  `json:"member_ids,omitempty"`
	ReceivedAt time.Time `json:"-"`
}

// IsComposite reports whether the issue was synthesized by the correlator.
func (i *IssueRecord) IsComposite() bool {
	return i.Category == CategoryComposite
}

// ChangeTargetKey identifies the change target used for publish-group cooldown:
// the target config path, falling back to namespace/resource/category.
func (i *IssueRecord) ChangeTargetKey() string {
	if i.TargetConfigPath != "" {
		return i.TargetConfigPath
	}
	return i.Namespace + "/" + i.Resource + "/" + string(i.Category)
}
