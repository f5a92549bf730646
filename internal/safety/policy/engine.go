package policy

// Package policy provides the remediation Policy Engine.
//
// The engine decides whether a proposed configuration change is an acceptable
// remediation for an incident category. It is deterministic and rule-based and
// never consults the proposal collaborator.
//
// Category classes:
//
//   Unrestricted: always pass (oom, cpu_throttle, unknown, ...).
//
//   Availability-restricted: crash-looping and upstream/service availability
//   failures. Resource tuning is a misdiagnosis-prone band-aid for these, so a
//   change fails when any changed path touches the deny set, and otherwise must
//   touch at least one structural remediation from the allow set (replicas,
//   disruption budgets, timeouts, retries, circuit breaking, connection pools).
//
//   Composite: a multi-symptom incident must show breadth of remediation
//   (two top-level sections or two changed paths) and must not be resource
//   tuning only.
//
// Path matching tokenizes each changed path on non-alphanumeric characters,
// case-insensitively. The heuristic is isolated behind Engine so it can later be
// replaced with explicit per-category path-prefix lists.

import "github.com/dr-kube/dr-kube/internal/models"

// Class groups categories that share a policy.
type Class string

const (
	ClassUnrestricted Class = "unrestricted"
	ClassAvailability Class = "availability"
	ClassComposite    Class = "composite"
)

// Verdict is the outcome of a policy evaluation.
type Verdict struct {
	Pass   bool     `json:"pass"`
	Reason string   `json:"reason"`
	Rule   string   `json:"rule,omitempty"`
	Paths  []string `json:"paths,omitempty"` // offending or qualifying paths
}

// Engine validates a set of changed paths for an incident category.
type Engine interface {
	// Validate returns the verdict for the given category and changed paths.
	Validate(category models.Category, changedPaths []string) Verdict

	// Restricted reports whether changes for the category are constrained at all.
	Restricted(category models.Category) bool

	// ClassOf returns the policy class for a category.
	ClassOf(category models.Category) Class
}
