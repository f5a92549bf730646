package policy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dr-kube/dr-kube/internal/diff"
	"github.com/dr-kube/dr-kube/internal/models"
)

// ─── Token sets ───────────────────────────────────────────────────────────────

var denyTokens = tokenSet("resources", "limits", "requests", "memory", "cpu")

var allowTokens = tokenSet(
	"replica", "replicas",
	"poddisruptionbudget", "pdb",
	"timeout", "retry", "retries", "backoff",
	"circuitbreaker", "connectionpool",
	"maxretries", "maxconnections",
)

// availabilityCategories are the categories where resource tuning is denied.
var availabilityCategories = map[models.Category]bool{
	models.CategoryPodCrash:      true,
	models.CategoryServiceError:  true,
	models.CategoryUpstreamError: true,
	models.CategoryServiceDown:   true,
}

// ─── Rules ────────────────────────────────────────────────────────────────────

type rule struct {
	name  string
	check func(paths []string) (violated bool, reason string, offending []string)
}

var availabilityRules = []rule{
	{
		name: "no_resource_tuning",
		check: func(paths []string) (bool, string, []string) {
			hits := matching(paths, denyTokens)
			if len(hits) > 0 {
				return true, fmt.Sprintf("resource tuning is not allowed for this incident type: %s", strings.Join(hits, ", ")), hits
			}
			return false, "", nil
		},
	},
	{
		name: "requires_structural_remediation",
		check: func(paths []string) (bool, string, []string) {
			if len(matching(paths, allowTokens)) == 0 {
				return true, fmt.Sprintf("change must adjust replicas, disruption budgets or resilience settings (timeout/retry/backoff/circuit breaker/connection pool); changed: %s", strings.Join(paths, ", ")), paths
			}
			return false, "", nil
		},
	},
}

var compositeRules = []rule{
	{
		name: "requires_breadth",
		check: func(paths []string) (bool, string, []string) {
			if len(diff.TopLevelSections(paths)) >= 2 || len(paths) >= 2 {
				return false, "", nil
			}
			return true, fmt.Sprintf("composite incident needs changes in at least two sections or two settings; changed: %s", strings.Join(paths, ", ")), paths
		},
	},
	{
		name: "not_resource_tuning_only",
		check: func(paths []string) (bool, string, []string) {
			if len(paths) > 0 && len(matching(paths, denyTokens)) == len(paths) {
				return true, "composite incident fix only tunes resources", paths
			}
			return false, "", nil
		},
	},
}

// ─── engineImpl ───────────────────────────────────────────────────────────────

type engineImpl struct{}

// NewEngine returns the token-heuristic policy engine.
func NewEngine() Engine {
	return &engineImpl{}
}

func (e *engineImpl) ClassOf(category models.Category) Class {
	if category == models.CategoryComposite {
		return ClassComposite
	}
	if availabilityCategories[category] {
		return ClassAvailability
	}
	return ClassUnrestricted
}

func (e *engineImpl) Restricted(category models.Category) bool {
	return e.ClassOf(category) != ClassUnrestricted
}

func (e *engineImpl) Validate(category models.Category, changedPaths []string) Verdict {
	var rules []rule
	switch e.ClassOf(category) {
	case ClassAvailability:
		rules = availabilityRules
	case ClassComposite:
		rules = compositeRules
	default:
		return Verdict{Pass: true, Reason: fmt.Sprintf("category %q is unrestricted", category)}
	}

	for _, r := range rules {
		if violated, reason, offending := r.check(changedPaths); violated {
			return Verdict{Pass: false, Reason: reason, Rule: r.name, Paths: offending}
		}
	}
	return Verdict{Pass: true, Reason: "policy satisfied", Paths: changedPaths}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func tokenSet(tokens ...string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		m[t] = true
	}
	return m
}

// tokenize splits a path on non-alphanumeric characters and lowercases the parts.
func tokenize(path string) []string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

func intersects(path string, set map[string]bool) bool {
	for _, tok := range tokenize(path) {
		if set[tok] {
			return true
		}
	}
	return false
}

func matching(paths []string, set map[string]bool) []string {
	var out []string
	for _, p := range paths {
		if intersects(p, set) {
			out = append(out, p)
		}
	}
	return out
}
