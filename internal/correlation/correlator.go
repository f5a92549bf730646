package correlation

// Package correlation merges issues that arrive together and share a change
// target into a single composite issue.
//
// Issues are grouped by (namespace, target config path). A group with more
// than one member is replaced by a newly synthesized composite IssueRecord; the
// inputs are never modified. Groups keep the order in which their first member
// arrived.

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dr-kube/dr-kube/internal/models"
)

// PathResolver maps a resource name to a target config path ("" if none).
type PathResolver func(resource string) string

// Correlator groups related issues into composites.
type Correlator struct {
	resolve PathResolver
	enabled atomic.Bool
	now     func() time.Time
}

// NewCorrelator creates a correlator. A nil resolver resolves nothing.
func NewCorrelator(resolve PathResolver, enabled bool) *Correlator {
	if resolve == nil {
		resolve = func(string) string { return "" }
	}
	c := &Correlator{resolve: resolve, now: time.Now}
	c.enabled.Store(enabled)
	return c
}

// SetEnabled toggles composite mode.
func (c *Correlator) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
}

// Enabled reports whether composite mode is on.
func (c *Correlator) Enabled() bool {
	return c.enabled.Load()
}

type groupKey struct {
	namespace string
	path      string
}

// Correlate returns the issues with every multi-member group replaced by one
// composite issue. Fewer than two issues are returned unchanged.
func (c *Correlator) Correlate(issues []models.IssueRecord) []models.IssueRecord {
	if !c.enabled.Load() || len(issues) < 2 {
		return issues
	}

	var order []groupKey
	groups := make(map[groupKey][]models.IssueRecord)
	for _, issue := range issues {
		k := groupKey{namespace: issue.Namespace, path: issue.TargetConfigPath}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], issue)
	}

	out := make([]models.IssueRecord, 0, len(order))
	for _, k := range order {
		members := groups[k]
		if len(members) == 1 {
			out = append(out, members[0])
			continue
		}
		out = append(out, c.merge(members))
	}
	return out
}

// merge synthesizes a composite issue from two or more members.
func (c *Correlator) merge(members []models.IssueRecord) models.IssueRecord {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}

	resource := DominantResource(members)

	path := c.resolve(resource)
	if path == "" {
		for _, m := range members {
			if m.TargetConfigPath != "" {
				path = m.TargetConfigPath
				break
			}
		}
	}

	fingerprint := CompositeFingerprint(ids)
	sum := sha256.Sum256([]byte(fingerprint))

	received := members[0].ReceivedAt
	if received.IsZero() {
		received = c.now()
	}

	return models.IssueRecord{
		ID:               "composite-" + hex.EncodeToString(sum[:])[:12],
		Fingerprint:      fingerprint,
		Category:         models.CategoryComposite,
		Namespace:        members[0].Namespace,
		Resource:         resource,
		Description:      describe(members),
		LogExcerpts:      mergeExcerpts(members),
		TargetConfigPath: path,
		MemberIDs:        ids,
		ReceivedAt:       received,
	}
}

// CompositeFingerprint derives a fingerprint that embeds every member id and
// does not depend on input order.
func CompositeFingerprint(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return "composite|" + strings.Join(sorted, "|")
}

// DominantResource returns the most frequent resource, the first seen on ties.
func DominantResource(members []models.IssueRecord) string {
	counts := make(map[string]int)
	var best string
	bestCount := 0
	for _, m := range members {
		counts[m.Resource]++
	}
	for _, m := range members {
		if n := counts[m.Resource]; n > bestCount {
			best, bestCount = m.Resource, n
		}
	}
	return best
}

func describe(members []models.IssueRecord) string {
	cats := make([]string, 0, len(members))
	seen := make(map[models.Category]bool)
	for _, m := range members {
		if !seen[m.Category] {
			seen[m.Category] = true
			cats = append(cats, string(m.Category))
		}
	}
	return fmt.Sprintf("%d correlated issues (%s)", len(members), strings.Join(cats, ", "))
}

func mergeExcerpts(members []models.IssueRecord) []string {
	var out []string
	for _, m := range members {
		out = append(out, fmt.Sprintf("[%s] %s %s: %s", m.ID, m.Category, m.Resource, m.Description))
		out = append(out, m.LogExcerpts...)
	}
	return out
}
