package remediation

import (
	"fmt"

	"github.com/dr-kube/dr-kube/internal/diff"
	"github.com/dr-kube/dr-kube/internal/metrics"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/safety/policy"
)

// validation is the result of checking one proposal.
type validation struct {
	ok           bool
	reason       string
	changedPaths []string
}

// validateProposal runs the checks in order and stops at the first failure:
// the proposal parses, is not empty, differs structurally from the original,
// has a map at the root, and satisfies the category policy.
func validateProposal(engine policy.Engine, category models.Category, original, proposedText string) validation {
	proposedDoc, err := diff.ParseDocument(proposedText)
	if err != nil {
		return validation{reason: fmt.Sprintf("proposed document is not valid YAML: %v", err)}
	}
	if proposedDoc == nil {
		return validation{reason: "proposed document is empty"}
	}

	originalDoc, err := diff.ParseDocument(original)
	if err != nil {
		return validation{reason: fmt.Sprintf("original document is not valid YAML: %v", err)}
	}
	changed := diff.Diff(originalDoc, proposedDoc)
	if len(changed) == 0 {
		return validation{reason: "proposed document is identical to the original"}
	}

	if _, ok := proposedDoc.(map[string]interface{}); !ok {
		return validation{reason: "proposed document is not a map at the root", changedPaths: changed}
	}

	if engine.Restricted(category) {
		verdict := engine.Validate(category, changed)
		metrics.RecordPolicyVerdict(string(category), verdict.Pass)
		if !verdict.Pass {
			reason := "policy violation"
			if verdict.Rule != "" {
				reason += " (" + verdict.Rule + ")"
			}
			reason += ": " + verdict.Reason
			return validation{reason: reason, changedPaths: changed}
		}
	}
	return validation{ok: true, changedPaths: changed}
}
