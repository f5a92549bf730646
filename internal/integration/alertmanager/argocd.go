package alertmanager

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dr-kube/dr-kube/internal/gitops"
	"github.com/dr-kube/dr-kube/internal/models"
)

// ErrInvalidValuesFile is returned when values_file is absolute or leaves the repo.
var ErrInvalidValuesFile = errors.New("values_file must be a relative path inside the repository")

// DecodeIssue parses a single issue document, as posted by the ArgoCD
// notification template or stored in an issue file for the CLI.
func DecodeIssue(body []byte, now time.Time) (models.IssueRecord, error) {
	var issue models.IssueRecord
	if err := json.Unmarshal(body, &issue); err != nil {
		return models.IssueRecord{}, fmt.Errorf("decode issue: %w", err)
	}
	if issue.TargetConfigPath != "" && !gitops.IsRepoRelative(issue.TargetConfigPath) {
		return models.IssueRecord{}, fmt.Errorf("%q: %w", issue.TargetConfigPath, ErrInvalidValuesFile)
	}
	if issue.ID == "" {
		issue.ID = "argocd-unknown"
	}
	if issue.Category == "" {
		issue.Category = models.CategoryUnknown
	}
	if issue.Namespace == "" {
		issue.Namespace = "default"
	}
	if issue.Fingerprint == "" {
		issue.Fingerprint = issue.ID
	}
	issue.ReceivedAt = now
	return issue, nil
}
