package remediation

// Package remediation drives a single issue through
// propose → validate → (retry) → publish.
//
// State Machine:
//
//   LOADED
//     ↓ no target document → ANALYSIS_ONLY_DONE
//   ANALYZED
//     ↓ no change block → ERROR
//     ↓ validation
//   VALIDATION_FAILED ──(retryCount < MaxRetries)──→ ANALYZED
//     ↓ retries exhausted → ERROR
//   VALIDATED
//     ↓ publishing disabled → terminal (dry run)
//     ↓ publish
//   PR_CREATED
//
// WorkflowState is only ever changed by apply, which merges one StepResult
// into the state. Steps never touch the state directly.

import (
	"fmt"
	"time"

	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/store"
)

// MaxRetries bounds re-proposals after a validation failure. The first
// attempt is not a retry, so at most MaxRetries+1 proposals are requested.
const MaxRetries = 3

// Status is a workflow state.
type Status string

const (
	StatusLoaded           Status = "LOADED"
	StatusAnalyzed         Status = "ANALYZED"
	StatusValidated        Status = "VALIDATED"
	StatusValidationFailed Status = "VALIDATION_FAILED"
	StatusPRCreated        Status = "PR_CREATED"
	StatusAnalysisOnlyDone Status = "ANALYSIS_ONLY_DONE"
	StatusError            Status = "ERROR"
)

// WorkflowState is the state threaded through one remediation run.
type WorkflowState struct {
	RunID string             `json:"run_id"`
	Issue models.IssueRecord `json:"issue"`

	TargetPath     string   `json:"target_path,omitempty"`
	OriginalConfig string   `json:"-"`
	ProposedConfig string   `json:"-"`
	ChangedPaths   []string `json:"changed_paths,omitempty"`

	RetryCount   int    `json:"retry_count"`
	Attempts     int    `json:"attempts"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error,omitempty"`

	RootCause     string          `json:"root_cause,omitempty"`
	Severity      models.Severity `json:"severity,omitempty"`
	Suggestions   []string        `json:"suggestions,omitempty"`
	ChangeSummary string          `json:"change_summary,omitempty"`

	ChangeURL string `json:"change_url,omitempty"`
	Branch    string `json:"branch,omitempty"`

	// DryRun makes VALIDATED terminal.
	DryRun bool `json:"dry_run"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the workflow has stopped.
func (s *WorkflowState) Terminal() bool {
	switch s.Status {
	case StatusPRCreated, StatusAnalysisOnlyDone, StatusError:
		return true
	case StatusValidated:
		return s.DryRun
	}
	return false
}

// Succeeded reports whether the workflow ended without error.
func (s *WorkflowState) Succeeded() bool {
	return s.Terminal() && s.Status != StatusError
}

// Record converts a finished state into a run history entry.
func (s *WorkflowState) Record() *store.RunRecord {
	return &store.RunRecord{
		RunID:        s.RunID,
		IssueID:      s.Issue.ID,
		Category:     string(s.Issue.Category),
		Namespace:    s.Issue.Namespace,
		Resource:     s.Issue.Resource,
		TargetPath:   s.TargetPath,
		Status:       string(s.Status),
		Error:        s.ErrorMessage,
		RetryCount:   s.RetryCount,
		Severity:     string(s.Severity),
		ChangeURL:    s.ChangeURL,
		ChangedPaths: s.ChangedPaths,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
	}
}

// ─── Step results ────────────────────────────────────────────────────────────

// stepKind identifies the outcome of a workflow step.
type stepKind int

const (
	stepLoaded stepKind = iota
	stepProposed
	stepAnalysisOnly
	stepValidationPassed
	stepValidationFailed
	stepPublished
	stepFailed
)

// StepResult is the output of one workflow step.
type StepResult struct {
	kind stepKind

	targetPath     string
	originalConfig string

	proposedConfig string
	rootCause      string
	severity       models.Severity
	suggestions    []string
	changeSummary  string

	changedPaths []string
	reason       string

	changeURL string
	branch    string
}

func loaded(targetPath, original string) StepResult {
	return StepResult{kind: stepLoaded, targetPath: targetPath, originalConfig: original}
}

func proposed(config, rootCause string, sev models.Severity, suggestions []string, summary string) StepResult {
	return StepResult{
		kind:           stepProposed,
		proposedConfig: config,
		rootCause:      rootCause,
		severity:       sev,
		suggestions:    suggestions,
		changeSummary:  summary,
	}
}

func analysisOnly(rootCause string, sev models.Severity, suggestions []string) StepResult {
	return StepResult{kind: stepAnalysisOnly, rootCause: rootCause, severity: sev, suggestions: suggestions}
}

func validationPassed(changedPaths []string) StepResult {
	return StepResult{kind: stepValidationPassed, changedPaths: changedPaths}
}

func validationFailed(reason string, changedPaths []string) StepResult {
	return StepResult{kind: stepValidationFailed, reason: reason, changedPaths: changedPaths}
}

func published(url, branch string) StepResult {
	return StepResult{kind: stepPublished, changeURL: url, branch: branch}
}

func failed(reason string) StepResult {
	return StepResult{kind: stepFailed, reason: reason}
}

// ─── Transition ──────────────────────────────────────────────────────────────

// apply merges a step result into the state and returns the next state.
// A terminal state is never left. RetryCount only increases, and a failed
// validation at MaxRetries ends in ERROR.
func apply(s WorkflowState, r StepResult) WorkflowState {
	if s.Terminal() {
		return s
	}

	switch r.kind {
	case stepLoaded:
		s.Status = StatusLoaded
		s.TargetPath = r.targetPath
		s.OriginalConfig = r.originalConfig
		s.ErrorMessage = ""

	case stepProposed:
		s.Status = StatusAnalyzed
		s.Attempts++
		s.ProposedConfig = r.proposedConfig
		s.RootCause = r.rootCause
		s.Severity = r.severity
		s.Suggestions = r.suggestions
		s.ChangeSummary = r.changeSummary
		s.ChangedPaths = nil

	case stepAnalysisOnly:
		s.Status = StatusAnalysisOnlyDone
		s.Attempts++
		s.RootCause = r.rootCause
		s.Severity = r.severity
		s.Suggestions = r.suggestions
		s.ErrorMessage = ""

	case stepValidationPassed:
		s.Status = StatusValidated
		s.ChangedPaths = r.changedPaths
		s.ErrorMessage = ""

	case stepValidationFailed:
		s.ChangedPaths = r.changedPaths
		if s.RetryCount >= MaxRetries {
			s.Status = StatusError
			s.ErrorMessage = fmt.Sprintf("validation failed after %d retries: %s", MaxRetries, r.reason)
			break
		}
		s.RetryCount++
		s.Status = StatusValidationFailed
		s.ErrorMessage = r.reason

	case stepPublished:
		s.Status = StatusPRCreated
		s.ChangeURL = r.changeURL
		s.Branch = r.branch
		s.ErrorMessage = ""

	case stepFailed:
		s.Status = StatusError
		s.ErrorMessage = r.reason
	}
	return s
}
