package llm

// Package llm is the proposal collaborator of the remediation workflow.
//
// The workflow hands it an issue, the current configuration document and, on
// retries, the reason the previous proposal was rejected. It returns a typed
// Proposal. Prompt construction and the parsing of free-form model output live
// here so the state machine only ever sees a Proposal or an error.
//
// Model access goes through the Completer interface; concrete providers
// (OpenAI, Ollama, Anthropic, Gemini) live in the provider subpackage.

import (
	"context"
	"errors"

	"github.com/dr-kube/dr-kube/internal/models"
)

// ErrNoChangeBlock is returned when a fix was requested but the response
// carried no fenced yaml block.
var ErrNoChangeBlock = errors.New("no change block extracted")

// ErrProviderNotConfigured is returned when no model provider is available.
var ErrProviderNotConfigured = errors.New("LLM provider not configured")

// Request is the input to one proposal attempt.
type Request struct {
	Issue models.IssueRecord

	// TargetPath and OriginalConfig are empty for analysis-only requests.
	TargetPath     string
	OriginalConfig string

	// PriorFailure is the validation failure of the previous attempt, if any.
	PriorFailure string
	Attempt      int
}

// AnalysisOnly reports whether the request asks for a diagnosis without a fix.
func (r Request) AnalysisOnly() bool {
	return r.TargetPath == "" || r.OriginalConfig == ""
}

// Proposal is the typed result of a proposal attempt.
type Proposal struct {
	// ProposedConfigText is the full modified document. Empty for analysis-only.
	ProposedConfigText string          `json:"proposed_config,omitempty"`
	Rationale          string          `json:"root_cause"`
	Severity           models.Severity `json:"severity"`
	Suggestions        []string        `json:"suggestions"`
	ChangeSummary      string          `json:"change_summary,omitempty"`

	// Raw is the unparsed model response.
	Raw string `json:"-"`
}

// Generator produces remediation proposals.
type Generator interface {
	Propose(ctx context.Context, req Request) (*Proposal, error)
}

// Completer sends one prompt to a model and returns its text response.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}
