package llm

import (
	"fmt"
	"strings"

	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/safety/policy"
)

// Response field labels shared by the prompts and the parser.
const (
	labelRootCause     = "Root cause:"
	labelSeverity      = "Severity:"
	labelSuggestions   = "Solutions:"
	labelChangeSummary = "Change summary:"
)

const systemPreamble = "You are a Kubernetes expert and a Helm values YAML expert."

// BuildPrompt renders the prompt for a request, choosing the analyze+fix or
// the analyze-only template.
func BuildPrompt(req Request, engine policy.Engine) string {
	if req.AnalysisOnly() {
		return buildAnalyzeOnly(req.Issue)
	}
	return buildAnalyzeAndFix(req, engine)
}

func writeIssue(b *strings.Builder, issue models.IssueRecord) {
	b.WriteString("## Issue\n")
	fmt.Fprintf(b, "- Type: %s\n", valueOr(string(issue.Category), string(models.CategoryUnknown)))
	fmt.Fprintf(b, "- Namespace: %s\n", valueOr(issue.Namespace, "default"))
	fmt.Fprintf(b, "- Resource: %s\n", valueOr(issue.Resource, "unknown"))
	fmt.Fprintf(b, "- Error message: %s\n", issue.Description)
	b.WriteString("\n## Logs\n")
	b.WriteString(strings.Join(issue.LogExcerpts, "\n"))
	b.WriteString("\n")
}

func buildAnalyzeAndFix(req Request, engine policy.Engine) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\nAnalyze the following Kubernetes issue and modify the Helm values file to resolve it.\n\n")
	writeIssue(&b, req.Issue)

	b.WriteString("\n## Current values file\n")
	fmt.Fprintf(&b, "File: %s\n", req.TargetPath)
	b.WriteString("```yaml\n")
	b.WriteString(strings.TrimRight(req.OriginalConfig, "\n"))
	b.WriteString("\n```\n")

	if req.PriorFailure != "" {
		b.WriteString("\n## Previous attempt rejected\n")
		fmt.Fprintf(&b, "Your previous proposal (attempt %d) was rejected: %s\n", req.Attempt, req.PriorFailure)
		b.WriteString("Produce a different proposal that addresses this rejection.\n")
	}

	b.WriteString("\n## Response format\nAnswer exactly in this format:\n\n")
	fmt.Fprintf(&b, "%s [one sentence]\n\n", labelRootCause)
	fmt.Fprintf(&b, "%s [one of critical/high/medium/low]\n\n", labelSeverity)
	fmt.Fprintf(&b, "%s\n1. [primary fix, one line]\n2. [recurrence prevention, one line]\n\n", labelSuggestions)
	b.WriteString("```yaml\n[the complete modified values YAML]\n```\n\n")
	fmt.Fprintf(&b, "%s [english, at most 30 characters, e.g. \"increase memory limit to 256Mi\"]\n", labelChangeSummary)

	resource := valueOr(req.Issue.Resource, "the affected")
	b.WriteString("\n## Rules\n")
	b.WriteString("- Keep the existing YAML structure and only modify what is needed\n")
	b.WriteString("- Keep comments and indentation exactly\n")
	fmt.Fprintf(&b, "- Only modify settings of the %s service, leave other services unchanged\n", resource)
	b.WriteString("- Do not include kubectl commands, changes go through Git only\n")
	b.WriteString("- The yaml block must contain the entire file\n")

	switch engine.ClassOf(req.Issue.Category) {
	case policy.ClassAvailability:
		b.WriteString("- This is an availability incident:\n")
		b.WriteString("  - do not change resources/limits/requests/memory/cpu\n")
		b.WriteString("  - prefer replicas, PodDisruptionBudget, timeout/retry/backoff/circuit-breaker settings\n")
	case policy.ClassComposite:
		b.WriteString("- This incident merges several correlated symptoms:\n")
		b.WriteString("  - address more than one setting or section, not a single narrow tweak\n")
		b.WriteString("  - a fix that only tunes resources/limits/requests/memory/cpu is rejected\n")
	}
	return b.String()
}

func buildAnalyzeOnly(issue models.IssueRecord) string {
	var b strings.Builder
	b.WriteString("You are a Kubernetes expert.\nAnalyze the following Kubernetes issue and suggest concise solutions.\n\n")
	writeIssue(&b, issue)

	b.WriteString("\n## Response format\nAnswer concisely in this format:\n\n")
	fmt.Fprintf(&b, "%s [one sentence]\n\n", labelRootCause)
	fmt.Fprintf(&b, "%s [one of critical/high/medium/low]\n\n", labelSeverity)
	fmt.Fprintf(&b, "%s\n1. [immediate action, one line]\n2. [root fix, one line]\n3. [monitoring, one line]\n", labelSuggestions)

	b.WriteString("\n## Rules\n")
	b.WriteString("- Keep each solution to one line\n")
	b.WriteString("- Do not include kubectl write commands (apply, patch, delete, ...)\n")
	b.WriteString("- Read commands (get, describe, logs) may be included for reference\n")
	return b.String()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
