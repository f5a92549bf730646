package llm

import (
	"regexp"
	"strings"

	"github.com/dr-kube/dr-kube/internal/models"
)

const (
	maxSuggestions       = 3
	defaultChangeSummary = "automated remediation"
	unparsedRootCause    = "could not parse the analysis result"
	defaultSuggestion    = "inspect the logs further"
)

var (
	rootCausePattern     = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(labelRootCause) + `[ \t]*(.+)`)
	severityPattern      = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(labelSeverity) + `\s*\**\s*(critical|high|medium|low)`)
	suggestionPattern    = regexp.MustCompile(`(?m)^\d+\.\s*(.+)$`)
	yamlBlockPattern     = regexp.MustCompile("(?s)```ya?ml[ \t]*\r?\n(.*?)```")
	changeSummaryPattern = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(labelChangeSummary) + `[ \t]*(.+)`)
)

// ParseResponse extracts a Proposal from a free-form model response. When
// wantFix is set and no yaml block is present it returns the partial proposal
// together with ErrNoChangeBlock.
func ParseResponse(text string, wantFix bool) (*Proposal, error) {
	p := &Proposal{
		Raw:         text,
		Rationale:   firstGroup(rootCausePattern, text),
		Severity:    parseSeverity(text),
		Suggestions: parseSuggestions(text),
	}
	if p.Rationale == "" {
		p.Rationale = unparsedRootCause
	}

	if !wantFix {
		if len(p.Suggestions) == 0 {
			p.Suggestions = []string{defaultSuggestion}
		}
		return p, nil
	}

	p.ProposedConfigText = firstGroup(yamlBlockPattern, text)
	if p.ProposedConfigText == "" {
		return p, ErrNoChangeBlock
	}
	if len(p.Suggestions) == 0 {
		p.Suggestions = []string{defaultSuggestion}
	}
	p.ChangeSummary = strings.Trim(firstGroup(changeSummaryPattern, text), `"'`)
	if p.ChangeSummary == "" {
		p.ChangeSummary = defaultChangeSummary
	}
	return p, nil
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func parseSeverity(text string) models.Severity {
	return models.ParseSeverity(strings.ToLower(firstGroup(severityPattern, text)))
}

// parseSuggestions returns up to three numbered list items outside of fenced
// code blocks.
func parseSuggestions(text string) []string {
	prose := yamlBlockPattern.ReplaceAllString(text, "")
	var out []string
	for _, m := range suggestionPattern.FindAllStringSubmatch(prose, -1) {
		s := strings.TrimSpace(m[1])
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
