package gitops

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dr-kube/dr-kube/internal/models"
)

const defaultChangeSummary = "automated remediation"

// BranchName returns fix/<category>-<resource>-<YYYYMMDD-HHMMSS>. The resource
// is reduced to letters, digits and dashes and capped at 20 characters.
func BranchName(category models.Category, resource string, now time.Time) string {
	var b strings.Builder
	for _, r := range resource {
		if b.Len() >= 20 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf("fix/%s-%s-%s", category, b.String(), now.Format("20060102-150405"))
}

// CommitMessage returns the commit and pull request title.
func CommitMessage(category models.Category, summary string) string {
	if summary == "" {
		summary = defaultChangeSummary
	}
	return fmt.Sprintf("fix(%s): %s", category, summary)
}

// PRBody renders the pull request description.
func PRBody(req PublishRequest) string {
	var b strings.Builder
	b.WriteString("## dr-kube automated remediation\n\n")
	b.WriteString("### Issue\n")
	fmt.Fprintf(&b, "- **Type**: %s\n", req.Issue.Category)
	fmt.Fprintf(&b, "- **Resource**: %s\n", orNA(req.Issue.Resource))
	fmt.Fprintf(&b, "- **Namespace**: %s\n", orNA(req.Issue.Namespace))
	fmt.Fprintf(&b, "- **Severity**: %s\n", orNA(string(req.Severity)))
	if len(req.Issue.MemberIDs) > 0 {
		fmt.Fprintf(&b, "- **Merged issues**: %s\n", strings.Join(req.Issue.MemberIDs, ", "))
	}
	b.WriteString("\n### Root cause\n")
	b.WriteString(orNA(req.RootCause) + "\n")
	b.WriteString("\n### Change\n")
	b.WriteString(orNA(req.ChangeSummary) + "\n")
	if len(req.ChangedPaths) > 0 {
		b.WriteString("\n### Changed settings\n")
		for _, p := range req.ChangedPaths {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	b.WriteString("\n### Modified file\n")
	fmt.Fprintf(&b, "- `%s`\n", orNA(req.TargetPath))
	b.WriteString("\n---\n> Opened automatically by dr-kube. Review before merging.\n")
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
