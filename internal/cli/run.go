package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dr-kube/dr-kube/internal/admission"
	"github.com/dr-kube/dr-kube/internal/integration/alertmanager"
	"github.com/dr-kube/dr-kube/internal/models"
	"github.com/dr-kube/dr-kube/internal/remediation"
)

// RunOutput is printed by the run command.
type RunOutput struct {
	Decisions []admission.Decision         `json:"decisions"`
	Runs      []*remediation.WorkflowState `json:"runs"`
}

func newRunCmd(a *app) *cobra.Command {
	var (
		issuePath string
		publish   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Remediate a single issue file and print the result",
		Example: `  dr-kube run --issue issue.json
  dr-kube run --issue issue.json --publish`,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]interface{}{}
			if cmd.Flags().Changed("publish") {
				overrides["publish.enabled"] = publish
			}
			return a.run(cmd.Context(), issuePath, overrides)
		},
	}
	cmd.Flags().StringVar(&issuePath, "issue", "", "path to an issue JSON document")
	cmd.Flags().BoolVar(&publish, "publish", false, "open a pull request for a validated fix")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func (a *app) run(ctx context.Context, issuePath string, overrides map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := os.ReadFile(issuePath)
	if err != nil {
		return fmt.Errorf("read issue file: %w", err)
	}
	issue, err := alertmanager.DecodeIssue(data, time.Now())
	if err != nil {
		return err
	}

	_, cfg, err := a.loadConfig(ctx, overrides)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()

	decisions, runs := rt.handler.ProcessBatch(ctx, []models.IssueRecord{issue})
	if runs == nil {
		runs = []*remediation.WorkflowState{}
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(RunOutput{Decisions: decisions, Runs: runs}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	for _, s := range runs {
		if s.Status == remediation.StatusError {
			return fmt.Errorf("workflow %s failed: %s", s.RunID, s.ErrorMessage)
		}
	}
	return nil
}
