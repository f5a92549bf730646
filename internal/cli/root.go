package cli

// Package cli implements the dr-kube command tree.
//
//   dr-kube serve                 webhook server with background remediation
//   dr-kube run --issue FILE      one issue, synchronously, result on stdout
//   dr-kube config validate|show  inspect the effective configuration

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dr-kube/dr-kube/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "dr-kube",
		Short:         "Automated remediation for Kubernetes incidents",
		Long:          "dr-kube turns Alertmanager and ArgoCD incidents into validated configuration changes, gated by cost-aware admission control.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultConfigPath, "path to the config file")

	cmd.AddCommand(
		newServeCmd(a),
		newRunCmd(a),
		newConfigCmd(a),
	)
	return cmd
}

// loadConfig loads and validates configuration, applying overrides first.
func (a *app) loadConfig(ctx context.Context, overrides map[string]interface{}) (config.ConfigManager, *config.Config, error) {
	mgr, err := config.NewConfigManager(a.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	for key, value := range overrides {
		mgr.Set(key, value)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, mgr.Get(ctx), nil
}
