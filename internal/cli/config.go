package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dr-kube/dr-kube/internal/config"
)

const redacted = "********"

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, _, err := a.loadConfig(cmd.Context(), nil); err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "configuration is valid (%s)\n", a.configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML, secrets redacted",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, cfg, err := a.loadConfig(cmd.Context(), nil)
				if err != nil {
					return err
				}
				out, err := yaml.Marshal(redact(*cfg))
				if err != nil {
					return fmt.Errorf("encode config: %w", err)
				}
				_, err = a.stdout.Write(out)
				return err
			},
		},
	)
	return cmd
}

func redact(cfg config.Config) config.Config {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = redacted
	}
	return cfg
}
