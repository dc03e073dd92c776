package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homeops/opswatch/internal/alerting"
)

func newRulesCommand(_ *globalFlags) *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Work with alert rule files",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML rules file",
		Long: `Parse a rules file in the format accepted by alerting.rules_file and
report every invalid or duplicate rule. Nothing is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(cmd, args[0])
		},
	})
	return rules
}

func runRulesValidate(cmd *cobra.Command, path string) error {
	rules, err := alerting.LoadRulesFile(path)
	if err != nil {
		return err
	}
	if err := alerting.ValidateRules(rules); err != nil {
		return fmt.Errorf("%s is invalid:\n%w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", path, len(rules))
	return nil
}
