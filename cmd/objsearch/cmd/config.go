package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/reefdata/objsearch/configs"
)

// newConfigCmd creates the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the objsearch configuration",
	}
	cmd.AddCommand(newConfigInitCmd())
	return cmd
}

// newConfigInitCmd creates the config init command.
func newConfigInitCmd() *cobra.Command {
	var path string
	var rulesDir string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated example config and rule set",
		Long: `Writes an annotated configuration file and a rules directory
holding one example rule set. Existing files are left alone unless
--force is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := writeTemplate(path, configs.ConfigTemplate, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

			if err := os.MkdirAll(rulesDir, 0o755); err != nil {
				return fmt.Errorf("creating rules dir %s: %w", rulesDir, err)
			}
			ruleFile := filepath.Join(rulesDir, "document.yaml")
			if err := writeTemplate(ruleFile, configs.RuleSetTemplate, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", ruleFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "objsearch.yaml", "Where to write the config file")
	cmd.Flags().StringVar(&rulesDir, "rules-dir", "rules", "Where to write the example rule set")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing files")

	return cmd
}

func writeTemplate(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
