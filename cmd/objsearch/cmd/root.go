// Package cmd provides the CLI commands for objsearch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reefdata/objsearch/internal/config"
	"github.com/reefdata/objsearch/internal/logging"
	"github.com/reefdata/objsearch/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the objsearch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objsearch",
		Short: "Incremental search indexing for versioned objects",
		Long: `Objsearch keeps a full-text search index in sync with object
stores by consuming object change events. A worker claims events from a
durable queue, extracts keywords from each object per the registered
indexing rules, and writes search documents to the index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("objsearch version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML config file")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// loadConfig loads the configuration and installs the default logger. The
// returned cleanup closes the log file, if any.
func loadConfig() (config.Config, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	cleanup, err := logging.SetupDefault(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.File,
		WriteToStderr: true,
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cleanup, nil
}
