// Package commands implements the confwell CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/confwell/confwell/pkg/config"
)

var (
	// Global flags
	settingsPath string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "confwell",
		Short: "Confwell - Dynamic Configuration Service",
		Long: `Confwell serves dynamic configuration: JSON config documents with
conditional overrides, per-environment variants, and cross-config references,
read from an in-memory replica kept in sync through a durable event queue.

Features:
  - Context-driven override evaluation with percentage segmentation
  - Per-environment config variants
  - Cross-config reference resolution
  - Live change streams over SSE
  - SQLite-backed durable store`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "", "settings file path")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newKeygenCommand())

	return rootCmd
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}
