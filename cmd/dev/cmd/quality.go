package cmd

import (
	"fmt"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// qualityCmd wraps a devtool check as a cobra command.
func qualityCmd(use, short, what string, run func() error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := run(); err != nil {
				return fmt.Errorf("failed to run %s: %w", what, err)
			}
			return nil
		},
	}
}

// TestCmd runs the unit tests. Bus level tests run on the simulated bus and
// need no hardware.
func TestCmd() *cobra.Command {
	return qualityCmd("test", "Run unit tests (simulated buses, no hardware)", "tests", test.Test)
}

func LintCmd() *cobra.Command {
	return qualityCmd("lint", "Run linting", "linting", test.Lint)
}

// IntegrationTestCmd runs the tests that need a board wired to a host and a
// monitor.
func IntegrationTestCmd() *cobra.Command {
	return qualityCmd("integration-test", "Run tests against a wired board", "integration testing", test.Integ)
}
