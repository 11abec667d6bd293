package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Database   string
	ConfigFile string
	EnvFile    string

	// Clock and Noise override the system clock and randomized noise
	// (for testing). Nil selects the defaults.
	Clock resolver.Clock
	Noise noise.Strategy
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the attribution CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "attribution",
		Short: "Attribution source and report storage",
		Long: `Operate an attribution store: register sources, attribute triggers,
inspect and schedule pending reports, and clear data.

Every command opens the SQLite database given by --db, applies the policy
from --config (YAML or CUE) over the built-in defaults, then applies
ATTRIBUTION_* environment overrides (optionally read from --env-file).`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "attribution.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "policy file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "file of ATTRIBUTION_* overrides, ignored when missing")

	cmd.AddCommand(NewSourceCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewReportsCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewDataKeysCommand(opts))
	cmd.AddCommand(NewDebugReportCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
