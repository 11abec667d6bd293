package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
)

// NewSourceCommand creates the source command group.
func NewSourceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "source",
		Short: "Register and inspect attribution sources",
	}

	cmd.AddCommand(newSourceRegisterCommand(rootOpts))
	cmd.AddCommand(newSourceListCommand(rootOpts))
	cmd.AddCommand(newSourceSweepCommand(rootOpts))
	return cmd
}

func newSourceRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <file>",
		Short: "Store a source registration",
		Long: `Store a source registration read from a YAML or JSON file.

The result status is printed even when the source is rejected by policy;
only malformed registrations fail the command.

Example:
  attribution source register ./source.yaml
  attribution source register ./source.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var src attribution.Source
			if err := decodeInputFile(args[0], &src); err != nil {
				return err
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			res, err := s.resolver.StoreSource(cmd.Context(), src)
			if err != nil {
				return callerError(formatter, err)
			}
			return formatter.Success(res)
		},
	}
}

func newSourceListCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List active, unexpired sources",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			sources, err := s.resolver.GetActiveSources(cmd.Context(), limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list sources", err)
			}
			if sources == nil {
				sources = []*attribution.StoredSource{}
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(sources)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", -1, "maximum sources to list (-1 for all)")
	return cmd
}

func newSourceSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "sweep",
		Short:         "Delete expired sources that have no pending reports",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			n, err := s.resolver.DeleteExpiredSources(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to delete expired sources", err)
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(map[string]int{"deleted": n})
		},
	}
}

// callerError reports a resolver rejection of malformed input and turns
// it into a command error. Other errors pass through as failures.
func callerError(formatter *OutputFormatter, err error) error {
	var re *resolver.Error
	if !errors.As(err, &re) {
		return WrapExitError(ExitFailure, "operation failed", err)
	}
	code := ErrCodeInvalidInput
	if re.Code == resolver.ErrCodeNotFound {
		code = ErrCodeNotFound
	}
	if formatter.Format == "json" {
		_ = formatter.Error(code, re.Message, string(re.Code))
	}
	return WrapExitError(ExitCommandError, string(re.Code), err)
}
