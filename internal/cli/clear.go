package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/harness"
	"github.com/arter97/chromium-tesla-sub003/internal/resolver"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Begin      string
	End        string
	Origins    []string
	RateLimits bool
	All        bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete stored data in a time range",
		Long: `Delete sources, reports and debug budget records in a time range.

Without --origin every origin matches. Rate-limit records are kept unless
--rate-limits is set, so clearing data does not reset attribution limits.

Examples:
  attribution clear --begin -24h
  attribution clear --origin https://report.example --rate-limits
  attribution clear --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Begin, "begin", "", "start of the range (default the beginning of time)")
	cmd.Flags().StringVar(&opts.End, "end", "", "end of the range (default the end of time)")
	cmd.Flags().StringArrayVar(&opts.Origins, "origin", nil, "only clear data for this origin (repeatable)")
	cmd.Flags().BoolVar(&opts.RateLimits, "rate-limits", false, "also delete rate-limit records")
	cmd.Flags().BoolVar(&opts.All, "all", false, "clear all data for all time, ignoring the range and origins")

	return cmd
}

func runClear(opts *ClearOptions, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.All {
		counts, err := s.resolver.ClearAllDataAllTime(cmd.Context(), opts.RateLimits)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to clear data", err)
		}
		return formatter.Success(counts)
	}

	begin, err := parseTime(opts.Begin, s.now, time.Time{})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --begin", err)
	}
	end, err := parseTime(opts.End, s.now, resolver.EndOfTime)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --end", err)
	}
	if end.Before(begin) {
		return NewExitError(ExitCommandError, "--end is before --begin")
	}

	origins := make([]string, 0, len(opts.Origins))
	for _, o := range opts.Origins {
		parsed, err := attribution.ParseOrigin(o)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --origin", err)
		}
		origins = append(origins, string(parsed))
	}

	formatter.VerboseLog("clearing %s to %s for %d origin(s)", begin.Format(time.RFC3339), end.Format(time.RFC3339), len(origins))
	counts, err := s.resolver.ClearData(cmd.Context(), begin, end, harness.MatchOrigins(origins), opts.RateLimits)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to clear data", err)
	}
	return formatter.Success(counts)
}

// NewDataKeysCommand creates the data-keys command.
func NewDataKeysCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "data-keys",
		Short:         "List reporting origins that have stored data",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			keys, err := s.resolver.GetAllDataKeys(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list data keys", err)
			}
			if keys == nil {
				keys = []attribution.Origin{}
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(keys)
		},
	}
}
