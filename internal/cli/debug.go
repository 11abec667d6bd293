package cli

import (
	"github.com/spf13/cobra"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// NewDebugReportCommand creates the debug-report command.
func NewDebugReportCommand(opts *RootOptions) *cobra.Command {
	var (
		remaining int64
		sourceID  int64
	)

	cmd := &cobra.Command{
		Use:   "debug-report <file>",
		Short: "Charge an aggregatable debug report against the debug budgets",
		Long: `Charge an aggregatable debug report read from a YAML or JSON file
against the per-site debug budgets.

With --source-id the report also draws on that source's debug budget and
report count. --remaining-budget is the budget the caller believes is
left.

Example:
  attribution debug-report ./debug.yaml --source-id 3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report attribution.AggregatableDebugReport
			if err := decodeInputFile(args[0], &report); err != nil {
				return err
			}

			var remainingPtr *int64
			if cmd.Flags().Changed("remaining-budget") {
				remainingPtr = &remaining
			}
			var sourcePtr *attribution.SourceID
			if cmd.Flags().Changed("source-id") {
				id := attribution.SourceID(sourceID)
				sourcePtr = &id
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			res, err := s.resolver.ProcessAggregatableDebugReport(cmd.Context(), report, remainingPtr, sourcePtr)
			if err != nil {
				return callerError(formatter, err)
			}
			return formatter.Success(res)
		},
	}

	cmd.Flags().Int64Var(&remaining, "remaining-budget", 0, "caller-tracked remaining budget")
	cmd.Flags().Int64Var(&sourceID, "source-id", 0, "source whose debug budget is charged")
	return cmd
}
