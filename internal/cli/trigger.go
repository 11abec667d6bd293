package cli

import (
	"github.com/spf13/cobra"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <file>",
		Short: "Attribute a trigger and store the resulting reports",
		Long: `Attribute a trigger read from a YAML or JSON file against stored sources.

Prints the event-level and aggregatable outcomes along with any new
reports. Policy rejections are results, not command failures.

Example:
  attribution trigger ./purchase.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var t attribution.Trigger
			if err := decodeInputFile(args[0], &t); err != nil {
				return err
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			res, err := s.resolver.MaybeCreateAndStoreReport(cmd.Context(), t)
			if err != nil {
				return callerError(formatter, err)
			}
			formatter.VerboseLog("event-level: %s, aggregatable: %s", res.EventLevelStatus, res.AggregatableStatus)
			return formatter.Success(res)
		},
	}
}
