package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// NewReportsCommand creates the reports command group.
func NewReportsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect and schedule pending reports",
		Long: `Inspect and schedule pending reports.

Times accept RFC 3339 ("2024-03-01T12:00:00Z") or a duration relative to
now ("48h", "-30m").`,
	}

	cmd.AddCommand(newReportsListCommand(rootOpts))
	cmd.AddCommand(newReportsNextCommand(rootOpts))
	cmd.AddCommand(newReportsDeleteCommand(rootOpts))
	cmd.AddCommand(newReportsFailCommand(rootOpts))
	cmd.AddCommand(newReportsAdjustOfflineCommand(rootOpts))
	cmd.AddCommand(newReportsVerifyCommand(rootOpts))
	return cmd
}

func newReportsListCommand(opts *RootOptions) *cobra.Command {
	var (
		before string
		limit  int
		query  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports due at or before a time",
		Long: `List reports whose report time is at or before --before (default now).

--select applies a gjson path to the JSON array of reports, e.g.
  attribution reports list --select '#.external_report_id'
  attribution reports list --select '#(report_type=="aggregatable")#'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			maxTime, err := parseTime(before, s.now, s.now)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --before", err)
			}

			reports, err := s.resolver.GetAttributionReports(cmd.Context(), maxTime, limit)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list reports", err)
			}
			if reports == nil {
				reports = []*attribution.Report{}
			}

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if query == "" {
				return formatter.Success(reports)
			}
			selected, err := selectPath(reports, query)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to select from reports", err)
			}
			return formatter.Success(selected)
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "latest report time to include (default now)")
	cmd.Flags().IntVar(&limit, "limit", -1, "maximum reports to list (-1 for all, unshuffled)")
	cmd.Flags().StringVar(&query, "select", "", "gjson path applied to the report list")
	return cmd
}

// selectPath evaluates a gjson path over the JSON form of v. Strings are
// returned bare, anything else as raw JSON.
func selectPath(v any, path string) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal reports: %w", err)
	}
	res := gjson.GetBytes(data, path)
	if !res.Exists() {
		return json.RawMessage("null"), nil
	}
	if res.Type == gjson.String {
		return res.String(), nil
	}
	return json.RawMessage(res.Raw), nil
}

func newReportsNextCommand(opts *RootOptions) *cobra.Command {
	var after string

	cmd := &cobra.Command{
		Use:           "next",
		Short:         "Show the earliest report time strictly after a time",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			t, err := parseTime(after, s.now, s.now)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --after", err)
			}
			next, err := s.resolver.GetNextReportTime(cmd.Context(), t)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read next report time", err)
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(map[string]*time.Time{"next": next})
		},
	}

	cmd.Flags().StringVar(&after, "after", "", "exclusive lower bound (default now)")
	return cmd
}

func newReportsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <id>",
		Short:         "Delete a report after it was sent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReportID(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			ok, err := s.resolver.DeleteReport(cmd.Context(), id)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to delete report", err)
			}
			if !ok {
				return reportNotFound(formatter, id)
			}
			return formatter.Success(map[string]any{"deleted": int64(id)})
		},
	}
}

func newReportsFailCommand(opts *RootOptions) *cobra.Command {
	var retryAt string

	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Record a failed send and reschedule the report",
		Long: `Record a failed send: the report's failed-send count is incremented and
its report time moves to --retry-at.

Example:
  attribution reports fail 12 --retry-at 5m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseReportID(args[0])
			if err != nil {
				return err
			}

			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			at, err := parseTime(retryAt, s.now, s.now)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --retry-at", err)
			}

			formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			ok, err := s.resolver.UpdateReportForSendFailure(cmd.Context(), id, at)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to update report", err)
			}
			if !ok {
				return reportNotFound(formatter, id)
			}
			return formatter.Success(map[string]any{"rescheduled": int64(id), "report_time": at})
		},
	}

	cmd.Flags().StringVar(&retryAt, "retry-at", "", "new report time (required)")
	_ = cmd.MarkFlagRequired("retry-at")
	return cmd
}

func newReportsAdjustOfflineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adjust-offline",
		Short: "Push overdue reports out by the offline delay",
		Long: `Push reports whose report time has already passed out by a random
delay within the configured offline window, then print the next report
time.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			next, err := s.resolver.AdjustOfflineReportTimes(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to adjust report times", err)
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(map[string]*time.Time{"next": next})
		},
	}
}

func newReportsVerifyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "verify",
		Short:         "Delete sources and reports that no longer decode",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.close()

			counts, err := s.resolver.VerifyReports(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to verify store", err)
			}
			return newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()).Success(counts)
		},
	}
}

func parseReportID(arg string) (attribution.ReportID, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid report id %q", arg))
	}
	return attribution.ReportID(id), nil
}

func reportNotFound(formatter *OutputFormatter, id attribution.ReportID) error {
	msg := fmt.Sprintf("report %d not found", id)
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeNotFound, msg, nil)
	}
	return NewExitError(ExitFailure, msg)
}
