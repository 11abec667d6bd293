package resolver

import (
	"context"
	"errors"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// ProcessAggregatableDebugReport checks report against the debug budgets
// and records its contributions when allowed. sourceID charges the report
// to a stored source; remaining is the budget the caller believes is
// left. Any outcome other than Success clears the report's contributions.
func (r *Resolver) ProcessAggregatableDebugReport(ctx context.Context, report attribution.AggregatableDebugReport, remaining *int64, sourceID *attribution.SourceID) (attribution.DebugReportResult, error) {
	if len(report.Contributions) == 0 {
		return debugResult(report, attribution.DebugReportNoDebugData), nil
	}

	now := r.clock.Now()
	var status attribution.DebugReportStatus
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var src *attribution.StoredSource
		if sourceID != nil {
			var err error
			src, err = tx.GetSource(ctx, *sourceID)
			if errors.Is(err, store.ErrNotFound) || store.IsCorruptionError(err) {
				status = attribution.DebugReportInternalError
				return nil
			}
			if err != nil {
				return err
			}
		}
		var err error
		status, err = r.debug.Process(ctx, tx, &report, remaining, src, now)
		return err
	})
	if err != nil {
		r.logger.Error("debug report failed", "error", err)
		return debugResult(report, attribution.DebugReportInternalError), err
	}
	r.logger.Debug("debug report processed", "status", status, "reporting_origin", report.ReportingOrigin)
	return debugResult(report, status), nil
}

func debugResult(report attribution.AggregatableDebugReport, status attribution.DebugReportStatus) attribution.DebugReportResult {
	if status != attribution.DebugReportSuccess {
		report.Contributions = []attribution.Contribution{}
	}
	return attribution.DebugReportResult{Report: report, Status: status}
}
