package budget

import (
	"context"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
)

// DebugRows is the subset of store.Tx the debug limiter uses.
type DebugRows interface {
	SourceUpdater
	SumDebugBudget(ctx context.Context, contextSite, reportingSite attribution.Site, since time.Time) (int64, error)
	InsertDebugBudget(ctx context.Context, contextSite attribution.Site, reportingOrigin attribution.Origin, at time.Time, consumed int64) error
}

// DebugLimiter enforces the aggregatable debug budgets: per source, per
// context site, and per context and reporting site.
type DebugLimiter struct {
	cfg *config.Config
}

// NewDebugLimiter creates a DebugLimiter reading limits from cfg.
func NewDebugLimiter(cfg *config.Config) *DebugLimiter {
	return &DebugLimiter{cfg: cfg}
}

// Process checks a debug report and, if allowed, records its budget. src
// is the source the report is charged to, or nil. remaining is the budget
// the caller believes is left; with a source it must agree with the
// stored value.
func (d *DebugLimiter) Process(ctx context.Context, rows DebugRows, report *attribution.AggregatableDebugReport, remaining *int64, src *attribution.StoredSource, now time.Time) (attribution.DebugReportStatus, error) {
	if len(report.Contributions) == 0 {
		return attribution.DebugReportNoDebugData, nil
	}

	budget := d.cfg.Aggregate.BudgetPerSource
	switch {
	case src != nil:
		if remaining != nil && *remaining != src.RemainingAggregatableDebugBudget {
			return attribution.DebugReportInternalError, nil
		}
		budget = src.RemainingAggregatableDebugBudget
	case remaining != nil:
		budget = *remaining
	}

	sum := attribution.SumValues(report.Contributions)
	if sum > budget {
		return attribution.DebugReportInsufficientBudget, nil
	}
	if src != nil && int64(src.NumAggregatableDebugReports) >= d.cfg.AggregatableDebug.MaxReportsPerSource {
		return attribution.DebugReportExcessiveReports, nil
	}

	since := now.Add(-d.cfg.AggregatableDebug.Window.Std())
	global, err := rows.SumDebugBudget(ctx, report.ContextSite, "", since)
	if err != nil {
		return attribution.DebugReportInternalError, err
	}
	perSite, err := rows.SumDebugBudget(ctx, report.ContextSite, report.ReportingOrigin.Site(), since)
	if err != nil {
		return attribution.DebugReportInternalError, err
	}
	globalExceeded := global+sum > d.cfg.AggregatableDebug.MaxBudgetPerContextSite
	siteExceeded := perSite+sum > d.cfg.AggregatableDebug.MaxBudgetPerContextReportingSite
	switch {
	case globalExceeded && siteExceeded:
		return attribution.DebugReportBothRateLimitsReached, nil
	case globalExceeded:
		return attribution.DebugReportGlobalRateLimitReached, nil
	case siteExceeded:
		return attribution.DebugReportReportingSiteRateLimitReached, nil
	}

	if err := rows.InsertDebugBudget(ctx, report.ContextSite, report.ReportingOrigin, now, sum); err != nil {
		return attribution.DebugReportInternalError, err
	}
	if src != nil {
		left := src.RemainingAggregatableDebugBudget - sum
		num := src.NumAggregatableDebugReports + 1
		if err := rows.UpdateDebugBudget(ctx, src.ID, left, num); err != nil {
			return attribution.DebugReportInternalError, err
		}
		src.RemainingAggregatableDebugBudget = left
		src.NumAggregatableDebugReports = num
	}
	return attribution.DebugReportSuccess, nil
}
