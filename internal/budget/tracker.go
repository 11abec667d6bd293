// Package budget tracks per-source aggregatable budgets and limits
// aggregatable debug reports.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
)

// SourceUpdater persists budget debits.
type SourceUpdater interface {
	UpdateAggregatableBudget(ctx context.Context, id attribution.SourceID, remaining int64, numReports int) error
	UpdateDebugBudget(ctx context.Context, id attribution.SourceID, remaining int64, numReports int) error
}

// Tracker owns the aggregatable attribution budget of each source.
type Tracker struct {
	cfg *config.Config
}

// NewTracker creates a Tracker reading limits from cfg.
func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Initial splits the per-source budget between attribution and debug
// reports. The debug share is requested by the registration.
func (t *Tracker) Initial(src *attribution.Source) (attributionBudget, debugBudget int64, err error) {
	total := t.cfg.Aggregate.BudgetPerSource
	debug := src.AggregatableDebugBudget
	if debug < 0 || debug > total {
		return 0, 0, fmt.Errorf("aggregatable debug budget %d outside [0, %d]", debug, total)
	}
	return total - debug, debug, nil
}

// Check decides whether src can afford contributions. It does not debit.
func (t *Tracker) Check(src *attribution.StoredSource, contributions []attribution.Contribution) attribution.AggregatableResult {
	if int64(src.NumAggregatableAttributionReports) >= t.cfg.Aggregate.MaxReportsPerSource {
		return attribution.AggregatableExcessiveReports
	}
	if attribution.SumValues(contributions) > src.RemainingAggregatableAttributionBudget {
		return attribution.AggregatableInsufficientBudget
	}
	return attribution.AggregatableSuccess
}

// Debit records contributions against src, in memory and in the store.
// Callers run Check first; Debit never drives the budget negative.
func (t *Tracker) Debit(ctx context.Context, rows SourceUpdater, src *attribution.StoredSource, contributions []attribution.Contribution) error {
	sum := attribution.SumValues(contributions)
	if sum > src.RemainingAggregatableAttributionBudget {
		return fmt.Errorf("debit %d exceeds remaining budget %d of source %d", sum, src.RemainingAggregatableAttributionBudget, src.ID)
	}
	remaining := src.RemainingAggregatableAttributionBudget - sum
	num := src.NumAggregatableAttributionReports + 1
	if err := rows.UpdateAggregatableBudget(ctx, src.ID, remaining, num); err != nil {
		return err
	}
	src.RemainingAggregatableAttributionBudget = remaining
	src.NumAggregatableAttributionReports = num
	return nil
}

// ReportTime schedules an aggregatable report. Reports carrying a trigger
// context ID are not delayed.
func ReportTime(triggerTime time.Time, delay time.Duration, triggerContextID string) time.Time {
	if triggerContextID != "" {
		return triggerTime
	}
	return triggerTime.Add(delay)
}
