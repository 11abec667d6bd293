package resolver

import (
	"context"
	"math"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// OriginMatcher selects data by reporting origin. A nil matcher matches
// every origin.
type OriginMatcher func(attribution.Origin) bool

func (m OriginMatcher) match(o attribution.Origin) bool {
	return m == nil || m(o)
}

// EndOfTime is later than any representable report or source time. Pass
// it as the end of a ClearData range to clear everything after begin.
var EndOfTime = time.UnixMicro(math.MaxInt64).UTC()

// ClearData deletes data intersecting [begin, end] whose reporting origin
// matches. Sources registered in range go with all their reports; reports
// triggered in range take their source and its other reports. Rate-limit
// and debug-budget rows in range are deleted only when deleteRateLimitData
// is set. A zero begin means the beginning of time.
func (r *Resolver) ClearData(ctx context.Context, begin, end time.Time, matcher OriginMatcher, deleteRateLimitData bool) (attribution.DeletionCounts, error) {
	var counts attribution.DeletionCounts
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = r.clearData(ctx, tx, begin, end, matcher, deleteRateLimitData)
		return err
	})
	if err != nil {
		return attribution.DeletionCounts{}, err
	}
	r.logger.Info("data cleared",
		"sources", counts.Sources,
		"reports", counts.Reports,
		"rate_limits", deleteRateLimitData)
	return counts, nil
}

// ClearAllDataAllTime deletes every source and report, and every rate-limit
// and debug-budget row when deleteRateLimitData is set.
func (r *Resolver) ClearAllDataAllTime(ctx context.Context, deleteRateLimitData bool) (attribution.DeletionCounts, error) {
	return r.ClearData(ctx, time.Time{}, EndOfTime, nil, deleteRateLimitData)
}

func (r *Resolver) clearData(ctx context.Context, tx *store.Tx, begin, end time.Time, matcher OriginMatcher, deleteRateLimitData bool) (attribution.DeletionCounts, error) {
	var counts attribution.DeletionCounts

	sourceRefs, err := tx.SourcesRegisteredBetween(ctx, begin, end)
	if err != nil {
		return counts, err
	}
	seen := make(map[attribution.SourceID]bool)
	var sources []attribution.SourceID
	addSource := func(id attribution.SourceID) {
		if !seen[id] {
			seen[id] = true
			sources = append(sources, id)
		}
	}
	for _, ref := range sourceRefs {
		if matcher.match(ref.ReportingOrigin) {
			addSource(ref.ID)
		}
	}

	reportRefs, err := tx.ReportsTriggeredBetween(ctx, begin, end)
	if err != nil {
		return counts, err
	}
	var nullReports []attribution.ReportID
	for _, ref := range reportRefs {
		if !matcher.match(ref.ReportingOrigin) {
			continue
		}
		if ref.SourceID.Valid {
			addSource(attribution.SourceID(ref.SourceID.Int64))
		} else {
			nullReports = append(nullReports, ref.ID)
		}
	}

	n, err := tx.DeleteReportsForSources(ctx, sources)
	if err != nil {
		return counts, err
	}
	m, err := tx.DeleteReports(ctx, nullReports)
	if err != nil {
		return counts, err
	}
	counts.Reports = n + m
	if counts.Sources, err = tx.DeleteSources(ctx, sources); err != nil {
		return counts, err
	}

	if !deleteRateLimitData {
		return counts, nil
	}

	rateRefs, err := tx.RateLimitsBetween(ctx, begin, end)
	if err != nil {
		return counts, err
	}
	var rateIDs []int64
	for _, ref := range rateRefs {
		if matcher.match(ref.ReportingOrigin) {
			rateIDs = append(rateIDs, ref.ID)
		}
	}
	if _, err := tx.DeleteRateLimits(ctx, rateIDs); err != nil {
		return counts, err
	}

	budgetRefs, err := tx.DebugBudgetsBetween(ctx, begin, end)
	if err != nil {
		return counts, err
	}
	var budgetIDs []int64
	for _, ref := range budgetRefs {
		if matcher.match(ref.ReportingOrigin) {
			budgetIDs = append(budgetIDs, ref.ID)
		}
	}
	if _, err := tx.DeleteDebugBudgets(ctx, budgetIDs); err != nil {
		return counts, err
	}
	return counts, nil
}

// GetAllDataKeys returns every reporting origin that still has data.
func (r *Resolver) GetAllDataKeys(ctx context.Context) ([]attribution.Origin, error) {
	var keys []attribution.Origin
	err := r.store.View(ctx, func(tx *store.Tx) error {
		var err error
		keys, err = tx.DataKeys(ctx)
		return err
	})
	return keys, err
}
