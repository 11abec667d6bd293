package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// GetAttributionReports returns reports due at or before maxReportTime,
// ordered by (report time, report ID). A non-negative limit truncates the
// list, which is then shuffled so the page does not reveal storage order.
func (r *Resolver) GetAttributionReports(ctx context.Context, maxReportTime time.Time, limit int) ([]*attribution.Report, error) {
	var reports []*attribution.Report
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var corrupt []*store.CorruptionError
		var err error
		reports, corrupt, err = tx.ReportsDue(ctx, maxReportTime, limit)
		if err != nil {
			return err
		}
		return r.purgeCorrupt(ctx, tx, corrupt)
	})
	if err != nil {
		return nil, err
	}
	if limit >= 0 {
		r.delegate.ShuffleReports(reports)
	}
	return reports, nil
}

// GetNextReportTime returns the earliest report time strictly after after,
// or nil when no report is pending.
func (r *Resolver) GetNextReportTime(ctx context.Context, after time.Time) (*time.Time, error) {
	var next *time.Time
	err := r.store.View(ctx, func(tx *store.Tx) error {
		var err error
		next, err = tx.NextReportTime(ctx, after)
		return err
	})
	return next, err
}

// GetReport returns one report. A corrupt report is deleted and reported
// as not found.
func (r *Resolver) GetReport(ctx context.Context, id attribution.ReportID) (*attribution.Report, error) {
	var report *attribution.Report
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		report, err = tx.GetReport(ctx, id)
		if ce, ok := store.AsCorruptionError(err); ok {
			if err := r.purgeCorrupt(ctx, tx, []*store.CorruptionError{ce}); err != nil {
				return err
			}
			return store.ErrNotFound
		}
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, &Error{Code: ErrCodeNotFound, Message: "report not found", Err: err}
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// DeleteReport removes a report, typically after it was sent. Its dedup
// keys and rate-limit rows stay behind.
func (r *Resolver) DeleteReport(ctx context.Context, id attribution.ReportID) (bool, error) {
	var deleted bool
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		deleted, err = tx.DeleteReport(ctx, id)
		return err
	})
	return deleted, err
}

// UpdateReportForSendFailure reschedules a report and counts the failure.
func (r *Resolver) UpdateReportForSendFailure(ctx context.Context, id attribution.ReportID, newReportTime time.Time) (bool, error) {
	var updated bool
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		updated, err = tx.UpdateReportForSendFailure(ctx, id, newReportTime)
		return err
	})
	return updated, err
}

// AdjustOfflineReportTimes moves every overdue report to now plus a random
// offline delay and returns the earliest pending report time. Without a
// configured offline delay nothing is moved.
func (r *Resolver) AdjustOfflineReportTimes(ctx context.Context) (*time.Time, error) {
	now := r.clock.Now()
	var next *time.Time
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		if delay := r.cfg.OfflineReportDelay; delay != nil {
			ids, err := tx.OverdueReportIDs(ctx, now)
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := tx.SetReportTime(ctx, id, now.Add(r.delegate.OfflineReportDelay(*delay))); err != nil {
					return err
				}
			}
			if len(ids) > 0 {
				r.logger.Info("offline report times adjusted", "count", len(ids))
			}
		}
		var err error
		next, err = tx.NextReportTime(ctx, time.Time{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// VerifyReports decodes every stored source and report and deletes those
// that fail.
func (r *Resolver) VerifyReports(ctx context.Context) (attribution.DeletionCounts, error) {
	var counts attribution.DeletionCounts
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		_, corruptSources, err := tx.AllSources(ctx)
		if err != nil {
			return err
		}
		_, corruptReports, err := tx.AllReports(ctx)
		if err != nil {
			return err
		}

		sources := make([]attribution.SourceID, 0, len(corruptSources))
		for _, c := range corruptSources {
			sources = append(sources, attribution.SourceID(c.ID))
		}
		reports := make([]attribution.ReportID, 0, len(corruptReports))
		for _, c := range corruptReports {
			reports = append(reports, attribution.ReportID(c.ID))
		}

		n, err := tx.DeleteReports(ctx, reports)
		if err != nil {
			return err
		}
		m, err := tx.DeleteReportsForSources(ctx, sources)
		if err != nil {
			return err
		}
		counts.Reports = n + m
		counts.Sources, err = tx.DeleteSources(ctx, sources)
		return err
	})
	if err != nil {
		return attribution.DeletionCounts{}, err
	}
	if counts.Sources+counts.Reports > 0 {
		r.logger.Warn("corrupt rows deleted", "sources", counts.Sources, "reports", counts.Reports)
	}
	return counts, nil
}
