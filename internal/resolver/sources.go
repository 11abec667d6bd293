package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/ratelimit"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// StoreSource validates src against every registration limit and, if
// allowed, stores it together with any fake reports its randomized
// response produced.
//
// Registration runs in this order:
//   - trigger specs: a single valid spec, else InternalError
//   - privacy bounds: trigger state cardinality and channel capacity
//   - unique destination capacity
//   - destination throttle (global and per reporting site)
//   - source capacity per source origin
//   - reporting origins per (source site, reporting site)
//   - randomized response
//   - source-registration reporting origins
//
// A zero SourceTime is replaced by the current time.
func (r *Resolver) StoreSource(ctx context.Context, src attribution.Source) (attribution.StoreSourceResult, error) {
	now := r.clock.Now()
	if src.SourceTime.IsZero() {
		src.SourceTime = now
	}
	if err := src.Normalize(); err != nil {
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError},
			&Error{Code: ErrCodeInvalidSource, Message: "normalize source", Err: err}
	}

	if _, err := src.TriggerSpecs.Single(); err != nil {
		r.logger.Warn("source rejected", "reason", err, "reporting_origin", src.ReportingOrigin)
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError}, nil
	}
	if err := src.TriggerSpecs.Validate(); err != nil {
		r.logger.Warn("source rejected", "reason", err, "reporting_origin", src.ReportingOrigin)
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError}, nil
	}

	attributionBudget, debugBudget, err := r.tracker.Initial(&src)
	if err != nil {
		r.logger.Warn("source rejected", "reason", err, "reporting_origin", src.ReportingOrigin)
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError}, nil
	}

	epsilon := r.cfg.EventLevel.RandomizedResponseEpsilon
	if src.EventLevelEpsilon != nil {
		epsilon = *src.EventLevelEpsilon
	}
	params, err := r.calc.Compute(src.TriggerSpecs, epsilon)
	if err == nil {
		err = params.Check(r.cfg.EventLevel.MaxInfoGain(src.SourceType), r.cfg.EventLevel.MaxTriggerStateCardinality)
	}
	switch {
	case errors.Is(err, noise.ErrExceedsTriggerStateCardinality):
		return r.rejectSource(src, attribution.StoreSourceExceedsMaxTriggerStateCardinality, nil), nil
	case errors.Is(err, noise.ErrExceedsChannelCapacity):
		return r.rejectSource(src, attribution.StoreSourceExceedsMaxChannelCapacity, nil), nil
	case err != nil:
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError}, err
	}

	stored := &attribution.StoredSource{
		Source:                                 src,
		ExpiryTime:                             src.SourceTime.Add(src.Expiry.Std()),
		AggregatableReportWindowTime:           src.SourceTime.Add(src.AggregatableReportWindow.Std()),
		ActiveState:                            attribution.ActiveStateActive,
		RandomizedResponseRate:                 params.Rate,
		RemainingAggregatableAttributionBudget: attributionBudget,
		RemainingAggregatableDebugBudget:       debugBudget,
		DedupKeys:                              []uint64{},
		AggregatableDedupKeys:                  []uint64{},
	}

	var result attribution.StoreSourceResult
	err = r.store.Update(ctx, func(tx *store.Tx) error {
		if err := r.maintain(ctx, tx, now); err != nil {
			return err
		}
		var err error
		result, err = r.storeSource(ctx, tx, stored, params, now)
		return err
	})
	if err != nil {
		r.logger.Error("store source failed", "error", err)
		return attribution.StoreSourceResult{Status: attribution.StoreSourceInternalError}, err
	}
	r.logger.Info("source processed",
		"status", result.Status,
		"source_id", result.SourceID,
		"reporting_origin", src.ReportingOrigin,
		"noised", result.IsNoised)
	return result, nil
}

func (r *Resolver) rejectSource(src attribution.Source, status attribution.StoreSourceStatus, limit *int64) attribution.StoreSourceResult {
	r.logger.Info("source rejected", "status", status, "reporting_origin", src.ReportingOrigin)
	return attribution.StoreSourceResult{Status: status, Limit: limit}
}

func (r *Resolver) storeSource(ctx context.Context, tx *store.Tx, src *attribution.StoredSource, params noise.Params, now time.Time) (attribution.StoreSourceResult, error) {
	reject := func(status attribution.StoreSourceStatus, limit int64) attribution.StoreSourceResult {
		return attribution.StoreSourceResult{Status: status, Limit: attribution.Int64(limit)}
	}

	d, err := r.limiter.DestinationCapacity(ctx, tx, src, now)
	if err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if !d.Allowed {
		return reject(attribution.StoreSourceInsufficientUniqueDestinationCapacity, d.Limit), nil
	}

	throttle, err := r.limiter.DestinationThrottle(ctx, tx, src, now)
	if err != nil {
		return attribution.StoreSourceResult{}, err
	}
	switch throttle {
	case ratelimit.ThrottleReportingLimitReached:
		return reject(attribution.StoreSourceDestinationReportingLimitReached, r.cfg.DestinationRateLimit.MaxPerReportingSite), nil
	case ratelimit.ThrottleGlobalLimitReached:
		return reject(attribution.StoreSourceDestinationGlobalLimitReached, r.cfg.DestinationRateLimit.MaxTotal), nil
	case ratelimit.ThrottleBothLimitsReached:
		return reject(attribution.StoreSourceDestinationBothLimitsReached, r.cfg.DestinationRateLimit.MaxPerReportingSite), nil
	}

	if d, err = r.limiter.SourceCapacity(ctx, tx, src, now); err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if !d.Allowed {
		return reject(attribution.StoreSourceInsufficientSourceCapacity, d.Limit), nil
	}

	if d, err = r.limiter.ReportingOriginsPerSite(ctx, tx, src, now); err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if !d.Allowed {
		return reject(attribution.StoreSourceReportingOriginsPerSiteLimitReached, d.Limit), nil
	}

	response, err := r.noise.Respond(src.TriggerSpecs, params)
	if err != nil {
		return attribution.StoreSourceResult{}, err
	}
	src.AttributionLogic = response.AttributionLogic()

	if d, err = r.limiter.SourceReportingOrigins(ctx, tx, src, now); err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if !d.Allowed {
		res := reject(attribution.StoreSourceExcessiveReportingOrigins, d.Limit)
		res.IsNoised = response.Noised
		return res, nil
	}

	if src.AttributionLogic == attribution.AttributionLogicFalsely {
		src.ActiveState = attribution.ActiveStateReachedEventLevelAttributionLimit
		src.NumAttributions = len(response.FakeReports)
	}

	if _, err := tx.InsertSource(ctx, src); err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if err := r.limiter.RecordSource(ctx, tx, src); err != nil {
		return attribution.StoreSourceResult{}, err
	}

	result := attribution.StoreSourceResult{
		Status:   attribution.StoreSourceSuccess,
		SourceID: src.ID,
		IsNoised: response.Noised,
	}
	if !response.Noised {
		return result, nil
	}
	result.Status = attribution.StoreSourceSuccessNoised

	// A noised source spends its event-level attribution up front.
	for _, dest := range src.Destinations {
		if err := r.limiter.RecordAttribution(ctx, tx, store.ScopeEventAttribution, src, dest.Origin(), src.SourceTime, 0); err != nil {
			return attribution.StoreSourceResult{}, err
		}
	}
	if src.AttributionLogic != attribution.AttributionLogicFalsely {
		return result, nil
	}

	siblings, err := tx.ActiveSourcesSharingDestination(ctx, src.ReportingOrigin, src.Destinations, src.ID, now)
	if err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if err := tx.DeactivateSources(ctx, siblings); err != nil {
		return attribution.StoreSourceResult{}, err
	}
	if len(siblings) > 0 {
		r.logger.Debug("sources deactivated", "source_ids", siblings, "by", src.ID)
	}

	spec, _ := src.TriggerSpecs.Single()
	for _, fake := range response.FakeReports {
		reportTime := fake.ReportTime(src.SourceTime, spec.Windows)
		report := &attribution.Report{
			Type:              attribution.ReportTypeEventLevel,
			ExternalID:        r.ids.Generate(),
			ContextOrigin:     src.SourceOrigin,
			ReportingOrigin:   src.ReportingOrigin,
			TriggerTime:       reportTime.Add(-time.Millisecond),
			ReportTime:        reportTime,
			InitialReportTime: reportTime,
			Source:            src,
			EventLevel:        &attribution.EventLevelData{TriggerData: fake.TriggerData},
		}
		if _, err := tx.InsertReport(ctx, report); err != nil {
			return attribution.StoreSourceResult{}, err
		}
		if result.MinFakeReportTime == nil || reportTime.Before(*result.MinFakeReportTime) {
			t := reportTime
			result.MinFakeReportTime = &t
		}
	}
	return result, nil
}

// GetActiveSources returns unexpired sources that are not inactive, oldest
// first. A negative limit returns all of them.
func (r *Resolver) GetActiveSources(ctx context.Context, limit int) ([]*attribution.StoredSource, error) {
	var sources []*attribution.StoredSource
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var corrupt []*store.CorruptionError
		var err error
		sources, corrupt, err = tx.ActiveSources(ctx, r.clock.Now(), limit)
		if err != nil {
			return err
		}
		return r.purgeCorrupt(ctx, tx, corrupt)
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// DeleteExpiredSources removes expired sources that no report references
// and returns how many were deleted.
func (r *Resolver) DeleteExpiredSources(ctx context.Context) (int, error) {
	var n int
	err := r.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = r.deleteExpiredSources(ctx, tx, r.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Resolver) deleteExpiredSources(ctx context.Context, tx *store.Tx, now time.Time) (int, error) {
	ids, err := tx.ExpiredSourcesWithoutReports(ctx, now, -1)
	if err != nil {
		return 0, err
	}
	n, err := tx.DeleteSources(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("expired sources deleted", "count", n)
	}
	return n, nil
}

// maintain runs the expired-source sweep and rate-limit pruning when their
// configured frequency has elapsed.
func (r *Resolver) maintain(ctx context.Context, tx *store.Tx, now time.Time) error {
	if r.lastSourceSweep.IsZero() || now.Sub(r.lastSourceSweep) >= r.cfg.DeleteExpiredSourcesFrequency.Std() {
		if _, err := r.deleteExpiredSources(ctx, tx, now); err != nil {
			return err
		}
		r.lastSourceSweep = now
	}
	if r.lastRatePrune.IsZero() || now.Sub(r.lastRatePrune) >= r.cfg.DeleteExpiredRateLimitsFrequency.Std() {
		n, err := r.limiter.Prune(ctx, tx, now)
		if err != nil {
			return err
		}
		m, err := tx.DeleteExpiredDebugBudgets(ctx, now.Add(-r.cfg.AggregatableDebug.Window.Std()))
		if err != nil {
			return err
		}
		if n+m > 0 {
			r.logger.Debug("rate limits pruned", "rate_limits", n, "debug_budgets", m)
		}
		r.lastRatePrune = now
	}
	return nil
}
