package resolver

import (
	"context"
	"slices"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/budget"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// MaybeCreateAndStoreReport attributes trigger to the best matching
// source and stores the resulting event-level and aggregatable reports.
// Null aggregatable reports are stored whether or not a source matched.
//
// The two pipelines are independent: each status in the result explains
// its own outcome. On an infrastructure failure both statuses are
// InternalError and nothing is stored.
func (r *Resolver) MaybeCreateAndStoreReport(ctx context.Context, trigger attribution.Trigger) (attribution.CreateReportResult, error) {
	now := r.clock.Now()
	result := attribution.CreateReportResult{TriggerTime: now}

	if trigger.ReportingOrigin == "" || trigger.DestinationOrigin == "" {
		result.EventLevelStatus = attribution.EventLevelInternalError
		result.AggregatableStatus = attribution.AggregatableInternalError
		return result, &Error{Code: ErrCodeInvalidTrigger, Message: "reporting and destination origins are required"}
	}
	if len(trigger.EventTriggers) == 0 {
		result.EventLevelStatus = attribution.EventLevelNotRegistered
	}
	if !trigger.HasAggregatableData() {
		result.AggregatableStatus = attribution.AggregatableNotRegistered
	}
	if result.EventLevelStatus != "" && result.AggregatableStatus != "" {
		return result, nil
	}

	err := r.store.Update(ctx, func(tx *store.Tx) error {
		return r.attribute(ctx, tx, &trigger, now, &result)
	})
	if err != nil {
		r.logger.Error("trigger failed", "error", err, "reporting_origin", trigger.ReportingOrigin)
		return attribution.CreateReportResult{
			TriggerTime:        now,
			EventLevelStatus:   attribution.EventLevelInternalError,
			AggregatableStatus: attribution.AggregatableInternalError,
		}, err
	}

	r.logger.Info("trigger processed",
		"event_level_status", result.EventLevelStatus,
		"aggregatable_status", result.AggregatableStatus,
		"source_id", sourceIDOf(result.Source),
		"reporting_origin", trigger.ReportingOrigin)
	return result, nil
}

func (r *Resolver) attribute(ctx context.Context, tx *store.Tx, t *attribution.Trigger, now time.Time, result *attribution.CreateReportResult) error {
	candidates, corrupt, err := tx.MatchingSources(ctx, t.ReportingOrigin, t.DestinationSite(), now)
	if err != nil {
		return err
	}
	if err := r.purgeCorrupt(ctx, tx, corrupt); err != nil {
		return err
	}

	if len(candidates) == 0 {
		setUnset(result, attribution.EventLevelNoMatchingImpressions, attribution.AggregatableNoMatchingImpressions)
		return r.storeNullReports(ctx, tx, t, now, nil, result)
	}

	src := candidates[0]
	if !t.Filters.Matches(src.SourceType, src.FilterData, src.SourceTime, now) {
		setUnset(result, attribution.EventLevelNoMatchingSourceFilterData, attribution.AggregatableNoMatchingSourceFilterData)
		return r.storeNullReports(ctx, tx, t, now, nil, result)
	}
	result.Source = src

	if result.EventLevelStatus == "" {
		status, err := r.attributeEventLevel(ctx, tx, src, t, now, result)
		if err != nil {
			return err
		}
		result.EventLevelStatus = status
	}
	if result.AggregatableStatus == "" {
		status, err := r.attributeAggregatable(ctx, tx, src, t, now, result)
		if err != nil {
			return err
		}
		result.AggregatableStatus = status
	}

	if producedAnything(result) {
		siblings := make([]attribution.SourceID, 0, len(candidates)-1)
		for _, c := range candidates[1:] {
			siblings = append(siblings, c.ID)
		}
		if err := tx.DeactivateSources(ctx, siblings); err != nil {
			return err
		}
		if len(siblings) > 0 {
			r.logger.Debug("sources deactivated", "source_ids", siblings, "by", src.ID)
		}
	}

	var attributed *time.Time
	if result.AggregatableStatus == attribution.AggregatableSuccess {
		attributed = &src.SourceTime
	}
	return r.storeNullReports(ctx, tx, t, now, attributed, result)
}

func sourceIDOf(src *attribution.StoredSource) attribution.SourceID {
	if src == nil {
		return 0
	}
	return src.ID
}

func setUnset(result *attribution.CreateReportResult, event attribution.EventLevelResult, agg attribution.AggregatableResult) {
	if result.EventLevelStatus == "" {
		result.EventLevelStatus = event
	}
	if result.AggregatableStatus == "" {
		result.AggregatableStatus = agg
	}
}

func producedAnything(result *attribution.CreateReportResult) bool {
	switch result.EventLevelStatus {
	case attribution.EventLevelSuccess,
		attribution.EventLevelSuccessDroppedLowerPriority,
		attribution.EventLevelNeverAttributedSource,
		attribution.EventLevelFalselyAttributedSource:
		return true
	}
	return result.AggregatableStatus == attribution.AggregatableSuccess
}

func (r *Resolver) attributeEventLevel(ctx context.Context, tx *store.Tx, src *attribution.StoredSource, t *attribution.Trigger, now time.Time, result *attribution.CreateReportResult) (attribution.EventLevelResult, error) {
	idx := slices.IndexFunc(t.EventTriggers, func(e attribution.EventTriggerData) bool {
		return e.Filters.Matches(src.SourceType, src.FilterData, src.SourceTime, now)
	})
	if idx < 0 {
		return attribution.EventLevelNoMatchingConfigurations, nil
	}
	ev := t.EventTriggers[idx]

	value, spec, ok := src.TriggerSpecs.Find(ev.Data)
	if !ok {
		return attribution.EventLevelNoMatchingTriggerData, nil
	}
	if ev.DedupKey != nil && slices.Contains(src.DedupKeys, *ev.DedupKey) {
		return attribution.EventLevelDeduplicated, nil
	}
	switch spec.Windows.Status(now.Sub(src.SourceTime)) {
	case attribution.WindowNotStarted:
		return attribution.EventLevelReportWindowNotStarted, nil
	case attribution.WindowPassed:
		return attribution.EventLevelReportWindowPassed, nil
	}

	destination := t.DestinationSite()
	n, err := tx.CountReportsForDestination(ctx, attribution.ReportTypeEventLevel, destination)
	if err != nil {
		return "", err
	}
	if n >= r.cfg.EventLevel.MaxReportsPerDestination {
		result.Limits.MaxEventLevelReportsPerDestination = attribution.Int64(r.cfg.EventLevel.MaxReportsPerDestination)
		return attribution.EventLevelNoCapacityForConversionDestination, nil
	}

	d, err := r.limiter.AttributionReportingOrigins(ctx, tx, src, destination, now)
	if err != nil {
		return "", err
	}
	if !d.Allowed {
		result.Limits.RateLimitsMaxReportingOrigins = attribution.Int64(d.Limit)
		return attribution.EventLevelExcessiveReportingOrigins, nil
	}
	if d, err = r.limiter.Attributions(ctx, tx, store.ScopeEventAttribution, src, destination, now); err != nil {
		return "", err
	}
	if !d.Allowed {
		result.Limits.RateLimitsMax = attribution.Int64(d.Limit)
		return attribution.EventLevelExcessiveAttributions, nil
	}

	switch src.AttributionLogic {
	case attribution.AttributionLogicNever:
		return attribution.EventLevelNeverAttributedSource, r.recordDedupKey(ctx, tx, src, attribution.ReportTypeEventLevel, ev.DedupKey)
	case attribution.AttributionLogicFalsely:
		return attribution.EventLevelFalselyAttributedSource, r.recordDedupKey(ctx, tx, src, attribution.ReportTypeEventLevel, ev.DedupKey)
	}

	reportTime := spec.Windows.ReportTime(src.SourceTime, now)
	report := &attribution.Report{
		Type:              attribution.ReportTypeEventLevel,
		ExternalID:        r.ids.Generate(),
		ContextOrigin:     t.DestinationOrigin,
		ReportingOrigin:   t.ReportingOrigin,
		TriggerTime:       now,
		TriggerDebugKey:   t.DebugKey,
		ReportTime:        reportTime,
		InitialReportTime: reportTime,
		Source:            src,
		EventLevel:        &attribution.EventLevelData{TriggerData: value, Priority: ev.Priority},
	}

	status := attribution.EventLevelSuccess
	maxReports := src.TriggerSpecs.MaxEventLevelReports
	if src.NumAttributions >= maxReports {
		lowest, err := tx.LowestPriorityEventLevelReport(ctx, src.ID, reportTime)
		if err != nil {
			return "", err
		}
		if lowest == nil {
			// Every stored report is in an earlier window.
			if err := tx.SetActiveState(ctx, src.ID, attribution.ActiveStateReachedEventLevelAttributionLimit); err != nil {
				return "", err
			}
			src.ActiveState = attribution.ActiveStateReachedEventLevelAttributionLimit
			result.DroppedEventLevelReport = report
			return attribution.EventLevelExcessiveReports, nil
		}
		if lowest.EventLevel.Priority >= ev.Priority {
			result.DroppedEventLevelReport = report
			return attribution.EventLevelPriorityTooLow, nil
		}
		if _, err := tx.DeleteReport(ctx, lowest.ID); err != nil {
			return "", err
		}
		if err := tx.DeleteRateLimitForReport(ctx, lowest.ID); err != nil {
			return "", err
		}
		result.ReplacedEventLevelReport = lowest
		status = attribution.EventLevelSuccessDroppedLowerPriority
	} else {
		src.NumAttributions++
	}
	if src.NumAttributions >= maxReports {
		src.ActiveState = attribution.ActiveStateReachedEventLevelAttributionLimit
	}
	if err := tx.UpdateEventLevelAttribution(ctx, src.ID, src.NumAttributions, src.ActiveState); err != nil {
		return "", err
	}

	id, err := tx.InsertReport(ctx, report)
	if err != nil {
		return "", err
	}
	if err := r.limiter.RecordAttribution(ctx, tx, store.ScopeEventAttribution, src, t.DestinationOrigin, now, id); err != nil {
		return "", err
	}
	if err := r.recordDedupKey(ctx, tx, src, attribution.ReportTypeEventLevel, ev.DedupKey); err != nil {
		return "", err
	}
	result.NewEventLevelReport = report
	return status, nil
}

func (r *Resolver) attributeAggregatable(ctx context.Context, tx *store.Tx, src *attribution.StoredSource, t *attribution.Trigger, now time.Time, result *attribution.CreateReportResult) (attribution.AggregatableResult, error) {
	if !now.Before(src.AggregatableReportWindowTime) {
		return attribution.AggregatableReportWindowPassed, nil
	}

	var dedupKey *uint64
	for _, k := range t.AggregatableDedupKeys {
		if k.Filters.Matches(src.SourceType, src.FilterData, src.SourceTime, now) {
			dedupKey = k.DedupKey
			break
		}
	}
	if dedupKey != nil && slices.Contains(src.AggregatableDedupKeys, *dedupKey) {
		return attribution.AggregatableDeduplicated, nil
	}

	contributions := attribution.BuildContributions(src, t, now)
	if len(contributions) == 0 {
		return attribution.AggregatableNoHistograms, nil
	}

	destination := t.DestinationSite()
	n, err := tx.CountReportsForDestination(ctx, attribution.ReportTypeAggregatable, destination)
	if err != nil {
		return "", err
	}
	if n >= r.cfg.Aggregate.MaxReportsPerDestination {
		result.Limits.MaxAggregatableReportsPerDestination = attribution.Int64(r.cfg.Aggregate.MaxReportsPerDestination)
		return attribution.AggregatableNoCapacityForConversionDestination, nil
	}

	d, err := r.limiter.AttributionReportingOrigins(ctx, tx, src, destination, now)
	if err != nil {
		return "", err
	}
	if !d.Allowed {
		result.Limits.RateLimitsMaxReportingOrigins = attribution.Int64(d.Limit)
		return attribution.AggregatableExcessiveReportingOrigins, nil
	}
	if d, err = r.limiter.Attributions(ctx, tx, store.ScopeAggregatableAttribution, src, destination, now); err != nil {
		return "", err
	}
	if !d.Allowed {
		result.Limits.RateLimitsMax = attribution.Int64(d.Limit)
		return attribution.AggregatableExcessiveAttributions, nil
	}

	switch status := r.tracker.Check(src, contributions); status {
	case attribution.AggregatableExcessiveReports:
		result.Limits.MaxAggregatableReportsPerSource = attribution.Int64(r.cfg.Aggregate.MaxReportsPerSource)
		return status, nil
	case attribution.AggregatableInsufficientBudget:
		result.Limits.AggregatableBudgetPerSource = attribution.Int64(r.cfg.Aggregate.BudgetPerSource)
		return status, nil
	}
	if err := r.tracker.Debit(ctx, tx, src, contributions); err != nil {
		return "", err
	}

	reportTime := budget.ReportTime(now, r.delegate.AggregatableReportDelay(), t.TriggerContextID)
	report := &attribution.Report{
		Type:              attribution.ReportTypeAggregatable,
		ExternalID:        r.ids.Generate(),
		ContextOrigin:     t.DestinationOrigin,
		ReportingOrigin:   t.ReportingOrigin,
		TriggerTime:       now,
		TriggerDebugKey:   t.DebugKey,
		ReportTime:        reportTime,
		InitialReportTime: reportTime,
		Source:            src,
		Aggregatable: &attribution.AggregatableData{
			Contributions:                contributions,
			SourceRegistrationTimeConfig: t.RegistrationTimeConfig(),
			TriggerContextID:             t.TriggerContextID,
			AggregationCoordinator:       t.AggregationCoordinator,
		},
	}
	if _, err := tx.InsertReport(ctx, report); err != nil {
		return "", err
	}
	if err := r.limiter.RecordAttribution(ctx, tx, store.ScopeAggregatableAttribution, src, t.DestinationOrigin, now, 0); err != nil {
		return "", err
	}
	if err := r.recordDedupKey(ctx, tx, src, attribution.ReportTypeAggregatable, dedupKey); err != nil {
		return "", err
	}
	result.NewAggregatableReport = report
	return attribution.AggregatableSuccess, nil
}

func (r *Resolver) recordDedupKey(ctx context.Context, tx *store.Tx, src *attribution.StoredSource, typ attribution.ReportType, key *uint64) error {
	if key == nil {
		return nil
	}
	if err := tx.InsertDedupKey(ctx, src.ID, typ, *key); err != nil {
		return err
	}
	if typ == attribution.ReportTypeAggregatable {
		src.AggregatableDedupKeys = append(src.AggregatableDedupKeys, *key)
	} else {
		src.DedupKeys = append(src.DedupKeys, *key)
	}
	return nil
}

// sameUTCDay reports whether a and b round down to the same whole day
// since the Unix epoch.
func sameUTCDay(a, b time.Time) bool {
	return a.UTC().Truncate(24*time.Hour).Equal(b.UTC().Truncate(24 * time.Hour))
}

// storeNullReports emits null aggregatable reports for a trigger with
// aggregatable data. attributed is the source time of the real report, if
// one was stored.
//
// With source registration time included, each lookback day up to the
// maximum source expiry is sampled, skipping the attributed source's day.
// With it excluded, a single null report is sampled only when no real
// report exists. A trigger context ID forces that single report.
func (r *Resolver) storeNullReports(ctx context.Context, tx *store.Tx, t *attribution.Trigger, now time.Time, attributed *time.Time, result *attribution.CreateReportResult) error {
	if !t.HasAggregatableData() {
		return nil
	}

	var days []int
	timeConfig := t.RegistrationTimeConfig()
	switch {
	case t.TriggerContextID != "":
		if attributed == nil {
			days = append(days, 0)
		}
	case timeConfig == attribution.SourceRegistrationTimeInclude:
		rate := r.cfg.Aggregate.NullReportsRateIncludeSourceRegistrationTime
		for day := 0; day <= int(attribution.MaxSourceExpiry/(24*time.Hour)); day++ {
			if attributed != nil && sameUTCDay(now.Add(-time.Duration(day)*24*time.Hour), *attributed) {
				continue
			}
			if r.delegate.GenerateNullReport(day, rate) {
				days = append(days, day)
			}
		}
	default:
		rate := r.cfg.Aggregate.NullReportsRateExcludeSourceRegistrationTime
		if attributed == nil && r.delegate.GenerateNullReport(0, rate) {
			days = append(days, 0)
		}
	}

	for _, day := range days {
		fakeSourceTime := now.Add(-time.Duration(day) * 24 * time.Hour)
		reportTime := budget.ReportTime(now, r.delegate.AggregatableReportDelay(), t.TriggerContextID)
		report := &attribution.Report{
			Type:              attribution.ReportTypeNullAggregatable,
			ExternalID:        r.ids.Generate(),
			ContextOrigin:     t.DestinationOrigin,
			ReportingOrigin:   t.ReportingOrigin,
			TriggerTime:       now,
			ReportTime:        reportTime,
			InitialReportTime: reportTime,
			Aggregatable: &attribution.AggregatableData{
				Contributions:                []attribution.Contribution{},
				SourceRegistrationTimeConfig: timeConfig,
				TriggerContextID:             t.TriggerContextID,
				AggregationCoordinator:       t.AggregationCoordinator,
				FakeSourceTime:               &fakeSourceTime,
			},
		}
		if _, err := tx.InsertReport(ctx, report); err != nil {
			return err
		}
		if result.MinNullAggregatableReportTime == nil || reportTime.Before(*result.MinNullAggregatableReportTime) {
			rt := reportTime
			result.MinNullAggregatableReportTime = &rt
		}
	}
	return nil
}
