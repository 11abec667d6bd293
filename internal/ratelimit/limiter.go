// Package ratelimit evaluates registration and attribution limits against
// the rows recorded in the store.
package ratelimit

import (
	"context"
	"slices"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
)

// Rows is the subset of store.Tx the limiter reads and writes.
type Rows interface {
	UnexpiredDestinations(ctx context.Context, sourceSite, reportingSite attribution.Site, now time.Time) ([]attribution.Site, error)
	RecentDestinations(ctx context.Context, sourceSite attribution.Site, since time.Time) ([]store.SiteDestination, error)
	CountUnexpiredSources(ctx context.Context, sourceOrigin attribution.Origin, now time.Time) (int64, error)
	RegistrationReportingOrigins(ctx context.Context, sourceSite, reportingSite attribution.Site, since time.Time) ([]attribution.Origin, error)
	SourceReportingOrigins(ctx context.Context, sourceSite attribution.Site, destinations []attribution.Site, since time.Time) ([]attribution.Origin, error)
	AttributionReportingOrigins(ctx context.Context, sourceSite, destination attribution.Site, since time.Time) ([]attribution.Origin, error)
	CountAttributions(ctx context.Context, scopes []store.RateLimitScope, sourceSite, destination, reportingSite attribution.Site, since time.Time) (int64, error)
	InsertRateLimit(ctx context.Context, r store.RateLimitRecord) error
	DeleteExpiredRateLimits(ctx context.Context, windowStart, now time.Time) (int, error)
}

// Decision is the outcome of one limit check. Limit is the configured
// bound, reported back to callers for diagnostics.
type Decision struct {
	Allowed bool
	Limit   int64
}

func allow(limit int64) Decision { return Decision{Allowed: true, Limit: limit} }
func deny(limit int64) Decision  { return Decision{Allowed: false, Limit: limit} }

// ThrottleResult classifies the destination throttle outcome.
type ThrottleResult int

const (
	ThrottleAllowed ThrottleResult = iota
	ThrottleReportingLimitReached
	ThrottleGlobalLimitReached
	ThrottleBothLimitsReached
)

// Limiter applies the configured policy. It holds no state of its own.
type Limiter struct {
	cfg *config.Config
}

// New creates a Limiter reading limits from cfg.
func New(cfg *config.Config) *Limiter {
	return &Limiter{cfg: cfg}
}

// DestinationCapacity bounds the distinct destinations of unexpired
// sources per (source site, reporting site).
func (l *Limiter) DestinationCapacity(ctx context.Context, rows Rows, src *attribution.StoredSource, now time.Time) (Decision, error) {
	limit := l.cfg.MaxDestinationsPerSourceSiteReportingSite
	existing, err := rows.UnexpiredDestinations(ctx, src.SourceSite(), src.ReportingSite(), now)
	if err != nil {
		return Decision{}, err
	}
	if int64(len(union(existing, src.Destinations))) > limit {
		return deny(limit), nil
	}
	return allow(limit), nil
}

// DestinationThrottle bounds how many distinct destinations a source site
// registers within the short throttle window, globally and per reporting
// site.
func (l *Limiter) DestinationThrottle(ctx context.Context, rows Rows, src *attribution.StoredSource, now time.Time) (ThrottleResult, error) {
	rl := l.cfg.DestinationRateLimit
	pairs, err := rows.RecentDestinations(ctx, src.SourceSite(), now.Add(-rl.Window.Std()))
	if err != nil {
		return ThrottleAllowed, err
	}

	reportingSite := src.ReportingSite()
	var global, perSite []attribution.Site
	for _, p := range pairs {
		global = append(global, p.DestinationSite)
		if p.ReportingSite == reportingSite {
			perSite = append(perSite, p.DestinationSite)
		}
	}
	globalExceeded := int64(len(union(global, src.Destinations))) > rl.MaxTotal
	reportingExceeded := int64(len(union(perSite, src.Destinations))) > rl.MaxPerReportingSite

	switch {
	case globalExceeded && reportingExceeded:
		return ThrottleBothLimitsReached, nil
	case globalExceeded:
		return ThrottleGlobalLimitReached, nil
	case reportingExceeded:
		return ThrottleReportingLimitReached, nil
	}
	return ThrottleAllowed, nil
}

// SourceCapacity bounds the unexpired sources per source origin.
func (l *Limiter) SourceCapacity(ctx context.Context, rows Rows, src *attribution.StoredSource, now time.Time) (Decision, error) {
	limit := l.cfg.MaxSourcesPerOrigin
	n, err := rows.CountUnexpiredSources(ctx, src.SourceOrigin, now)
	if err != nil {
		return Decision{}, err
	}
	if n >= limit {
		return deny(limit), nil
	}
	return allow(limit), nil
}

// ReportingOriginsPerSite bounds the distinct reporting origins of one
// reporting site registering from a source site in a short window.
func (l *Limiter) ReportingOriginsPerSite(ctx context.Context, rows Rows, src *attribution.StoredSource, now time.Time) (Decision, error) {
	limit := l.cfg.RateLimit.MaxReportingOriginsPerSourceReportingSite
	since := now.Add(-l.cfg.RateLimit.OriginsPerSiteWindow.Std())
	origins, err := rows.RegistrationReportingOrigins(ctx, src.SourceSite(), src.ReportingSite(), since)
	if err != nil {
		return Decision{}, err
	}
	return originLimit(origins, src.ReportingOrigin, limit), nil
}

// SourceReportingOrigins bounds the distinct reporting origins registering
// sources between a source site and any of the source's destinations.
func (l *Limiter) SourceReportingOrigins(ctx context.Context, rows Rows, src *attribution.StoredSource, now time.Time) (Decision, error) {
	limit := l.cfg.RateLimit.MaxSourceRegistrationReportingOrigins
	since := now.Add(-l.cfg.RateLimit.TimeWindow.Std())
	origins, err := rows.SourceReportingOrigins(ctx, src.SourceSite(), src.Destinations, since)
	if err != nil {
		return Decision{}, err
	}
	return originLimit(origins, src.ReportingOrigin, limit), nil
}

// AttributionReportingOrigins bounds the distinct reporting origins
// attributing between a source site and a destination. Event-level and
// aggregatable attributions share this limit.
func (l *Limiter) AttributionReportingOrigins(ctx context.Context, rows Rows, src *attribution.StoredSource, destination attribution.Site, now time.Time) (Decision, error) {
	limit := l.cfg.RateLimit.MaxAttributionReportingOrigins
	since := now.Add(-l.cfg.RateLimit.TimeWindow.Std())
	origins, err := rows.AttributionReportingOrigins(ctx, src.SourceSite(), destination, since)
	if err != nil {
		return Decision{}, err
	}
	return originLimit(origins, src.ReportingOrigin, limit), nil
}

// Attributions bounds attributions per (source site, destination,
// reporting site). scope is counted alone unless the limit is shared.
func (l *Limiter) Attributions(ctx context.Context, rows Rows, scope store.RateLimitScope, src *attribution.StoredSource, destination attribution.Site, now time.Time) (Decision, error) {
	limit := l.cfg.RateLimit.MaxAttributions
	scopes := []store.RateLimitScope{scope}
	if l.cfg.RateLimit.SharedAttributionLimit {
		scopes = store.AttributionScopes
	}
	since := now.Add(-l.cfg.RateLimit.TimeWindow.Std())
	n, err := rows.CountAttributions(ctx, scopes, src.SourceSite(), destination, src.ReportingSite(), since)
	if err != nil {
		return Decision{}, err
	}
	if n >= limit {
		return deny(limit), nil
	}
	return allow(limit), nil
}

// RecordSource adds one source row per destination.
func (l *Limiter) RecordSource(ctx context.Context, rows Rows, src *attribution.StoredSource) error {
	for _, dest := range src.Destinations {
		if err := rows.InsertRateLimit(ctx, store.RateLimitRecord{
			Scope:                   store.ScopeSource,
			SourceID:                src.ID,
			SourceSite:              src.SourceSite(),
			DestinationSite:         dest,
			ContextOrigin:           src.SourceOrigin,
			ReportingOrigin:         src.ReportingOrigin,
			Time:                    src.SourceTime,
			ExpiryOrAttributionTime: src.ExpiryTime,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RecordAttribution adds one attribution row. reportID ties the row to a
// replaceable event-level report and is zero otherwise.
func (l *Limiter) RecordAttribution(ctx context.Context, rows Rows, scope store.RateLimitScope, src *attribution.StoredSource, destination attribution.Origin, at time.Time, reportID attribution.ReportID) error {
	return rows.InsertRateLimit(ctx, store.RateLimitRecord{
		Scope:                   scope,
		SourceID:                src.ID,
		SourceSite:              src.SourceSite(),
		DestinationSite:         destination.Site(),
		ContextOrigin:           destination,
		ReportingOrigin:         src.ReportingOrigin,
		Time:                    at,
		ExpiryOrAttributionTime: at,
		ReportID:                reportID,
	})
}

// Prune deletes rows no window can count any more.
func (l *Limiter) Prune(ctx context.Context, rows Rows, now time.Time) (int, error) {
	return rows.DeleteExpiredRateLimits(ctx, now.Add(-l.cfg.RateLimit.TimeWindow.Std()), now)
}

// originLimit allows an origin already counted; otherwise it denies once
// limit distinct origins have been seen.
func originLimit(origins []attribution.Origin, origin attribution.Origin, limit int64) Decision {
	if slices.Contains(origins, origin) {
		return allow(limit)
	}
	if int64(len(origins)) >= limit {
		return deny(limit)
	}
	return allow(limit)
}

func union(a, b []attribution.Site) []attribution.Site {
	out := make([]attribution.Site, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	slices.Sort(out)
	return slices.Compact(out)
}
