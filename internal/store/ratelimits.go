package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// RateLimitScope tags what a rate-limit row counts.
type RateLimitScope string

const (
	ScopeSource                  RateLimitScope = "source"
	ScopeEventAttribution        RateLimitScope = "event_attribution"
	ScopeAggregatableAttribution RateLimitScope = "aggregatable_attribution"
)

// AttributionScopes lists both attribution scopes.
var AttributionScopes = []RateLimitScope{ScopeEventAttribution, ScopeAggregatableAttribution}

// RateLimitRecord is one counted registration or attribution.
//
// For source rows ExpiryOrAttributionTime holds the source expiry; for
// attribution rows it holds the attribution time. ReportID is set only for
// rows that belong to a replaceable event-level report.
type RateLimitRecord struct {
	Scope                   RateLimitScope
	SourceID                attribution.SourceID
	SourceSite              attribution.Site
	DestinationSite         attribution.Site
	ContextOrigin           attribution.Origin
	ReportingOrigin         attribution.Origin
	Time                    time.Time
	ExpiryOrAttributionTime time.Time
	ReportID                attribution.ReportID
}

// RateLimitRef identifies a rate-limit row for data clearing.
type RateLimitRef struct {
	ID              int64              `db:"id"`
	ReportingOrigin attribution.Origin `db:"reporting_origin"`
}

// SiteDestination pairs a destination with the reporting site that
// registered it.
type SiteDestination struct {
	DestinationSite attribution.Site `db:"destination_site"`
	ReportingSite   attribution.Site `db:"reporting_site"`
}

// InsertRateLimit records one row. The reporting site is derived from the
// reporting origin.
func (t *Tx) InsertRateLimit(ctx context.Context, r RateLimitRecord) error {
	reportID := int64(-1)
	if r.ReportID != 0 {
		reportID = int64(r.ReportID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO rate_limits (
			scope, source_id, source_site, destination_site, context_origin,
			reporting_origin, reporting_site, time, source_expiry_or_attribution_time, report_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(r.Scope), int64(r.SourceID), string(r.SourceSite), string(r.DestinationSite),
		string(r.ContextOrigin), string(r.ReportingOrigin), string(r.ReportingOrigin.Site()),
		encodeTime(r.Time), encodeTime(r.ExpiryOrAttributionTime), reportID)
	if err != nil {
		return fmt.Errorf("insert rate limit: %w", err)
	}
	return nil
}

// AttributionReportingOrigins returns the distinct reporting origins that
// attributed, of either report type, between sourceSite and destination
// after since.
func (t *Tx) AttributionReportingOrigins(ctx context.Context, sourceSite, destination attribution.Site, since time.Time) ([]attribution.Origin, error) {
	origins := []attribution.Origin{}
	err := t.selectIn(ctx, &origins, `
		SELECT DISTINCT reporting_origin FROM rate_limits
		WHERE scope IN (?) AND source_site = ? AND destination_site = ? AND time > ?
		ORDER BY reporting_origin`,
		scopeArgs(AttributionScopes), string(sourceSite), string(destination), encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("query attribution reporting origins: %w", err)
	}
	return origins, nil
}

// SourceReportingOrigins returns the distinct reporting origins that
// registered sources from sourceSite for any of destinations after since.
func (t *Tx) SourceReportingOrigins(ctx context.Context, sourceSite attribution.Site, destinations []attribution.Site, since time.Time) ([]attribution.Origin, error) {
	origins := []attribution.Origin{}
	if len(destinations) == 0 {
		return origins, nil
	}
	err := t.selectIn(ctx, &origins, `
		SELECT DISTINCT reporting_origin FROM rate_limits
		WHERE scope = ? AND source_site = ? AND destination_site IN (?) AND time > ?
		ORDER BY reporting_origin`,
		string(ScopeSource), string(sourceSite), siteArgs(destinations), encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("query source reporting origins: %w", err)
	}
	return origins, nil
}

// CountAttributions counts attribution rows in scopes for the
// (sourceSite, destination, reportingSite) triple after since.
func (t *Tx) CountAttributions(ctx context.Context, scopes []RateLimitScope, sourceSite, destination, reportingSite attribution.Site, since time.Time) (int64, error) {
	var n int64
	q, args, err := t.in(`
		SELECT COUNT(*) FROM rate_limits
		WHERE scope IN (?) AND source_site = ? AND destination_site = ? AND reporting_site = ? AND time > ?`,
		scopeArgs(scopes), string(sourceSite), string(destination), string(reportingSite), encodeTime(since))
	if err != nil {
		return 0, fmt.Errorf("count attributions: %w", err)
	}
	if err := t.tx.GetContext(ctx, &n, q, args...); err != nil {
		return 0, fmt.Errorf("count attributions: %w", err)
	}
	return n, nil
}

// UnexpiredDestinations returns the distinct destinations of sources from
// sourceSite registered by reportingSite that have not expired at now.
func (t *Tx) UnexpiredDestinations(ctx context.Context, sourceSite, reportingSite attribution.Site, now time.Time) ([]attribution.Site, error) {
	sites := []attribution.Site{}
	err := t.tx.SelectContext(ctx, &sites, `
		SELECT DISTINCT destination_site FROM rate_limits
		WHERE scope = ? AND source_site = ? AND reporting_site = ? AND source_expiry_or_attribution_time > ?
		ORDER BY destination_site`,
		string(ScopeSource), string(sourceSite), string(reportingSite), encodeTime(now))
	if err != nil {
		return nil, fmt.Errorf("query unexpired destinations: %w", err)
	}
	return sites, nil
}

// RecentDestinations returns the distinct (destination, reporting site)
// pairs registered from sourceSite after since.
func (t *Tx) RecentDestinations(ctx context.Context, sourceSite attribution.Site, since time.Time) ([]SiteDestination, error) {
	pairs := []SiteDestination{}
	err := t.tx.SelectContext(ctx, &pairs, `
		SELECT DISTINCT destination_site, reporting_site FROM rate_limits
		WHERE scope = ? AND source_site = ? AND time > ?
		ORDER BY destination_site, reporting_site`,
		string(ScopeSource), string(sourceSite), encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("query recent destinations: %w", err)
	}
	return pairs, nil
}

// RegistrationReportingOrigins returns the distinct reporting origins that
// registered sources from sourceSite under reportingSite after since.
func (t *Tx) RegistrationReportingOrigins(ctx context.Context, sourceSite, reportingSite attribution.Site, since time.Time) ([]attribution.Origin, error) {
	origins := []attribution.Origin{}
	err := t.tx.SelectContext(ctx, &origins, `
		SELECT DISTINCT reporting_origin FROM rate_limits
		WHERE scope = ? AND source_site = ? AND reporting_site = ? AND time > ?
		ORDER BY reporting_origin`,
		string(ScopeSource), string(sourceSite), string(reportingSite), encodeTime(since))
	if err != nil {
		return nil, fmt.Errorf("query registration reporting origins: %w", err)
	}
	return origins, nil
}

// DeleteRateLimitForReport removes the attribution row tied to a replaced
// event-level report.
func (t *Tx) DeleteRateLimitForReport(ctx context.Context, id attribution.ReportID) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM rate_limits WHERE report_id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete rate limit for report %d: %w", id, err)
	}
	return nil
}

// RateLimitsBetween lists rows with begin <= time <= end.
func (t *Tx) RateLimitsBetween(ctx context.Context, begin, end time.Time) ([]RateLimitRef, error) {
	refs := []RateLimitRef{}
	err := t.tx.SelectContext(ctx, &refs, `
		SELECT id, reporting_origin FROM rate_limits
		WHERE time BETWEEN ? AND ?
		ORDER BY id`, encodeTime(begin), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("query rate limits in range: %w", err)
	}
	return refs, nil
}

// DeleteRateLimits removes rows by ID.
func (t *Tx) DeleteRateLimits(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := t.execIn(ctx, `DELETE FROM rate_limits WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete rate limits: %w", err)
	}
	return int(n), nil
}

// DeleteExpiredRateLimits prunes rows older than windowStart. Source rows
// are kept while their source is unexpired at now, since they still count
// toward destination capacity.
func (t *Tx) DeleteExpiredRateLimits(ctx context.Context, windowStart, now time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM rate_limits
		WHERE time <= ? AND (scope != ? OR source_expiry_or_attribution_time <= ?)`,
		encodeTime(windowStart), string(ScopeSource), encodeTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limits: %w", err)
	}
	return int(n), nil
}

func scopeArgs(scopes []RateLimitScope) []string {
	out := make([]string, len(scopes))
	for i, s := range scopes {
		out[i] = string(s)
	}
	return out
}

func siteArgs(sites []attribution.Site) []string {
	out := make([]string, len(sites))
	for i, s := range sites {
		out[i] = string(s)
	}
	return out
}
