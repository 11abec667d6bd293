package config

import (
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// Config holds every policy value the resolver enforces. Nothing in the
// resolver hard-codes a limit; tests shrink these to exercise edge cases.
type Config struct {
	MaxSourcesPerOrigin                       int64 `json:"max_sources_per_origin" yaml:"max_sources_per_origin"`
	MaxDestinationsPerSourceSiteReportingSite int64 `json:"max_destinations_per_source_site_reporting_site" yaml:"max_destinations_per_source_site_reporting_site"`

	DestinationRateLimit DestinationRateLimit       `json:"destination_rate_limit" yaml:"destination_rate_limit"`
	RateLimit            RateLimit                  `json:"rate_limit" yaml:"rate_limit"`
	EventLevel           EventLevelLimit            `json:"event_level" yaml:"event_level"`
	Aggregate            AggregateLimit             `json:"aggregate" yaml:"aggregate"`
	AggregatableDebug    AggregatableDebugRateLimit `json:"aggregatable_debug" yaml:"aggregatable_debug"`

	// OfflineReportDelay is nil when offline adjustment is disabled.
	OfflineReportDelay *OfflineReportDelay `json:"offline_report_delay,omitempty" yaml:"offline_report_delay,omitempty"`

	DeleteExpiredSourcesFrequency    attribution.Duration `json:"delete_expired_sources_frequency" yaml:"delete_expired_sources_frequency"`
	DeleteExpiredRateLimitsFrequency attribution.Duration `json:"delete_expired_rate_limits_frequency" yaml:"delete_expired_rate_limits_frequency"`
}

// DestinationRateLimit throttles how many distinct destinations a source
// site may register in a short window.
type DestinationRateLimit struct {
	MaxTotal            int64                `json:"max_total" yaml:"max_total"`
	MaxPerReportingSite int64                `json:"max_per_reporting_site" yaml:"max_per_reporting_site"`
	Window              attribution.Duration `json:"window" yaml:"window"`
}

// RateLimit bounds registrations and attributions per site pair.
type RateLimit struct {
	TimeWindow                                attribution.Duration `json:"time_window" yaml:"time_window"`
	MaxSourceRegistrationReportingOrigins     int64                `json:"max_source_registration_reporting_origins" yaml:"max_source_registration_reporting_origins"`
	MaxAttributionReportingOrigins            int64                `json:"max_attribution_reporting_origins" yaml:"max_attribution_reporting_origins"`
	MaxAttributions                           int64                `json:"max_attributions" yaml:"max_attributions"`
	MaxReportingOriginsPerSourceReportingSite int64                `json:"max_reporting_origins_per_source_reporting_site" yaml:"max_reporting_origins_per_source_reporting_site"`
	OriginsPerSiteWindow                      attribution.Duration `json:"origins_per_site_window" yaml:"origins_per_site_window"`

	// SharedAttributionLimit counts event-level and aggregatable
	// attributions against one MaxAttributions budget. Off by default:
	// each report type gets its own MaxAttributions, so an aggregatable
	// attribution never blocks an event-level one.
	SharedAttributionLimit bool `json:"shared_attribution_limit" yaml:"shared_attribution_limit"`
}

// EventLevelLimit configures noise and event-level capacity.
type EventLevelLimit struct {
	RandomizedResponseEpsilon  float64 `json:"randomized_response_epsilon" yaml:"randomized_response_epsilon"`
	MaxNavigationInfoGain      float64 `json:"max_navigation_info_gain" yaml:"max_navigation_info_gain"`
	MaxEventInfoGain           float64 `json:"max_event_info_gain" yaml:"max_event_info_gain"`
	MaxTriggerStateCardinality uint64  `json:"max_trigger_state_cardinality" yaml:"max_trigger_state_cardinality"`
	MaxReportsPerDestination   int64   `json:"max_reports_per_destination" yaml:"max_reports_per_destination"`
}

// MaxInfoGain returns the channel capacity bound for a source type.
func (l EventLevelLimit) MaxInfoGain(t attribution.SourceType) float64 {
	if t == attribution.SourceTypeEvent {
		return l.MaxEventInfoGain
	}
	return l.MaxNavigationInfoGain
}

// AggregateLimit configures aggregatable budgets and scheduling.
type AggregateLimit struct {
	BudgetPerSource          int64                `json:"budget_per_source" yaml:"budget_per_source"`
	MaxReportsPerSource      int64                `json:"max_reports_per_source" yaml:"max_reports_per_source"`
	MaxReportsPerDestination int64                `json:"max_reports_per_destination" yaml:"max_reports_per_destination"`
	MinDelay                 attribution.Duration `json:"min_delay" yaml:"min_delay"`
	DelaySpan                attribution.Duration `json:"delay_span" yaml:"delay_span"`

	NullReportsRateIncludeSourceRegistrationTime float64 `json:"null_reports_rate_include_source_registration_time" yaml:"null_reports_rate_include_source_registration_time"`
	NullReportsRateExcludeSourceRegistrationTime float64 `json:"null_reports_rate_exclude_source_registration_time" yaml:"null_reports_rate_exclude_source_registration_time"`
}

// AggregatableDebugRateLimit bounds debug contributions per context site,
// per context and reporting site, and per source.
type AggregatableDebugRateLimit struct {
	MaxBudgetPerContextSite          int64                `json:"max_budget_per_context_site" yaml:"max_budget_per_context_site"`
	MaxBudgetPerContextReportingSite int64                `json:"max_budget_per_context_reporting_site" yaml:"max_budget_per_context_reporting_site"`
	MaxReportsPerSource              int64                `json:"max_reports_per_source" yaml:"max_reports_per_source"`
	Window                           attribution.Duration `json:"window" yaml:"window"`
}

// OfflineReportDelay is the uniform range added to reports found overdue
// at startup.
type OfflineReportDelay struct {
	Min attribution.Duration `json:"min" yaml:"min"`
	Max attribution.Duration `json:"max" yaml:"max"`
}

// Default returns the production policy.
func Default() Config {
	return Config{
		MaxSourcesPerOrigin:                       4096,
		MaxDestinationsPerSourceSiteReportingSite: 100,
		DestinationRateLimit: DestinationRateLimit{
			MaxTotal:            200,
			MaxPerReportingSite: 50,
			Window:              attribution.Duration(time.Minute),
		},
		RateLimit: RateLimit{
			TimeWindow:                                attribution.Duration(30 * 24 * time.Hour),
			MaxSourceRegistrationReportingOrigins:     100,
			MaxAttributionReportingOrigins:            10,
			MaxAttributions:                           100,
			MaxReportingOriginsPerSourceReportingSite: 1,
			OriginsPerSiteWindow:                      attribution.Duration(24 * time.Hour),
		},
		EventLevel: EventLevelLimit{
			RandomizedResponseEpsilon:  14,
			MaxNavigationInfoGain:      11.5,
			MaxEventInfoGain:           6.5,
			MaxTriggerStateCardinality: 4294967295,
			MaxReportsPerDestination:   1024,
		},
		Aggregate: AggregateLimit{
			BudgetPerSource:                              65536,
			MaxReportsPerSource:                          20,
			MaxReportsPerDestination:                     1024,
			MinDelay:                                     attribution.Duration(10 * time.Minute),
			DelaySpan:                                    attribution.Duration(50 * time.Minute),
			NullReportsRateIncludeSourceRegistrationTime: 0.008,
			NullReportsRateExcludeSourceRegistrationTime: 0.05,
		},
		AggregatableDebug: AggregatableDebugRateLimit{
			MaxBudgetPerContextSite:          1048576,
			MaxBudgetPerContextReportingSite: 65536,
			MaxReportsPerSource:              5,
			Window:                           attribution.Duration(24 * time.Hour),
		},
		OfflineReportDelay: &OfflineReportDelay{
			Min: 0,
			Max: attribution.Duration(time.Minute),
		},
		DeleteExpiredSourcesFrequency:    attribution.Duration(5 * time.Minute),
		DeleteExpiredRateLimitsFrequency: attribution.Duration(5 * time.Minute),
	}
}
