package attribution

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// SourceID identifies a stored source. IDs increase with insertion and are
// never reused.
type SourceID int64

// AttributionLogic is the randomized response drawn for a source at
// registration time. It never changes afterwards.
type AttributionLogic string

const (
	AttributionLogicTruthful AttributionLogic = "truthful"
	AttributionLogicNever    AttributionLogic = "never"
	AttributionLogicFalsely  AttributionLogic = "falsely"
)

// Valid reports whether l is a known attribution logic.
func (l AttributionLogic) Valid() bool {
	switch l {
	case AttributionLogicTruthful, AttributionLogicNever, AttributionLogicFalsely:
		return true
	}
	return false
}

// ActiveState tracks whether a source can still be attributed.
type ActiveState string

const (
	ActiveStateActive                            ActiveState = "active"
	ActiveStateReachedEventLevelAttributionLimit ActiveState = "reached_event_level_attribution_limit"
	ActiveStateInactive                          ActiveState = "inactive"
)

// Valid reports whether s is a known active state.
func (s ActiveState) Valid() bool {
	switch s {
	case ActiveStateActive, ActiveStateReachedEventLevelAttributionLimit, ActiveStateInactive:
		return true
	}
	return false
}

// Source is a registration as received from the caller. Zero values of
// optional fields select defaults during Normalize.
type Source struct {
	SourceEventID   uint64     `json:"source_event_id" yaml:"source_event_id"`
	SourceOrigin    Origin     `json:"source_origin" yaml:"source_origin"`
	ReportingOrigin Origin     `json:"reporting_origin" yaml:"reporting_origin"`
	Destinations    []Site     `json:"destination_sites" yaml:"destination_sites"`
	SourceType      SourceType `json:"source_type" yaml:"source_type"`
	SourceTime      time.Time  `json:"source_time" yaml:"source_time"`
	Priority        int64      `json:"priority,omitempty" yaml:"priority,omitempty"`

	Expiry                   Duration `json:"expiry,omitempty" yaml:"expiry,omitempty"`
	AggregatableReportWindow Duration `json:"aggregatable_report_window,omitempty" yaml:"aggregatable_report_window,omitempty"`

	FilterData      FilterData         `json:"filter_data,omitempty" yaml:"filter_data,omitempty"`
	AggregationKeys map[string]Uint128 `json:"aggregation_keys,omitempty" yaml:"aggregation_keys,omitempty"`

	TriggerSpecs         TriggerSpecs `json:"trigger_specs,omitempty" yaml:"trigger_specs,omitempty"`
	MaxEventLevelReports *int         `json:"max_event_level_reports,omitempty" yaml:"max_event_level_reports,omitempty"`
	EventLevelEpsilon    *float64     `json:"event_level_epsilon,omitempty" yaml:"event_level_epsilon,omitempty"`

	DebugKey                *uint64 `json:"debug_key,omitempty" yaml:"debug_key,omitempty"`
	DebugCookieSet          bool    `json:"debug_cookie_set,omitempty" yaml:"debug_cookie_set,omitempty"`
	AggregatableDebugBudget int64   `json:"aggregatable_debug_budget,omitempty" yaml:"aggregatable_debug_budget,omitempty"`
}

// SourceSite is the site the source was registered on.
func (s *Source) SourceSite() Site {
	return s.SourceOrigin.Site()
}

// ReportingSite is the site of the reporting origin.
func (s *Source) ReportingSite() Site {
	return s.ReportingOrigin.Site()
}

// Normalize fills defaults in place: expiry is clamped to
// [MinSourceExpiry, MaxSourceExpiry], the aggregatable window defaults to
// expiry, and event-level trigger specs default by source type.
func (s *Source) Normalize() error {
	if s.SourceOrigin == "" || s.ReportingOrigin == "" {
		return errors.New("source: source and reporting origins are required")
	}
	if len(s.Destinations) == 0 {
		return errors.New("source: at least one destination site is required")
	}
	if s.SourceType == "" {
		s.SourceType = SourceTypeNavigation
	}
	if !s.SourceType.Valid() {
		return fmt.Errorf("source: unknown source type %q", s.SourceType)
	}

	dests := make([]Site, len(s.Destinations))
	for i, d := range s.Destinations {
		dests[i] = Origin(d).Site()
	}
	slices.Sort(dests)
	s.Destinations = slices.Compact(dests)

	expiry := s.Expiry.Std()
	if expiry == 0 {
		expiry = MaxSourceExpiry
	}
	expiry = min(max(expiry, MinSourceExpiry), MaxSourceExpiry)
	s.Expiry = Duration(expiry)

	window := s.AggregatableReportWindow.Std()
	if window <= 0 || window > expiry {
		window = expiry
	}
	s.AggregatableReportWindow = Duration(window)

	if len(s.TriggerSpecs.Specs) == 0 {
		matching := s.TriggerSpecs.Matching
		s.TriggerSpecs = DefaultTriggerSpecs(s.SourceType, expiry)
		if matching != "" {
			s.TriggerSpecs.Matching = matching
		}
	}
	if s.TriggerSpecs.Matching == "" {
		s.TriggerSpecs.Matching = TriggerDataMatchingModulus
	}
	if s.MaxEventLevelReports != nil {
		s.TriggerSpecs.MaxEventLevelReports = *s.MaxEventLevelReports
	}
	if s.FilterData == nil {
		s.FilterData = FilterData{}
	}
	if s.AggregationKeys == nil {
		s.AggregationKeys = map[string]Uint128{}
	}
	return nil
}

// StoredSource is a source as persisted, with the state attribution
// mutates.
type StoredSource struct {
	Source

	ID                           SourceID         `json:"source_id"`
	ExpiryTime                   time.Time        `json:"expiry_time"`
	AggregatableReportWindowTime time.Time        `json:"aggregatable_report_window_time"`
	AttributionLogic             AttributionLogic `json:"attribution_logic"`
	ActiveState                  ActiveState      `json:"active_state"`
	RandomizedResponseRate       float64          `json:"randomized_response_rate"`

	// NumAttributions counts event-level reports created for this source,
	// including replaced ones.
	NumAttributions                        int   `json:"num_attributions"`
	NumAggregatableAttributionReports      int   `json:"num_aggregatable_attribution_reports"`
	RemainingAggregatableAttributionBudget int64 `json:"remaining_aggregatable_attribution_budget"`
	NumAggregatableDebugReports            int   `json:"num_aggregatable_debug_reports"`
	RemainingAggregatableDebugBudget       int64 `json:"remaining_aggregatable_debug_budget"`

	DedupKeys             []uint64 `json:"dedup_keys"`
	AggregatableDedupKeys []uint64 `json:"aggregatable_dedup_keys"`
}

