package attribution

// SourceRegistrationTimeConfig controls whether aggregatable reports reveal
// the source registration time.
type SourceRegistrationTimeConfig string

const (
	SourceRegistrationTimeInclude SourceRegistrationTimeConfig = "include"
	SourceRegistrationTimeExclude SourceRegistrationTimeConfig = "exclude"
)

// EventTriggerData is one event-level candidate. The first candidate whose
// filters match the source is used.
type EventTriggerData struct {
	Data     uint64     `json:"trigger_data" yaml:"trigger_data"`
	Priority int64      `json:"priority,omitempty" yaml:"priority,omitempty"`
	DedupKey *uint64    `json:"deduplication_key,omitempty" yaml:"deduplication_key,omitempty"`
	Filters  FilterPair `json:"filter_pair,omitempty" yaml:"filter_pair,omitempty"`
}

// AggregatableTriggerData ORs KeyPiece into every listed source key.
type AggregatableTriggerData struct {
	KeyPiece   Uint128    `json:"key_piece" yaml:"key_piece"`
	SourceKeys []string   `json:"source_keys" yaml:"source_keys"`
	Filters    FilterPair `json:"filter_pair,omitempty" yaml:"filter_pair,omitempty"`
}

// AggregatableValue is the contribution value for one source key.
type AggregatableValue struct {
	Value       uint32 `json:"value" yaml:"value"`
	FilteringID uint64 `json:"filtering_id,omitempty" yaml:"filtering_id,omitempty"`
}

// AggregatableValues maps source keys to values. The first entry whose
// filters match the source is used.
type AggregatableValues struct {
	Values  map[string]AggregatableValue `json:"values" yaml:"values"`
	Filters FilterPair                   `json:"filter_pair,omitempty" yaml:"filter_pair,omitempty"`
}

// AggregatableDedupKey is a filtered aggregatable dedup key. A matching
// entry with a nil key disables dedup for the trigger.
type AggregatableDedupKey struct {
	DedupKey *uint64    `json:"deduplication_key,omitempty" yaml:"deduplication_key,omitempty"`
	Filters  FilterPair `json:"filter_pair,omitempty" yaml:"filter_pair,omitempty"`
}

// Trigger is a conversion registration. It is never persisted itself.
type Trigger struct {
	ReportingOrigin   Origin     `json:"reporting_origin" yaml:"reporting_origin"`
	DestinationOrigin Origin     `json:"destination_origin" yaml:"destination_origin"`
	Filters           FilterPair `json:"filter_pair,omitempty" yaml:"filter_pair,omitempty"`

	EventTriggers []EventTriggerData `json:"event_triggers,omitempty" yaml:"event_triggers,omitempty"`

	AggregatableTriggerData      []AggregatableTriggerData    `json:"aggregatable_trigger_data,omitempty" yaml:"aggregatable_trigger_data,omitempty"`
	AggregatableValues           []AggregatableValues         `json:"aggregatable_values,omitempty" yaml:"aggregatable_values,omitempty"`
	AggregatableDedupKeys        []AggregatableDedupKey       `json:"aggregatable_dedup_keys,omitempty" yaml:"aggregatable_dedup_keys,omitempty"`
	SourceRegistrationTimeConfig SourceRegistrationTimeConfig `json:"source_registration_time_config,omitempty" yaml:"source_registration_time_config,omitempty"`
	AggregationCoordinator       string                       `json:"aggregation_coordinator_origin,omitempty" yaml:"aggregation_coordinator_origin,omitempty"`
	TriggerContextID             string                       `json:"trigger_context_id,omitempty" yaml:"trigger_context_id,omitempty"`

	DebugKey       *uint64 `json:"debug_key,omitempty" yaml:"debug_key,omitempty"`
	DebugCookieSet bool    `json:"debug_cookie_set,omitempty" yaml:"debug_cookie_set,omitempty"`
}

// DestinationSite is the site the conversion happened on.
func (t *Trigger) DestinationSite() Site {
	return t.DestinationOrigin.Site()
}

// HasAggregatableData reports whether the trigger registered anything
// for the aggregatable pipeline.
func (t *Trigger) HasAggregatableData() bool {
	return len(t.AggregatableTriggerData) > 0 || len(t.AggregatableValues) > 0
}

// RegistrationTimeConfig returns the configured value, defaulting to include.
func (t *Trigger) RegistrationTimeConfig() SourceRegistrationTimeConfig {
	if t.SourceRegistrationTimeConfig == "" {
		return SourceRegistrationTimeInclude
	}
	return t.SourceRegistrationTimeConfig
}
