package attribution

import "time"

// ReportID identifies a stored report. IDs increase with insertion.
type ReportID int64

// ReportType tags the payload a report carries.
type ReportType string

const (
	ReportTypeEventLevel       ReportType = "event_level"
	ReportTypeAggregatable     ReportType = "aggregatable"
	ReportTypeNullAggregatable ReportType = "null_aggregatable"
)

// Valid reports whether t is a known report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeEventLevel, ReportTypeAggregatable, ReportTypeNullAggregatable:
		return true
	}
	return false
}

// EventLevelData is the payload of an event-level report.
type EventLevelData struct {
	TriggerData uint32 `json:"trigger_data"`
	Priority    int64  `json:"priority"`
}

// AggregatableData is the payload of aggregatable and null aggregatable
// reports. FakeSourceTime is only set on null reports.
type AggregatableData struct {
	Contributions                []Contribution               `json:"contributions"`
	SourceRegistrationTimeConfig SourceRegistrationTimeConfig `json:"source_registration_time_config"`
	TriggerContextID             string                       `json:"trigger_context_id,omitempty"`
	AggregationCoordinator       string                       `json:"aggregation_coordinator_origin,omitempty"`
	FakeSourceTime               *time.Time                   `json:"fake_source_time,omitempty"`
}

// Report is an event-level, aggregatable or null aggregatable report.
// Source is nil for null reports.
type Report struct {
	ID         ReportID   `json:"report_id"`
	Type       ReportType `json:"report_type"`
	ExternalID string     `json:"external_report_id"`

	ContextOrigin   Origin    `json:"context_origin"`
	ReportingOrigin Origin    `json:"reporting_origin"`
	TriggerTime     time.Time `json:"trigger_time"`
	TriggerDebugKey *uint64   `json:"trigger_debug_key,omitempty"`

	ReportTime         time.Time `json:"report_time"`
	InitialReportTime  time.Time `json:"initial_report_time"`
	FailedSendAttempts int       `json:"failed_send_attempts"`

	Source *StoredSource `json:"source,omitempty"`

	EventLevel   *EventLevelData   `json:"event_level,omitempty"`
	Aggregatable *AggregatableData `json:"aggregatable,omitempty"`
}

// SourceID returns the attributed source's ID, or zero for null reports.
func (r *Report) SourceID() SourceID {
	if r.Source == nil {
		return 0
	}
	return r.Source.ID
}

// ContextSite is the site the trigger was registered on.
func (r *Report) ContextSite() Site {
	return r.ContextOrigin.Site()
}

// AggregatableDebugReport is a debug report whose contributions draw on
// the aggregatable debug budgets.
type AggregatableDebugReport struct {
	ContextSite     Site           `json:"context_site" yaml:"context_site"`
	ReportingOrigin Origin         `json:"reporting_origin" yaml:"reporting_origin"`
	Contributions   []Contribution `json:"contributions" yaml:"contributions"`
	ReportTime      time.Time      `json:"report_time" yaml:"report_time"`
	ExternalID      string         `json:"external_report_id,omitempty" yaml:"external_report_id,omitempty"`
}
