package attribution

import "time"

// StoreSourceStatus is the outcome of registering a source.
type StoreSourceStatus string

const (
	StoreSourceSuccess                               StoreSourceStatus = "Success"
	StoreSourceSuccessNoised                         StoreSourceStatus = "SuccessNoised"
	StoreSourceInternalError                         StoreSourceStatus = "InternalError"
	StoreSourceInsufficientSourceCapacity            StoreSourceStatus = "InsufficientSourceCapacity"
	StoreSourceInsufficientUniqueDestinationCapacity StoreSourceStatus = "InsufficientUniqueDestinationCapacity"
	StoreSourceExcessiveReportingOrigins             StoreSourceStatus = "ExcessiveReportingOrigins"
	StoreSourceDestinationReportingLimitReached      StoreSourceStatus = "DestinationReportingLimitReached"
	StoreSourceDestinationGlobalLimitReached         StoreSourceStatus = "DestinationGlobalLimitReached"
	StoreSourceDestinationBothLimitsReached          StoreSourceStatus = "DestinationBothLimitsReached"
	StoreSourceReportingOriginsPerSiteLimitReached   StoreSourceStatus = "ReportingOriginsPerSiteLimitReached"
	StoreSourceExceedsMaxChannelCapacity             StoreSourceStatus = "ExceedsMaxChannelCapacity"
	StoreSourceExceedsMaxTriggerStateCardinality     StoreSourceStatus = "ExceedsMaxTriggerStateCardinality"
)

// StoreSourceResult is returned by StoreSource. Limit carries the policy
// value that rejected the source, when one applies.
type StoreSourceResult struct {
	Status            StoreSourceStatus `json:"status"`
	SourceID          SourceID          `json:"source_id,omitempty"`
	IsNoised          bool              `json:"is_noised"`
	MinFakeReportTime *time.Time        `json:"min_fake_report_time,omitempty"`
	Limit             *int64            `json:"limit,omitempty"`
}

// EventLevelResult is the event-level outcome of a trigger.
type EventLevelResult string

const (
	EventLevelSuccess                            EventLevelResult = "Success"
	EventLevelSuccessDroppedLowerPriority        EventLevelResult = "SuccessDroppedLowerPriority"
	EventLevelInternalError                      EventLevelResult = "InternalError"
	EventLevelNoCapacityForConversionDestination EventLevelResult = "NoCapacityForConversionDestination"
	EventLevelNoMatchingImpressions              EventLevelResult = "NoMatchingImpressions"
	EventLevelDeduplicated                       EventLevelResult = "Deduplicated"
	EventLevelExcessiveAttributions              EventLevelResult = "ExcessiveAttributions"
	EventLevelPriorityTooLow                     EventLevelResult = "PriorityTooLow"
	EventLevelNeverAttributedSource              EventLevelResult = "NeverAttributedSource"
	EventLevelExcessiveReportingOrigins          EventLevelResult = "ExcessiveReportingOrigins"
	EventLevelNoMatchingSourceFilterData         EventLevelResult = "NoMatchingSourceFilterData"
	EventLevelNoMatchingConfigurations           EventLevelResult = "NoMatchingConfigurations"
	EventLevelExcessiveReports                   EventLevelResult = "ExcessiveReports"
	EventLevelFalselyAttributedSource            EventLevelResult = "FalselyAttributedSource"
	EventLevelReportWindowPassed                 EventLevelResult = "ReportWindowPassed"
	EventLevelReportWindowNotStarted             EventLevelResult = "ReportWindowNotStarted"
	EventLevelNotRegistered                      EventLevelResult = "NotRegistered"
	EventLevelNoMatchingTriggerData              EventLevelResult = "NoMatchingTriggerData"
)

// Succeeded reports whether a report was stored.
func (r EventLevelResult) Succeeded() bool {
	return r == EventLevelSuccess || r == EventLevelSuccessDroppedLowerPriority
}

// AggregatableResult is the aggregatable outcome of a trigger.
type AggregatableResult string

const (
	AggregatableSuccess                            AggregatableResult = "Success"
	AggregatableInternalError                      AggregatableResult = "InternalError"
	AggregatableNoCapacityForConversionDestination AggregatableResult = "NoCapacityForConversionDestination"
	AggregatableNoMatchingImpressions              AggregatableResult = "NoMatchingImpressions"
	AggregatableExcessiveAttributions              AggregatableResult = "ExcessiveAttributions"
	AggregatableExcessiveReportingOrigins          AggregatableResult = "ExcessiveReportingOrigins"
	AggregatableNoHistograms                       AggregatableResult = "NoHistograms"
	AggregatableInsufficientBudget                 AggregatableResult = "InsufficientBudget"
	AggregatableNoMatchingSourceFilterData         AggregatableResult = "NoMatchingSourceFilterData"
	AggregatableNotRegistered                      AggregatableResult = "NotRegistered"
	AggregatableDeduplicated                       AggregatableResult = "Deduplicated"
	AggregatableReportWindowPassed                 AggregatableResult = "ReportWindowPassed"
	AggregatableExcessiveReports                   AggregatableResult = "ExcessiveReports"
)

// Limits reports the policy values behind a rejected trigger.
type Limits struct {
	RateLimitsMax                        *int64 `json:"rate_limits_max_attributions,omitempty"`
	RateLimitsMaxReportingOrigins        *int64 `json:"rate_limits_max_attribution_reporting_origins,omitempty"`
	MaxEventLevelReportsPerDestination   *int64 `json:"max_event_level_reports_per_destination,omitempty"`
	MaxAggregatableReportsPerDestination *int64 `json:"max_aggregatable_reports_per_destination,omitempty"`
	MaxAggregatableReportsPerSource      *int64 `json:"max_aggregatable_reports_per_source,omitempty"`
	AggregatableBudgetPerSource          *int64 `json:"aggregatable_budget_per_source,omitempty"`
}

// CreateReportResult is returned by MaybeCreateAndStoreReport.
type CreateReportResult struct {
	TriggerTime        time.Time          `json:"trigger_time"`
	EventLevelStatus   EventLevelResult   `json:"event_level_status"`
	AggregatableStatus AggregatableResult `json:"aggregatable_status"`

	Source                   *StoredSource `json:"source,omitempty"`
	NewEventLevelReport      *Report       `json:"new_event_level_report,omitempty"`
	ReplacedEventLevelReport *Report       `json:"replaced_event_level_report,omitempty"`
	DroppedEventLevelReport  *Report       `json:"dropped_event_level_report,omitempty"`
	NewAggregatableReport    *Report       `json:"new_aggregatable_report,omitempty"`

	MinNullAggregatableReportTime *time.Time `json:"min_null_aggregatable_report_time,omitempty"`

	Limits Limits `json:"limits"`
}

// DebugReportStatus is the outcome of checking an aggregatable debug report
// against the debug budgets.
type DebugReportStatus string

const (
	DebugReportSuccess                       DebugReportStatus = "Success"
	DebugReportNoDebugData                   DebugReportStatus = "NoDebugData"
	DebugReportInsufficientBudget            DebugReportStatus = "InsufficientBudget"
	DebugReportExcessiveReports              DebugReportStatus = "ExcessiveReports"
	DebugReportGlobalRateLimitReached        DebugReportStatus = "GlobalRateLimitReached"
	DebugReportReportingSiteRateLimitReached DebugReportStatus = "ReportingSiteRateLimitReached"
	DebugReportBothRateLimitsReached         DebugReportStatus = "BothRateLimitsReached"
	DebugReportInternalError                 DebugReportStatus = "InternalError"
)

// DebugReportResult pairs the status with the report, whose contributions
// are cleared on any failure.
type DebugReportResult struct {
	Report AggregatableDebugReport `json:"report"`
	Status DebugReportStatus       `json:"status"`
}

// DeletionCounts reports rows removed by a verification scan.
type DeletionCounts struct {
	Sources int `json:"sources"`
	Reports int `json:"reports"`
}

// Int64 returns a pointer to v for optional result fields.
func Int64(v int64) *int64 {
	return &v
}
