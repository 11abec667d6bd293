package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// encodeTime stores t as microseconds since the epoch. The zero time maps
// to the smallest integer so that it sorts before every real instant.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}
	return t.UnixMicro()
}

func decodeTime(v int64) time.Time {
	if v == math.MinInt64 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// encodeUint64 bit-casts v so the SQLite driver accepts values above
// MaxInt64.
func encodeUint64(v uint64) int64 {
	return int64(v)
}

func decodeUint64(v int64) uint64 {
	return uint64(v)
}

func encodeOptionalUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: encodeUint64(*v), Valid: true}
}

func decodeOptionalUint64(v sql.NullInt64) *uint64 {
	if !v.Valid {
		return nil
	}
	u := decodeUint64(v.Int64)
	return &u
}

// marshalMetadata converts a metadata struct to canonical JSON TEXT.
func marshalMetadata(v any) (string, error) {
	data, err := attribution.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

// sourceMetadata holds the parts of a source that are never queried.
type sourceMetadata struct {
	FilterData               attribution.FilterData          `json:"filter_data"`
	AggregationKeys          map[string]attribution.Uint128  `json:"aggregation_keys"`
	TriggerSpecs             attribution.TriggerSpecs        `json:"trigger_specs"`
	Expiry                   attribution.Duration            `json:"expiry"`
	AggregatableReportWindow attribution.Duration            `json:"aggregatable_report_window"`
	EventLevelEpsilon        *float64                        `json:"event_level_epsilon,omitempty"`
	AggregatableDebugBudget  int64                           `json:"aggregatable_debug_budget"`
}

type sourceRow struct {
	SourceID                               int64         `db:"source_id"`
	SourceEventID                          int64         `db:"source_event_id"`
	SourceOrigin                           string        `db:"source_origin"`
	SourceSite                             string        `db:"source_site"`
	ReportingOrigin                        string        `db:"reporting_origin"`
	SourceType                             string        `db:"source_type"`
	SourceTime                             int64         `db:"source_time"`
	ExpiryTime                             int64         `db:"expiry_time"`
	AggregatableReportWindowTime           int64         `db:"aggregatable_report_window_time"`
	Priority                               int64         `db:"priority"`
	AttributionLogic                       string        `db:"attribution_logic"`
	ActiveState                            string        `db:"active_state"`
	DebugKey                               sql.NullInt64 `db:"debug_key"`
	DebugCookieSet                         bool          `db:"debug_cookie_set"`
	RandomizedResponseRate                 float64       `db:"randomized_response_rate"`
	NumAttributions                        int64         `db:"num_attributions"`
	NumAggregatableAttributionReports      int64         `db:"num_aggregatable_attribution_reports"`
	RemainingAggregatableAttributionBudget int64         `db:"remaining_aggregatable_attribution_budget"`
	NumAggregatableDebugReports            int64         `db:"num_aggregatable_debug_reports"`
	RemainingAggregatableDebugBudget       int64         `db:"remaining_aggregatable_debug_budget"`
	Metadata                               string        `db:"metadata"`
}

func encodeSource(s *attribution.StoredSource) (sourceRow, error) {
	meta, err := marshalMetadata(sourceMetadata{
		FilterData:               s.FilterData,
		AggregationKeys:          s.AggregationKeys,
		TriggerSpecs:             s.TriggerSpecs,
		Expiry:                   s.Expiry,
		AggregatableReportWindow: s.AggregatableReportWindow,
		EventLevelEpsilon:        s.EventLevelEpsilon,
		AggregatableDebugBudget:  s.AggregatableDebugBudget,
	})
	if err != nil {
		return sourceRow{}, err
	}
	return sourceRow{
		SourceEventID:                          encodeUint64(s.SourceEventID),
		SourceOrigin:                           string(s.SourceOrigin),
		SourceSite:                             string(s.SourceSite()),
		ReportingOrigin:                        string(s.ReportingOrigin),
		SourceType:                             string(s.SourceType),
		SourceTime:                             encodeTime(s.SourceTime),
		ExpiryTime:                             encodeTime(s.ExpiryTime),
		AggregatableReportWindowTime:           encodeTime(s.AggregatableReportWindowTime),
		Priority:                               s.Priority,
		AttributionLogic:                       string(s.AttributionLogic),
		ActiveState:                            string(s.ActiveState),
		DebugKey:                               encodeOptionalUint64(s.DebugKey),
		DebugCookieSet:                         s.DebugCookieSet,
		RandomizedResponseRate:                 s.RandomizedResponseRate,
		NumAttributions:                        int64(s.NumAttributions),
		NumAggregatableAttributionReports:      int64(s.NumAggregatableAttributionReports),
		RemainingAggregatableAttributionBudget: s.RemainingAggregatableAttributionBudget,
		NumAggregatableDebugReports:            int64(s.NumAggregatableDebugReports),
		RemainingAggregatableDebugBudget:       s.RemainingAggregatableDebugBudget,
		Metadata:                               meta,
	}, nil
}

// decodeSource validates a row and rebuilds the stored source. Any
// inconsistency is reported as a CorruptionError.
func decodeSource(row sourceRow, destinations []attribution.Site) (*attribution.StoredSource, error) {
	id := row.SourceID
	sourceType := attribution.SourceType(row.SourceType)
	if !sourceType.Valid() {
		return nil, corruptSource(id, "invalid source type %q", row.SourceType)
	}
	logic := attribution.AttributionLogic(row.AttributionLogic)
	if !logic.Valid() {
		return nil, corruptSource(id, "invalid attribution logic %q", row.AttributionLogic)
	}
	state := attribution.ActiveState(row.ActiveState)
	if !state.Valid() {
		return nil, corruptSource(id, "invalid active state %q", row.ActiveState)
	}
	if len(destinations) == 0 {
		return nil, corruptSource(id, "no destinations")
	}
	if row.RemainingAggregatableAttributionBudget < 0 || row.RemainingAggregatableDebugBudget < 0 {
		return nil, corruptSource(id, "negative budget")
	}
	if row.NumAttributions < 0 || row.NumAggregatableAttributionReports < 0 || row.NumAggregatableDebugReports < 0 {
		return nil, corruptSource(id, "negative report count")
	}

	var meta sourceMetadata
	if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
		return nil, corruptSource(id, "metadata: %v", err)
	}
	if err := meta.TriggerSpecs.Validate(); err != nil {
		return nil, corruptSource(id, "%v", err)
	}
	if meta.FilterData == nil {
		meta.FilterData = attribution.FilterData{}
	}
	if meta.AggregationKeys == nil {
		meta.AggregationKeys = map[string]attribution.Uint128{}
	}

	return &attribution.StoredSource{
		Source: attribution.Source{
			SourceEventID:            decodeUint64(row.SourceEventID),
			SourceOrigin:             attribution.Origin(row.SourceOrigin),
			ReportingOrigin:          attribution.Origin(row.ReportingOrigin),
			Destinations:             destinations,
			SourceType:               sourceType,
			SourceTime:               decodeTime(row.SourceTime),
			Priority:                 row.Priority,
			Expiry:                   meta.Expiry,
			AggregatableReportWindow: meta.AggregatableReportWindow,
			FilterData:               meta.FilterData,
			AggregationKeys:          meta.AggregationKeys,
			TriggerSpecs:             meta.TriggerSpecs,
			EventLevelEpsilon:        meta.EventLevelEpsilon,
			DebugKey:                 decodeOptionalUint64(row.DebugKey),
			DebugCookieSet:           row.DebugCookieSet,
			AggregatableDebugBudget:  meta.AggregatableDebugBudget,
		},
		ID:                                     attribution.SourceID(id),
		ExpiryTime:                             decodeTime(row.ExpiryTime),
		AggregatableReportWindowTime:           decodeTime(row.AggregatableReportWindowTime),
		AttributionLogic:                       logic,
		ActiveState:                            state,
		RandomizedResponseRate:                 row.RandomizedResponseRate,
		NumAttributions:                        int(row.NumAttributions),
		NumAggregatableAttributionReports:      int(row.NumAggregatableAttributionReports),
		RemainingAggregatableAttributionBudget: row.RemainingAggregatableAttributionBudget,
		NumAggregatableDebugReports:            int(row.NumAggregatableDebugReports),
		RemainingAggregatableDebugBudget:       row.RemainingAggregatableDebugBudget,
		DedupKeys:                              []uint64{},
		AggregatableDedupKeys:                  []uint64{},
	}, nil
}

type reportRow struct {
	ReportID           int64         `db:"report_id"`
	ReportType         string        `db:"report_type"`
	SourceID           sql.NullInt64 `db:"source_id"`
	ExternalReportID   string        `db:"external_report_id"`
	TriggerTime        int64         `db:"trigger_time"`
	ReportTime         int64         `db:"report_time"`
	InitialReportTime  int64         `db:"initial_report_time"`
	FailedSendAttempts int64         `db:"failed_send_attempts"`
	ContextOrigin      string        `db:"context_origin"`
	ContextSite        string        `db:"context_site"`
	ReportingOrigin    string        `db:"reporting_origin"`
	TriggerDebugKey    sql.NullInt64 `db:"trigger_debug_key"`
	Priority           int64         `db:"priority"`
	Metadata           string        `db:"metadata"`
}

func encodeReport(r *attribution.Report) (reportRow, error) {
	var payload any
	var priority int64
	switch r.Type {
	case attribution.ReportTypeEventLevel:
		if r.EventLevel == nil {
			return reportRow{}, fmt.Errorf("event-level report without data")
		}
		payload = r.EventLevel
		priority = r.EventLevel.Priority
	case attribution.ReportTypeAggregatable, attribution.ReportTypeNullAggregatable:
		if r.Aggregatable == nil {
			return reportRow{}, fmt.Errorf("%s report without data", r.Type)
		}
		payload = r.Aggregatable
	default:
		return reportRow{}, fmt.Errorf("unknown report type %q", r.Type)
	}
	meta, err := marshalMetadata(payload)
	if err != nil {
		return reportRow{}, err
	}

	row := reportRow{
		ReportType:         string(r.Type),
		ExternalReportID:   r.ExternalID,
		TriggerTime:        encodeTime(r.TriggerTime),
		ReportTime:         encodeTime(r.ReportTime),
		InitialReportTime:  encodeTime(r.InitialReportTime),
		FailedSendAttempts: int64(r.FailedSendAttempts),
		ContextOrigin:      string(r.ContextOrigin),
		ContextSite:        string(r.ContextSite()),
		ReportingOrigin:    string(r.ReportingOrigin),
		TriggerDebugKey:    encodeOptionalUint64(r.TriggerDebugKey),
		Priority:           priority,
		Metadata:           meta,
	}
	if r.Source != nil {
		row.SourceID = sql.NullInt64{Int64: int64(r.Source.ID), Valid: true}
	}
	return row, nil
}

// decodeReport validates a row. src is the attributed source, already
// loaded by the caller; it must be nil exactly for null reports.
func decodeReport(row reportRow, src *attribution.StoredSource) (*attribution.Report, error) {
	id := row.ReportID
	typ := attribution.ReportType(row.ReportType)
	if !typ.Valid() {
		return nil, corruptReport(id, "invalid report type %q", row.ReportType)
	}
	if row.FailedSendAttempts < 0 {
		return nil, corruptReport(id, "negative failed send attempts")
	}

	r := &attribution.Report{
		ID:                 attribution.ReportID(id),
		Type:               typ,
		ExternalID:         row.ExternalReportID,
		ContextOrigin:      attribution.Origin(row.ContextOrigin),
		ReportingOrigin:    attribution.Origin(row.ReportingOrigin),
		TriggerTime:        decodeTime(row.TriggerTime),
		TriggerDebugKey:    decodeOptionalUint64(row.TriggerDebugKey),
		ReportTime:         decodeTime(row.ReportTime),
		InitialReportTime:  decodeTime(row.InitialReportTime),
		FailedSendAttempts: int(row.FailedSendAttempts),
		Source:             src,
	}

	switch typ {
	case attribution.ReportTypeEventLevel:
		if src == nil {
			return nil, corruptReport(id, "event-level report without source")
		}
		var data attribution.EventLevelData
		if err := json.Unmarshal([]byte(row.Metadata), &data); err != nil {
			return nil, corruptReport(id, "metadata: %v", err)
		}
		if data.Priority != row.Priority {
			return nil, corruptReport(id, "priority mismatch")
		}
		r.EventLevel = &data
	case attribution.ReportTypeAggregatable, attribution.ReportTypeNullAggregatable:
		var data attribution.AggregatableData
		if err := json.Unmarshal([]byte(row.Metadata), &data); err != nil {
			return nil, corruptReport(id, "metadata: %v", err)
		}
		if len(data.Contributions) == 0 && typ == attribution.ReportTypeAggregatable {
			return nil, corruptReport(id, "aggregatable report without contributions")
		}
		if typ == attribution.ReportTypeAggregatable && src == nil {
			return nil, corruptReport(id, "aggregatable report without source")
		}
		if typ == attribution.ReportTypeNullAggregatable && (src != nil || data.FakeSourceTime == nil) {
			return nil, corruptReport(id, "malformed null report")
		}
		if data.Contributions == nil {
			data.Contributions = []attribution.Contribution{}
		}
		r.Aggregatable = &data
	}
	return r, nil
}
