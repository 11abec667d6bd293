package testutil

import (
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// Default origins used by the builders.
const (
	SourceOrigin      attribution.Origin = "https://impression.example"
	ReportingOrigin   attribution.Origin = "https://report.example"
	DestinationOrigin attribution.Origin = "https://conversion.example"
)

// SourceBuilder builds registrations with sensible defaults: a navigation
// source from SourceOrigin to DestinationOrigin with one aggregation key.
type SourceBuilder struct {
	src attribution.Source
}

// NewSource starts a builder for a source registered at t.
func NewSource(t time.Time) *SourceBuilder {
	return &SourceBuilder{src: attribution.Source{
		SourceEventID:   123,
		SourceOrigin:    SourceOrigin,
		ReportingOrigin: ReportingOrigin,
		Destinations:    []attribution.Site{DestinationOrigin.Site()},
		SourceType:      attribution.SourceTypeNavigation,
		SourceTime:      t,
		AggregationKeys: map[string]attribution.Uint128{"key": {Lo: 5}},
	}}
}

func (b *SourceBuilder) EventID(id uint64) *SourceBuilder {
	b.src.SourceEventID = id
	return b
}

func (b *SourceBuilder) Type(t attribution.SourceType) *SourceBuilder {
	b.src.SourceType = t
	return b
}

func (b *SourceBuilder) Priority(p int64) *SourceBuilder {
	b.src.Priority = p
	return b
}

func (b *SourceBuilder) SourceOrigin(o attribution.Origin) *SourceBuilder {
	b.src.SourceOrigin = o
	return b
}

func (b *SourceBuilder) ReportingOrigin(o attribution.Origin) *SourceBuilder {
	b.src.ReportingOrigin = o
	return b
}

func (b *SourceBuilder) Destinations(sites ...attribution.Site) *SourceBuilder {
	b.src.Destinations = sites
	return b
}

func (b *SourceBuilder) Expiry(d time.Duration) *SourceBuilder {
	b.src.Expiry = attribution.Duration(d)
	return b
}

func (b *SourceBuilder) AggregatableReportWindow(d time.Duration) *SourceBuilder {
	b.src.AggregatableReportWindow = attribution.Duration(d)
	return b
}

func (b *SourceBuilder) FilterData(fd attribution.FilterData) *SourceBuilder {
	b.src.FilterData = fd
	return b
}

func (b *SourceBuilder) AggregationKeys(keys map[string]attribution.Uint128) *SourceBuilder {
	b.src.AggregationKeys = keys
	return b
}

func (b *SourceBuilder) TriggerSpecs(specs attribution.TriggerSpecs) *SourceBuilder {
	b.src.TriggerSpecs = specs
	return b
}

func (b *SourceBuilder) MaxEventLevelReports(n int) *SourceBuilder {
	b.src.MaxEventLevelReports = &n
	return b
}

func (b *SourceBuilder) TriggerDataMatching(m attribution.TriggerDataMatching) *SourceBuilder {
	b.src.TriggerSpecs.Matching = m
	return b
}

func (b *SourceBuilder) DebugBudget(n int64) *SourceBuilder {
	b.src.AggregatableDebugBudget = n
	return b
}

// Build returns a copy of the registration.
func (b *SourceBuilder) Build() attribution.Source {
	src := b.src
	src.Destinations = append([]attribution.Site(nil), b.src.Destinations...)
	return src
}

// TriggerBuilder builds triggers from ReportingOrigin at DestinationOrigin.
type TriggerBuilder struct {
	t attribution.Trigger
}

// NewTrigger starts an event-level trigger with trigger data 1.
func NewTrigger() *TriggerBuilder {
	return &TriggerBuilder{t: attribution.Trigger{
		ReportingOrigin:   ReportingOrigin,
		DestinationOrigin: DestinationOrigin,
		EventTriggers:     []attribution.EventTriggerData{{Data: 1}},
	}}
}

// NewAggregatableTrigger starts a trigger with only aggregatable data: one
// contribution of value to the source key "key".
func NewAggregatableTrigger(value uint32) *TriggerBuilder {
	b := NewTrigger()
	b.t.EventTriggers = nil
	return b.Aggregatable(value)
}

// Aggregatable adds a contribution of value to the source key "key".
func (b *TriggerBuilder) Aggregatable(value uint32) *TriggerBuilder {
	b.t.AggregatableTriggerData = []attribution.AggregatableTriggerData{{
		KeyPiece:   attribution.Uint128{Hi: 1},
		SourceKeys: []string{"key"},
	}}
	b.t.AggregatableValues = []attribution.AggregatableValues{{
		Values: map[string]attribution.AggregatableValue{"key": {Value: value}},
	}}
	return b
}

func (b *TriggerBuilder) Data(d uint64) *TriggerBuilder {
	b.ensureEvent()
	b.t.EventTriggers[0].Data = d
	return b
}

func (b *TriggerBuilder) Priority(p int64) *TriggerBuilder {
	b.ensureEvent()
	b.t.EventTriggers[0].Priority = p
	return b
}

func (b *TriggerBuilder) DedupKey(k uint64) *TriggerBuilder {
	b.ensureEvent()
	b.t.EventTriggers[0].DedupKey = &k
	return b
}

func (b *TriggerBuilder) AggregatableDedupKey(k uint64) *TriggerBuilder {
	b.t.AggregatableDedupKeys = []attribution.AggregatableDedupKey{{DedupKey: &k}}
	return b
}

func (b *TriggerBuilder) Filters(p attribution.FilterPair) *TriggerBuilder {
	b.t.Filters = p
	return b
}

func (b *TriggerBuilder) ReportingOrigin(o attribution.Origin) *TriggerBuilder {
	b.t.ReportingOrigin = o
	return b
}

func (b *TriggerBuilder) DestinationOrigin(o attribution.Origin) *TriggerBuilder {
	b.t.DestinationOrigin = o
	return b
}

func (b *TriggerBuilder) SourceRegistrationTime(c attribution.SourceRegistrationTimeConfig) *TriggerBuilder {
	b.t.SourceRegistrationTimeConfig = c
	return b
}

func (b *TriggerBuilder) TriggerContextID(id string) *TriggerBuilder {
	b.t.TriggerContextID = id
	return b
}

// Build returns a copy of the trigger.
func (b *TriggerBuilder) Build() attribution.Trigger {
	t := b.t
	t.EventTriggers = append([]attribution.EventTriggerData(nil), b.t.EventTriggers...)
	return t
}

func (b *TriggerBuilder) ensureEvent() {
	if len(b.t.EventTriggers) == 0 {
		b.t.EventTriggers = []attribution.EventTriggerData{{}}
	}
}
