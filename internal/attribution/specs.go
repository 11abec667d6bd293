package attribution

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// SourceType distinguishes clicks from views.
type SourceType string

const (
	SourceTypeNavigation SourceType = "navigation"
	SourceTypeEvent      SourceType = "event"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourceTypeNavigation || t == SourceTypeEvent
}

// TriggerDataMatching controls how trigger data is mapped onto a source's
// allowed values.
type TriggerDataMatching string

const (
	TriggerDataMatchingModulus TriggerDataMatching = "modulus"
	TriggerDataMatchingExact   TriggerDataMatching = "exact"
)

const (
	MinSourceExpiry = 24 * time.Hour
	MaxSourceExpiry = 30 * 24 * time.Hour

	defaultNavigationMaxReports = 3
	defaultEventMaxReports      = 1
)

var defaultNavigationEarlyWindows = []time.Duration{2 * 24 * time.Hour, 7 * 24 * time.Hour}

// EventReportWindows describes when event-level reports for a source may be
// created, relative to source time. Ends are strictly increasing.
type EventReportWindows struct {
	Start Duration   `json:"start_time" yaml:"start_time"`
	Ends  []Duration `json:"end_times" yaml:"end_times"`
}

// WindowStatus classifies a trigger's offset from source time.
type WindowStatus int

const (
	WindowFallsWithin WindowStatus = iota
	WindowNotStarted
	WindowPassed
)

// Validate checks the start precedes every end and ends increase.
func (w EventReportWindows) Validate() error {
	if len(w.Ends) == 0 {
		return errors.New("report windows: no end times")
	}
	if w.Start < 0 {
		return errors.New("report windows: negative start time")
	}
	prev := w.Start
	for i, end := range w.Ends {
		if end <= prev {
			return fmt.Errorf("report windows: end %d (%s) not after %s", i, end, prev)
		}
		prev = end
	}
	return nil
}

// Status returns where elapsed falls relative to the windows.
func (w EventReportWindows) Status(elapsed time.Duration) WindowStatus {
	if elapsed < w.Start.Std() {
		return WindowNotStarted
	}
	if elapsed >= w.Ends[len(w.Ends)-1].Std() {
		return WindowPassed
	}
	return WindowFallsWithin
}

// ReportTime returns source time plus the end of the first window that
// closes after the trigger.
func (w EventReportWindows) ReportTime(sourceTime, triggerTime time.Time) time.Time {
	elapsed := triggerTime.Sub(sourceTime)
	for _, end := range w.Ends {
		if end.Std() > elapsed {
			return sourceTime.Add(end.Std())
		}
	}
	return sourceTime.Add(w.Ends[len(w.Ends)-1].Std())
}

// ReportTimeAtWindow returns the report time of the window at index i.
func (w EventReportWindows) ReportTimeAtWindow(sourceTime time.Time, i int) time.Time {
	return sourceTime.Add(w.Ends[i].Std())
}

// DefaultReportWindows builds the default windows for a source type.
// Navigation windows close at 2 and 7 days when those precede expiry.
func DefaultReportWindows(t SourceType, expiry time.Duration) EventReportWindows {
	var ends []Duration
	if t == SourceTypeNavigation {
		for _, early := range defaultNavigationEarlyWindows {
			if early < expiry {
				ends = append(ends, Duration(early))
			}
		}
	}
	ends = append(ends, Duration(expiry))
	return EventReportWindows{Ends: ends}
}

// TriggerSpec maps a set of trigger data values onto report windows.
type TriggerSpec struct {
	TriggerData []uint32           `json:"trigger_data" yaml:"trigger_data"`
	Windows     EventReportWindows `json:"event_report_windows" yaml:"event_report_windows"`
}

// TriggerSpecs is the event-level configuration of a source.
type TriggerSpecs struct {
	Specs                []TriggerSpec       `json:"specs" yaml:"specs"`
	Matching             TriggerDataMatching `json:"trigger_data_matching" yaml:"trigger_data_matching"`
	MaxEventLevelReports int                 `json:"max_event_level_reports" yaml:"max_event_level_reports"`
}

// DefaultTriggerSpecs returns the configuration used when a registration
// leaves event-level settings unspecified.
func DefaultTriggerSpecs(t SourceType, expiry time.Duration) TriggerSpecs {
	n := uint32(8)
	maxReports := defaultNavigationMaxReports
	if t == SourceTypeEvent {
		n = 2
		maxReports = defaultEventMaxReports
	}
	data := make([]uint32, n)
	for i := range data {
		data[i] = uint32(i)
	}
	return TriggerSpecs{
		Specs: []TriggerSpec{{
			TriggerData: data,
			Windows:     DefaultReportWindows(t, expiry),
		}},
		Matching:             TriggerDataMatchingModulus,
		MaxEventLevelReports: maxReports,
	}
}

// Single returns the lone spec. Multiple specs are not supported and
// callers treat them as an internal error.
func (s TriggerSpecs) Single() (TriggerSpec, error) {
	switch len(s.Specs) {
	case 0:
		return TriggerSpec{}, errors.New("trigger specs: empty")
	case 1:
		return s.Specs[0], nil
	default:
		return TriggerSpec{}, fmt.Errorf("trigger specs: %d specs, want 1", len(s.Specs))
	}
}

// Cardinality is the number of distinct trigger data values.
func (s TriggerSpecs) Cardinality() int {
	n := 0
	for _, spec := range s.Specs {
		n += len(spec.TriggerData)
	}
	return n
}

// SortedTriggerData returns all trigger data values in ascending order.
func (s TriggerSpecs) SortedTriggerData() []uint32 {
	out := make([]uint32, 0, s.Cardinality())
	for _, spec := range s.Specs {
		out = append(out, spec.TriggerData...)
	}
	slices.Sort(out)
	return out
}

// Find maps trigger data onto the spec that reports it. ok is false when
// exact matching finds no such value.
func (s TriggerSpecs) Find(data uint64) (value uint32, spec TriggerSpec, ok bool) {
	sorted := s.SortedTriggerData()
	if len(sorted) == 0 {
		return 0, TriggerSpec{}, false
	}
	switch s.Matching {
	case TriggerDataMatchingExact:
		if data > uint64(^uint32(0)) {
			return 0, TriggerSpec{}, false
		}
		value = uint32(data)
		if !slices.Contains(sorted, value) {
			return 0, TriggerSpec{}, false
		}
	default:
		value = sorted[data%uint64(len(sorted))]
	}
	for _, sp := range s.Specs {
		if slices.Contains(sp.TriggerData, value) {
			return value, sp, true
		}
	}
	return 0, TriggerSpec{}, false
}

// Validate checks windows, report counts and trigger data uniqueness.
func (s TriggerSpecs) Validate() error {
	if s.Matching != TriggerDataMatchingModulus && s.Matching != TriggerDataMatchingExact {
		return fmt.Errorf("trigger specs: unknown trigger data matching %q", s.Matching)
	}
	if s.MaxEventLevelReports < 0 {
		return fmt.Errorf("trigger specs: negative max_event_level_reports %d", s.MaxEventLevelReports)
	}
	seen := make(map[uint32]bool)
	for i, spec := range s.Specs {
		if err := spec.Windows.Validate(); err != nil {
			return fmt.Errorf("spec %d: %w", i, err)
		}
		for _, d := range spec.TriggerData {
			if seen[d] {
				return fmt.Errorf("spec %d: duplicate trigger data %d", i, d)
			}
			seen[d] = true
		}
	}
	if s.Matching == TriggerDataMatchingModulus {
		sorted := s.SortedTriggerData()
		for i, d := range sorted {
			if d != uint32(i) {
				return errors.New("trigger specs: modulus matching requires contiguous trigger data from 0")
			}
		}
	}
	return nil
}
