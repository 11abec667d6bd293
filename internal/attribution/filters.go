package attribution

import (
	"slices"
	"time"
)

// SourceTypeFilterKey is implicitly present in every source's filter data.
const SourceTypeFilterKey = "source_type"

// FilterData maps a filter key to the values a source carries for it.
type FilterData map[string][]string

// FilterConfig is one disjunct of a filter list. A nil Lookback means the
// config does not constrain source age.
type FilterConfig struct {
	Values   map[string][]string `json:"values,omitempty" yaml:"values,omitempty"`
	Lookback *Duration           `json:"lookback_window,omitempty" yaml:"lookback_window,omitempty"`
}

// FilterPair holds positive and negative filter lists. Each list is an OR
// over its configs; an empty list always matches.
type FilterPair struct {
	Positive []FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`
	Negative []FilterConfig `json:"not_filters,omitempty" yaml:"not_filters,omitempty"`
}

// IsEmpty reports whether the pair places no constraint on sources.
func (p FilterPair) IsEmpty() bool {
	return len(p.Positive) == 0 && len(p.Negative) == 0
}

// Matches evaluates the pair against a source's filter data. The source's
// type is visible under SourceTypeFilterKey, and lookback windows compare
// against triggerTime - sourceTime.
func (p FilterPair) Matches(sourceType SourceType, data FilterData, sourceTime, triggerTime time.Time) bool {
	m := filterMatcher{
		sourceType: sourceType,
		data:       data,
		elapsed:    triggerTime.Sub(sourceTime),
	}
	return m.matchesAny(p.Positive, false) && m.matchesAny(p.Negative, true)
}

type filterMatcher struct {
	sourceType SourceType
	data       FilterData
	elapsed    time.Duration
}

func (m filterMatcher) lookup(key string) ([]string, bool) {
	if key == SourceTypeFilterKey {
		return []string{string(m.sourceType)}, true
	}
	v, ok := m.data[key]
	return v, ok
}

func (m filterMatcher) matchesAny(configs []FilterConfig, negated bool) bool {
	if len(configs) == 0 {
		return true
	}
	for _, c := range configs {
		if m.matches(c, negated) {
			return true
		}
	}
	return false
}

func (m filterMatcher) matches(c FilterConfig, negated bool) bool {
	if c.Lookback != nil {
		within := m.elapsed <= c.Lookback.Std()
		if within == negated {
			return false
		}
	}
	for key, want := range c.Values {
		have, ok := m.lookup(key)
		if !ok {
			continue
		}
		var intersects bool
		if len(want) == 0 {
			intersects = len(have) == 0
		} else {
			intersects = slices.ContainsFunc(want, func(v string) bool {
				return slices.Contains(have, v)
			})
		}
		if negated == intersects {
			return false
		}
	}
	return true
}
