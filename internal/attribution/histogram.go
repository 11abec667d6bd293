package attribution

import (
	"slices"
	"time"
)

// Contribution is one histogram bucket of an aggregatable report.
type Contribution struct {
	Key         Uint128 `json:"key" yaml:"key"`
	Value       uint32  `json:"value" yaml:"value"`
	FilteringID uint64  `json:"filtering_id,omitempty" yaml:"filtering_id,omitempty"`
}

// SumValues returns the total budget a set of contributions requires.
func SumValues(contributions []Contribution) int64 {
	var sum int64
	for _, c := range contributions {
		sum += int64(c.Value)
	}
	return sum
}

// BuildContributions combines a source's aggregation keys with a trigger's
// key pieces and values. Contributions come back sorted by key. An empty
// result means the trigger contributes nothing to this source.
func BuildContributions(src *StoredSource, t *Trigger, triggerTime time.Time) []Contribution {
	buckets := make(map[string]Uint128, len(src.AggregationKeys))
	for name, piece := range src.AggregationKeys {
		buckets[name] = piece
	}

	matches := func(p FilterPair) bool {
		return p.Matches(src.SourceType, src.FilterData, src.SourceTime, triggerTime)
	}

	for _, td := range t.AggregatableTriggerData {
		if !matches(td.Filters) {
			continue
		}
		for _, key := range td.SourceKeys {
			if piece, ok := buckets[key]; ok {
				buckets[key] = piece.Or(td.KeyPiece)
			}
		}
	}

	var values map[string]AggregatableValue
	for _, v := range t.AggregatableValues {
		if matches(v.Filters) {
			values = v.Values
			break
		}
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	contributions := []Contribution{}
	for _, name := range names {
		v := values[name]
		key, ok := buckets[name]
		if !ok {
			continue
		}
		contributions = append(contributions, Contribution{
			Key:         key,
			Value:       v.Value,
			FilteringID: v.FilteringID,
		})
	}
	slices.SortStableFunc(contributions, func(a, b Contribution) int {
		switch {
		case a.Key.Less(b.Key):
			return -1
		case b.Key.Less(a.Key):
			return 1
		}
		return 0
	})
	return contributions
}
