package attribution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func lookback(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

func TestFilterPairMatches(t *testing.T) {
	sourceTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	triggerTime := sourceTime.Add(time.Hour)

	tests := []struct {
		name   string
		data   FilterData
		filter FilterPair
		want   bool
	}{
		{
			name: "empty pair matches",
			data: FilterData{"a": {"1"}},
			want: true,
		},
		{
			name:   "key absent from source is ignored",
			data:   FilterData{},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{"a": {"1"}}}}},
			want:   true,
		},
		{
			name:   "intersecting values match",
			data:   FilterData{"a": {"1", "2"}},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{"a": {"2", "3"}}}}},
			want:   true,
		},
		{
			name:   "disjoint values fail",
			data:   FilterData{"a": {"1"}},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{"a": {"2"}}}}},
			want:   false,
		},
		{
			name:   "empty filter values match empty source values",
			data:   FilterData{"a": {}},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{"a": {}}}}},
			want:   true,
		},
		{
			name:   "empty filter values fail non-empty source values",
			data:   FilterData{"a": {"1"}},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{"a": {}}}}},
			want:   false,
		},
		{
			name: "positive list is an OR",
			data: FilterData{"a": {"1"}},
			filter: FilterPair{Positive: []FilterConfig{
				{Values: map[string][]string{"a": {"2"}}},
				{Values: map[string][]string{"a": {"1"}}},
			}},
			want: true,
		},
		{
			name:   "negated intersecting values fail",
			data:   FilterData{"a": {"1"}},
			filter: FilterPair{Negative: []FilterConfig{{Values: map[string][]string{"a": {"1"}}}}},
			want:   false,
		},
		{
			name:   "negated disjoint values match",
			data:   FilterData{"a": {"1"}},
			filter: FilterPair{Negative: []FilterConfig{{Values: map[string][]string{"a": {"2"}}}}},
			want:   true,
		},
		{
			name:   "source type is implicit",
			data:   FilterData{},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{SourceTypeFilterKey: {"event"}}}}},
			want:   false,
		},
		{
			name:   "source type matches navigation",
			data:   FilterData{},
			filter: FilterPair{Positive: []FilterConfig{{Values: map[string][]string{SourceTypeFilterKey: {"navigation"}}}}},
			want:   true,
		},
		{
			name:   "lookback covering elapsed time matches",
			filter: FilterPair{Positive: []FilterConfig{{Lookback: lookback(time.Hour)}}},
			want:   true,
		},
		{
			name:   "lookback shorter than elapsed time fails",
			filter: FilterPair{Positive: []FilterConfig{{Lookback: lookback(time.Hour - time.Microsecond)}}},
			want:   false,
		},
		{
			name:   "negated lookback covering elapsed time fails",
			filter: FilterPair{Negative: []FilterConfig{{Lookback: lookback(2 * time.Hour)}}},
			want:   false,
		},
		{
			name:   "negated lookback shorter than elapsed time matches",
			filter: FilterPair{Negative: []FilterConfig{{Lookback: lookback(time.Minute)}}},
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Matches(SourceTypeNavigation, tt.data, sourceTime, triggerTime)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterPairIsEmpty(t *testing.T) {
	assert.True(t, FilterPair{}.IsEmpty())
	assert.False(t, FilterPair{Negative: []FilterConfig{{}}}.IsEmpty())
}
