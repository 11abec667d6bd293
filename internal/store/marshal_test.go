package store

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

func TestEncodeTime_ZeroSortsFirst(t *testing.T) {
	assert.Equal(t, int64(math.MinInt64), encodeTime(time.Time{}))
	assert.True(t, decodeTime(math.MinInt64).IsZero())
	assert.Less(t, encodeTime(time.Time{}), encodeTime(time.Unix(0, 0)))
}

func TestEncodeTime_MicrosecondPrecision(t *testing.T) {
	in := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	out := decodeTime(encodeTime(in))
	assert.True(t, out.Equal(in.Truncate(time.Microsecond)))
	assert.Equal(t, time.UTC, out.Location())
}

func TestEncodeUint64_BitCast(t *testing.T) {
	for _, v := range []uint64{0, 1, math.MaxInt64, math.MaxInt64 + 1, math.MaxUint64} {
		assert.Equal(t, v, decodeUint64(encodeUint64(v)))
	}
	assert.Nil(t, decodeOptionalUint64(encodeOptionalUint64(nil)))
}

func TestMarshalMetadata_Canonical(t *testing.T) {
	a, err := marshalMetadata(map[string]any{"b": 1, "a": []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"b":1}`, a)
}

func TestEncodeReport_RejectsMissingPayload(t *testing.T) {
	_, err := encodeReport(&attribution.Report{Type: attribution.ReportTypeEventLevel})
	assert.Error(t, err)

	_, err = encodeReport(&attribution.Report{Type: attribution.ReportTypeAggregatable})
	assert.Error(t, err)

	_, err = encodeReport(&attribution.Report{Type: "bogus"})
	assert.Error(t, err)
}

func TestDecodeSource_RejectsInvalidRows(t *testing.T) {
	src := createTestSource(t, "https://reporter.example", "https://shop.example", testNow)
	row, err := encodeSource(src)
	require.NoError(t, err)
	dests := []attribution.Site{"https://shop.example"}

	_, err = decodeSource(row, dests)
	require.NoError(t, err)

	_, err = decodeSource(row, nil)
	assert.True(t, IsCorruptionError(err))

	negative := row
	negative.RemainingAggregatableAttributionBudget = -1
	_, err = decodeSource(negative, dests)
	assert.True(t, IsCorruptionError(err))

	badType := row
	badType.SourceType = "app"
	_, err = decodeSource(badType, dests)
	assert.True(t, IsCorruptionError(err))
}
