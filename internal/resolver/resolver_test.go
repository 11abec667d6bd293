package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/noise"
	"github.com/arter97/chromium-tesla-sub003/internal/store"
	"github.com/arter97/chromium-tesla-sub003/internal/testutil"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// farFuture is later than any report a test schedules.
var farFuture = testStart.Add(365 * 24 * time.Hour)

type fixture struct {
	r        *Resolver
	store    *store.Store
	clock    *testutil.FakeClock
	delegate *testutil.Delegate
}

// newFixture opens a resolver over a fresh database with a fake clock, a
// scripted delegate, sequential report IDs and truthful noise. mutate may
// adjust the default policy; opts override the test doubles.
func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "attribution.db"))
	require.NoError(t, err)

	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		store:    s,
		clock:    testutil.NewFakeClock(testStart),
		delegate: testutil.NewDelegate(),
	}
	base := []Option{
		WithClock(f.clock),
		WithDelegate(f.delegate),
		WithNoise(noise.Fixed{}),
		WithReportIDGenerator(testutil.NewSequenceGenerator("")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	f.r, err = New(s, cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { f.r.Close() })
	return f
}

func (f *fixture) storeSource(t *testing.T, b *testutil.SourceBuilder) attribution.StoreSourceResult {
	t.Helper()
	res, err := f.r.StoreSource(context.Background(), b.Build())
	require.NoError(t, err)
	return res
}

func (f *fixture) trigger(t *testing.T, b *testutil.TriggerBuilder) attribution.CreateReportResult {
	t.Helper()
	res, err := f.r.MaybeCreateAndStoreReport(context.Background(), b.Build())
	require.NoError(t, err)
	return res
}

func (f *fixture) allReports(t *testing.T) []*attribution.Report {
	t.Helper()
	reports, err := f.r.GetAttributionReports(context.Background(), farFuture, -1)
	require.NoError(t, err)
	return reports
}

func reportsOfType(reports []*attribution.Report, typ attribution.ReportType) []*attribution.Report {
	out := []*attribution.Report{}
	for _, r := range reports {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestStoreSource_Success(t *testing.T) {
	f := newFixture(t, nil)

	res := f.storeSource(t, testutil.NewSource(testStart))
	assert.Equal(t, attribution.StoreSourceSuccess, res.Status)
	assert.Equal(t, attribution.SourceID(1), res.SourceID)
	assert.False(t, res.IsNoised)
	assert.Nil(t, res.MinFakeReportTime)

	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	got := sources[0]
	assert.Equal(t, attribution.ActiveStateActive, got.ActiveState)
	assert.Equal(t, attribution.AttributionLogicTruthful, got.AttributionLogic)
	assert.Equal(t, int64(65536), got.RemainingAggregatableAttributionBudget)
	assert.True(t, got.ExpiryTime.Equal(testStart.Add(30*24*time.Hour)))
}

func TestStoreSource_ZeroSourceTimeUsesClock(t *testing.T) {
	f := newFixture(t, nil)
	f.clock.Set(testStart.Add(time.Hour))

	f.storeSource(t, testutil.NewSource(time.Time{}))

	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.True(t, sources[0].SourceTime.Equal(testStart.Add(time.Hour)))
}

func TestStoreSource_InvalidRegistration(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.r.StoreSource(context.Background(), testutil.NewSource(testStart).Destinations().Build())
	assert.Equal(t, attribution.StoreSourceInternalError, res.Status)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrCodeInvalidSource, rerr.Code)
}

func TestStoreSource_DebugBudgetAboveTotal(t *testing.T) {
	f := newFixture(t, nil)

	res := f.storeSource(t, testutil.NewSource(testStart).DebugBudget(65537))
	assert.Equal(t, attribution.StoreSourceInternalError, res.Status)
}

func TestStoreSource_DebugBudgetSplit(t *testing.T) {
	f := newFixture(t, nil)

	f.storeSource(t, testutil.NewSource(testStart).DebugBudget(1000))

	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, int64(64536), sources[0].RemainingAggregatableAttributionBudget)
	assert.Equal(t, int64(1000), sources[0].RemainingAggregatableDebugBudget)
}

func TestStoreSource_Limits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		first  *testutil.SourceBuilder
		second *testutil.SourceBuilder
		status attribution.StoreSourceStatus
		limit  int64
	}{
		{
			name:   "source capacity",
			mutate: func(c *config.Config) { c.MaxSourcesPerOrigin = 1 },
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart),
			status: attribution.StoreSourceInsufficientSourceCapacity,
			limit:  1,
		},
		{
			name:   "unique destination capacity",
			mutate: func(c *config.Config) { c.MaxDestinationsPerSourceSiteReportingSite = 1 },
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart).Destinations("https://other-shop.example"),
			status: attribution.StoreSourceInsufficientUniqueDestinationCapacity,
			limit:  1,
		},
		{
			name:   "destination throttle per reporting site",
			mutate: func(c *config.Config) { c.DestinationRateLimit.MaxPerReportingSite = 1 },
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart).Destinations("https://other-shop.example"),
			status: attribution.StoreSourceDestinationReportingLimitReached,
			limit:  1,
		},
		{
			name:   "destination throttle global",
			mutate: func(c *config.Config) { c.DestinationRateLimit.MaxTotal = 1 },
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart).ReportingOrigin("https://other-reporter.example").Destinations("https://other-shop.example"),
			status: attribution.StoreSourceDestinationGlobalLimitReached,
			limit:  1,
		},
		{
			name:   "reporting origins per site",
			mutate: nil,
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart).ReportingOrigin("https://a.report.example"),
			status: attribution.StoreSourceReportingOriginsPerSiteLimitReached,
			limit:  1,
		},
		{
			name:   "source registration reporting origins",
			mutate: func(c *config.Config) { c.RateLimit.MaxSourceRegistrationReportingOrigins = 1 },
			first:  testutil.NewSource(testStart),
			second: testutil.NewSource(testStart).ReportingOrigin("https://other-reporter.example"),
			status: attribution.StoreSourceExcessiveReportingOrigins,
			limit:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)

			first := f.storeSource(t, tt.first)
			require.Equal(t, attribution.StoreSourceSuccess, first.Status)

			res := f.storeSource(t, tt.second)
			assert.Equal(t, tt.status, res.Status)
			require.NotNil(t, res.Limit)
			assert.Equal(t, tt.limit, *res.Limit)
			assert.Zero(t, res.SourceID)
		})
	}
}

func TestStoreSource_SameReportingOriginAlwaysAllowed(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.RateLimit.MaxSourceRegistrationReportingOrigins = 1
	})

	for i := 0; i < 3; i++ {
		res := f.storeSource(t, testutil.NewSource(testStart))
		assert.Equal(t, attribution.StoreSourceSuccess, res.Status)
	}
}

func TestStoreSource_PrivacyBounds(t *testing.T) {
	t.Run("channel capacity", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.EventLevel.MaxNavigationInfoGain = 0.1 })
		res := f.storeSource(t, testutil.NewSource(testStart))
		assert.Equal(t, attribution.StoreSourceExceedsMaxChannelCapacity, res.Status)
	})

	t.Run("trigger state cardinality", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.EventLevel.MaxTriggerStateCardinality = 3 })
		res := f.storeSource(t, testutil.NewSource(testStart))
		assert.Equal(t, attribution.StoreSourceExceedsMaxTriggerStateCardinality, res.Status)
	})

	t.Run("event sources use their own bound", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.EventLevel.MaxNavigationInfoGain = 0.1 })
		res := f.storeSource(t, testutil.NewSource(testStart).Type(attribution.SourceTypeEvent))
		assert.Equal(t, attribution.StoreSourceSuccess, res.Status)
	})
}

func TestStoreSource_NeverAttributed(t *testing.T) {
	f := newFixture(t, nil, WithNoise(noise.Never()))

	res := f.storeSource(t, testutil.NewSource(testStart))
	assert.Equal(t, attribution.StoreSourceSuccessNoised, res.Status)
	assert.True(t, res.IsNoised)
	assert.Nil(t, res.MinFakeReportTime)

	trig := f.trigger(t, testutil.NewTrigger())
	assert.Equal(t, attribution.EventLevelNeverAttributedSource, trig.EventLevelStatus)
	assert.Empty(t, f.allReports(t))
}

func TestStoreSource_FalselyAttributed(t *testing.T) {
	f := newFixture(t, nil, WithNoise(noise.Falsely(
		noise.FakeReport{TriggerData: 3, WindowIndex: 1},
		noise.FakeReport{TriggerData: 5, WindowIndex: 0},
	)))

	first := f.storeSource(t, testutil.NewSource(testStart))
	require.Equal(t, attribution.StoreSourceSuccessNoised, first.Status)

	res := f.storeSource(t, testutil.NewSource(testStart).EventID(2))
	assert.Equal(t, attribution.StoreSourceSuccessNoised, res.Status)
	require.NotNil(t, res.MinFakeReportTime)
	assert.True(t, res.MinFakeReportTime.Equal(testStart.Add(2*24*time.Hour)))

	// The second falsely attributed source retires the first.
	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, res.SourceID, sources[0].ID)
	assert.Equal(t, attribution.ActiveStateReachedEventLevelAttributionLimit, sources[0].ActiveState)
	assert.Equal(t, 2, sources[0].NumAttributions)

	reports := f.allReports(t)
	require.Len(t, reports, 4)
	last := reports[len(reports)-1]
	assert.Equal(t, uint32(3), last.EventLevel.TriggerData)
	assert.True(t, last.ReportTime.Equal(testStart.Add(7*24*time.Hour)))
	assert.True(t, last.TriggerTime.Equal(last.ReportTime.Add(-time.Millisecond)))
	assert.Equal(t, testutil.SourceOrigin, last.ContextOrigin)

	trig := f.trigger(t, testutil.NewTrigger())
	assert.Equal(t, attribution.EventLevelFalselyAttributedSource, trig.EventLevelStatus)
	assert.Len(t, f.allReports(t), 4)
}

func TestDeleteExpiredSources(t *testing.T) {
	f := newFixture(t, nil)

	f.storeSource(t, testutil.NewSource(testStart).Expiry(24*time.Hour))
	f.storeSource(t, testutil.NewSource(testStart).Expiry(48*time.Hour))

	f.clock.Advance(36 * time.Hour)
	n, err := f.r.DeleteExpiredSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestDeleteExpiredSources_KeepsSourcesWithReports(t *testing.T) {
	f := newFixture(t, nil)

	f.storeSource(t, testutil.NewSource(testStart).Expiry(24*time.Hour))
	require.Equal(t, attribution.EventLevelSuccess, f.trigger(t, testutil.NewTrigger()).EventLevelStatus)

	f.clock.Advance(48 * time.Hour)
	n, err := f.r.DeleteExpiredSources(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetActiveSources_PurgesCorruptRows(t *testing.T) {
	f := newFixture(t, nil)

	good := f.storeSource(t, testutil.NewSource(testStart))
	bad := f.storeSource(t, testutil.NewSource(testStart))
	_, err := f.store.DB().Exec(`UPDATE sources SET metadata = 'not json' WHERE source_id = ?`, int64(bad.SourceID))
	require.NoError(t, err)

	sources, err := f.r.GetActiveSources(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, good.SourceID, sources[0].ID)

	var count int
	require.NoError(t, f.store.DB().Get(&count, `SELECT COUNT(*) FROM sources`))
	assert.Equal(t, 1, count)
}
