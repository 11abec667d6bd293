package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
	"github.com/arter97/chromium-tesla-sub003/internal/config"
	"github.com/arter97/chromium-tesla-sub003/internal/testutil"
)

// seedReports stores one source with an event-level report due at
// testStart+2d and an aggregatable report due at testStart+1h.
func seedReports(t *testing.T, f *fixture) (event, agg *attribution.Report) {
	t.Helper()
	f.storeSource(t, testutil.NewSource(testStart))
	res := f.trigger(t, testutil.NewTrigger().Aggregatable(10))
	require.Equal(t, attribution.EventLevelSuccess, res.EventLevelStatus)
	require.Equal(t, attribution.AggregatableSuccess, res.AggregatableStatus)
	return res.NewEventLevelReport, res.NewAggregatableReport
}

func TestGetAttributionReports_DueAndOrdered(t *testing.T) {
	f := newFixture(t, nil)
	event, agg := seedReports(t, f)

	due, err := f.r.GetAttributionReports(context.Background(), testStart.Add(time.Hour), -1)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, agg.ID, due[0].ID)

	all := f.allReports(t)
	require.Len(t, all, 2)
	assert.Equal(t, agg.ID, all[0].ID)
	assert.Equal(t, event.ID, all[1].ID)
}

func TestGetAttributionReports_ReadsAreIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	seedReports(t, f)

	first := f.allReports(t)
	second := f.allReports(t)
	assert.Equal(t, first, second)
}

func TestGetAttributionReports_LimitShuffles(t *testing.T) {
	f := newFixture(t, nil)
	event, agg := seedReports(t, f)

	page, err := f.r.GetAttributionReports(context.Background(), farFuture, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, event.ID, page[0].ID)
	assert.Equal(t, agg.ID, page[1].ID)

	page, err = f.r.GetAttributionReports(context.Background(), farFuture, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, agg.ID, page[0].ID)
}

func TestGetAttributionReports_PurgesCorruptReports(t *testing.T) {
	f := newFixture(t, nil)
	event, agg := seedReports(t, f)
	_, err := f.store.DB().Exec(`UPDATE reports SET priority = 99 WHERE report_id = ?`, int64(event.ID))
	require.NoError(t, err)

	reports := f.allReports(t)
	require.Len(t, reports, 1)
	assert.Equal(t, agg.ID, reports[0].ID)

	_, err = f.r.GetReport(context.Background(), event.ID)
	assert.True(t, IsNotFound(err))
}

func TestGetNextReportTime(t *testing.T) {
	f := newFixture(t, nil)
	seedReports(t, f)

	next, err := f.r.GetNextReportTime(context.Background(), testStart)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(testStart.Add(time.Hour)))

	next, err = f.r.GetNextReportTime(context.Background(), testStart.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(testStart.Add(2*24*time.Hour)))

	next, err = f.r.GetNextReportTime(context.Background(), testStart.Add(2*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestGetReport_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.r.GetReport(context.Background(), 42)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, ErrCodeNotFound, rerr.Code)
	assert.True(t, IsNotFound(err))
}

func TestDeleteReport(t *testing.T) {
	f := newFixture(t, nil)
	event, _ := seedReports(t, f)

	ok, err := f.r.DeleteReport(context.Background(), event.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.r.DeleteReport(context.Background(), event.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, f.allReports(t), 1)
}

func TestUpdateReportForSendFailure(t *testing.T) {
	f := newFixture(t, nil)
	_, agg := seedReports(t, f)

	retry := testStart.Add(5 * time.Hour)
	ok, err := f.r.UpdateReportForSendFailure(context.Background(), agg.ID, retry)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := f.r.GetReport(context.Background(), agg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedSendAttempts)
	assert.True(t, got.ReportTime.Equal(retry))
	assert.True(t, got.InitialReportTime.Equal(agg.InitialReportTime))

	ok, err = f.r.UpdateReportForSendFailure(context.Background(), 999, retry)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdjustOfflineReportTimes(t *testing.T) {
	t.Run("moves overdue reports", func(t *testing.T) {
		f := newFixture(t, nil)
		f.delegate.OfflineDelay = 30 * time.Second
		seedReports(t, f)

		f.clock.Set(testStart.Add(3 * time.Hour))
		next, err := f.r.AdjustOfflineReportTimes(context.Background())
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.True(t, next.Equal(testStart.Add(3*time.Hour+30*time.Second)))

		reports := f.allReports(t)
		require.Len(t, reports, 2)
		assert.True(t, reports[1].ReportTime.Equal(testStart.Add(2*24*time.Hour)))
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, func(c *config.Config) { c.OfflineReportDelay = nil })
		seedReports(t, f)

		f.clock.Set(testStart.Add(3 * time.Hour))
		next, err := f.r.AdjustOfflineReportTimes(context.Background())
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.True(t, next.Equal(testStart.Add(time.Hour)))
	})

	t.Run("empty store", func(t *testing.T) {
		f := newFixture(t, nil)
		next, err := f.r.AdjustOfflineReportTimes(context.Background())
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}

func TestVerifyReports(t *testing.T) {
	f := newFixture(t, nil)
	event, _ := seedReports(t, f)
	other := f.storeSource(t, testutil.NewSource(testStart).EventID(2).Destinations("https://other-shop.example"))
	res := f.trigger(t, testutil.NewTrigger().DestinationOrigin("https://other-shop.example").Aggregatable(10))
	require.Equal(t, attribution.EventLevelSuccess, res.EventLevelStatus)

	counts, err := f.r.VerifyReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, attribution.DeletionCounts{}, counts)

	_, err = f.store.DB().Exec(`UPDATE reports SET priority = 99 WHERE report_id = ?`, int64(event.ID))
	require.NoError(t, err)
	_, err = f.store.DB().Exec(`UPDATE sources SET attribution_logic = 'sometimes' WHERE source_id = ?`, int64(other.SourceID))
	require.NoError(t, err)

	counts, err = f.r.VerifyReports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, attribution.DeletionCounts{Sources: 1, Reports: 3}, counts)

	reports := f.allReports(t)
	require.Len(t, reports, 1)
	assert.Equal(t, attribution.ReportTypeAggregatable, reports[0].Type)
}
