package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSource builds a normalized, active, truthful source.
func createTestSource(t *testing.T, reportingOrigin, destination string, at time.Time) *attribution.StoredSource {
	t.Helper()
	src := attribution.Source{
		SourceEventID:   1,
		SourceOrigin:    "https://publisher.example",
		ReportingOrigin: attribution.Origin(reportingOrigin),
		Destinations:    []attribution.Site{attribution.Site(destination)},
		SourceTime:      at,
		FilterData:      attribution.FilterData{"campaign": {"spring"}},
		AggregationKeys: map[string]attribution.Uint128{"a": {Lo: 0x159}},
	}
	require.NoError(t, src.Normalize())
	return &attribution.StoredSource{
		Source:                                 src,
		ExpiryTime:                             at.Add(src.Expiry.Std()),
		AggregatableReportWindowTime:           at.Add(src.AggregatableReportWindow.Std()),
		AttributionLogic:                       attribution.AttributionLogicTruthful,
		ActiveState:                            attribution.ActiveStateActive,
		RemainingAggregatableAttributionBudget: 65536,
		RemainingAggregatableDebugBudget:       0,
	}
}

// insertTestSource stores src in its own transaction.
func insertTestSource(t *testing.T, s *Store, src *attribution.StoredSource) attribution.SourceID {
	t.Helper()
	var id attribution.SourceID
	err := s.Update(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.InsertSource(context.Background(), src)
		return err
	})
	require.NoError(t, err)
	return id
}

// createTestEventReport builds an event-level report for src.
func createTestEventReport(src *attribution.StoredSource, priority int64, reportTime time.Time) *attribution.Report {
	return &attribution.Report{
		Type:              attribution.ReportTypeEventLevel,
		ExternalID:        "report",
		ContextOrigin:     "https://shop.example",
		ReportingOrigin:   src.ReportingOrigin,
		TriggerTime:       src.SourceTime.Add(time.Hour),
		ReportTime:        reportTime,
		InitialReportTime: reportTime,
		Source:            src,
		EventLevel:        &attribution.EventLevelData{TriggerData: 1, Priority: priority},
	}
}

// insertTestReport stores r in its own transaction.
func insertTestReport(t *testing.T, s *Store, r *attribution.Report) attribution.ReportID {
	t.Helper()
	var id attribution.ReportID
	err := s.Update(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.InsertReport(context.Background(), r)
		return err
	})
	require.NoError(t, err)
	return id
}
