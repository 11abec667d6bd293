package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

const reportColumns = `
	report_id, report_type, source_id, external_report_id, trigger_time, report_time,
	initial_report_time, failed_send_attempts, context_origin, context_site,
	reporting_origin, trigger_debug_key, priority, metadata`

// ReportRef is the minimal identity of a report used by data clearing.
type ReportRef struct {
	ID              attribution.ReportID   `db:"report_id"`
	Type            attribution.ReportType `db:"report_type"`
	SourceID        sql.NullInt64          `db:"source_id"`
	ReportingOrigin attribution.Origin     `db:"reporting_origin"`
}

// InsertReport writes a report. The assigned ID is returned and also set
// on r.
func (t *Tx) InsertReport(ctx context.Context, r *attribution.Report) (attribution.ReportID, error) {
	row, err := encodeReport(r)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	res, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO reports (
			report_type, source_id, external_report_id, trigger_time, report_time,
			initial_report_time, failed_send_attempts, context_origin, context_site,
			reporting_origin, trigger_debug_key, priority, metadata
		) VALUES (
			:report_type, :source_id, :external_report_id, :trigger_time, :report_time,
			:initial_report_time, :failed_send_attempts, :context_origin, :context_site,
			:reporting_origin, :trigger_debug_key, :priority, :metadata
		)`, row)
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	r.ID = attribution.ReportID(id)
	return r.ID, nil
}

// GetReport loads one report with its source. Returns ErrNotFound if
// absent and a CorruptionError if the report or its source is undecodable.
func (t *Tx) GetReport(ctx context.Context, id attribution.ReportID) (*attribution.Report, error) {
	var row reportRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+reportColumns+` FROM reports WHERE report_id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get report %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get report %d: %w", id, err)
	}
	reports, corrupt, err := t.hydrateReports(ctx, []reportRow{row})
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		return nil, corrupt[0]
	}
	return reports[0], nil
}

// ReportsDue returns reports with report_time <= maxReportTime ordered by
// report time then ID, up to limit (negative for all).
func (t *Tx) ReportsDue(ctx context.Context, maxReportTime time.Time, limit int) ([]*attribution.Report, []*CorruptionError, error) {
	var rows []reportRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+reportColumns+` FROM reports
		WHERE report_time <= ?
		ORDER BY report_time ASC, report_id ASC
		LIMIT ?`, encodeTime(maxReportTime), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query due reports: %w", err)
	}
	return t.hydrateReports(ctx, rows)
}

// hydrateReports attaches sources and decodes rows. A report whose source
// is missing or corrupt is itself reported corrupt.
func (t *Tx) hydrateReports(ctx context.Context, rows []reportRow) ([]*attribution.Report, []*CorruptionError, error) {
	reports := []*attribution.Report{}
	corrupt := []*CorruptionError{}
	if len(rows) == 0 {
		return reports, corrupt, nil
	}

	seen := make(map[int64]bool)
	ids := []int64{}
	for _, r := range rows {
		if r.SourceID.Valid && !seen[r.SourceID.Int64] {
			seen[r.SourceID.Int64] = true
			ids = append(ids, r.SourceID.Int64)
		}
	}

	sources := make(map[int64]*attribution.StoredSource)
	if len(ids) > 0 {
		var srcRows []sourceRow
		if err := t.selectIn(ctx, &srcRows, `SELECT `+sourceColumns+` FROM sources s WHERE s.source_id IN (?)`, ids); err != nil {
			return nil, nil, fmt.Errorf("query report sources: %w", err)
		}
		decoded, _, err := t.hydrateSources(ctx, srcRows)
		if err != nil {
			return nil, nil, err
		}
		for _, s := range decoded {
			sources[int64(s.ID)] = s
		}
	}

	for _, row := range rows {
		var src *attribution.StoredSource
		if row.SourceID.Valid {
			src = sources[row.SourceID.Int64]
			if src == nil {
				corrupt = append(corrupt, corruptReport(row.ReportID, "source %d missing or corrupt", row.SourceID.Int64))
				continue
			}
		}
		r, err := decodeReport(row, src)
		if err != nil {
			ce, ok := AsCorruptionError(err)
			if !ok {
				return nil, nil, err
			}
			corrupt = append(corrupt, ce)
			continue
		}
		reports = append(reports, r)
	}
	return reports, corrupt, nil
}

// NextReportTime returns the earliest report time strictly after after,
// or nil if there is none.
func (t *Tx) NextReportTime(ctx context.Context, after time.Time) (*time.Time, error) {
	var v sql.NullInt64
	err := t.tx.GetContext(ctx, &v, `SELECT MIN(report_time) FROM reports WHERE report_time > ?`, encodeTime(after))
	if err != nil {
		return nil, fmt.Errorf("query next report time: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	next := decodeTime(v.Int64)
	return &next, nil
}

// DeleteReport removes a report. Returns false if it did not exist.
func (t *Tx) DeleteReport(ctx context.Context, id attribution.ReportID) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM reports WHERE report_id = ?`, int64(id))
	if err != nil {
		return false, fmt.Errorf("delete report %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete report %d: %w", id, err)
	}
	return n > 0, nil
}

// DeleteReports removes reports by ID and returns how many existed.
func (t *Tx) DeleteReports(ctx context.Context, ids []attribution.ReportID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]int64, len(ids))
	for i, id := range ids {
		args[i] = int64(id)
	}
	n, err := t.execIn(ctx, `DELETE FROM reports WHERE report_id IN (?)`, args)
	if err != nil {
		return 0, fmt.Errorf("delete reports: %w", err)
	}
	return int(n), nil
}

// DeleteReportsForSources removes every report attributed to the sources.
func (t *Tx) DeleteReportsForSources(ctx context.Context, ids []attribution.SourceID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := t.execIn(ctx, `DELETE FROM reports WHERE source_id IN (?)`, sourceIDArgs(ids))
	if err != nil {
		return 0, fmt.Errorf("delete reports for sources: %w", err)
	}
	return int(n), nil
}

// UpdateReportForSendFailure reschedules a report and increments its
// failed send attempts. Returns false if the report does not exist.
func (t *Tx) UpdateReportForSendFailure(ctx context.Context, id attribution.ReportID, newReportTime time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE reports
		SET report_time = ?, failed_send_attempts = failed_send_attempts + 1
		WHERE report_id = ?`, encodeTime(newReportTime), int64(id))
	if err != nil {
		return false, fmt.Errorf("update report %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update report %d: %w", id, err)
	}
	return n > 0, nil
}

// OverdueReportIDs lists reports whose report time is strictly before now.
func (t *Tx) OverdueReportIDs(ctx context.Context, now time.Time) ([]attribution.ReportID, error) {
	ids := []attribution.ReportID{}
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT report_id FROM reports WHERE report_time < ? ORDER BY report_id`, encodeTime(now))
	if err != nil {
		return nil, fmt.Errorf("query overdue reports: %w", err)
	}
	return ids, nil
}

// SetReportTime moves a report without touching its failure count.
func (t *Tx) SetReportTime(ctx context.Context, id attribution.ReportID, reportTime time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE reports SET report_time = ? WHERE report_id = ?`, encodeTime(reportTime), int64(id))
	if err != nil {
		return fmt.Errorf("set report time %d: %w", id, err)
	}
	return nil
}

// CountReportsForDestination counts stored reports of typ whose trigger
// was registered on destination.
func (t *Tx) CountReportsForDestination(ctx context.Context, typ attribution.ReportType, destination attribution.Site) (int64, error) {
	var n int64
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM reports WHERE context_site = ? AND report_type = ?`,
		string(destination), string(typ))
	if err != nil {
		return 0, fmt.Errorf("count reports for destination: %w", err)
	}
	return n, nil
}

// LowestPriorityEventLevelReport returns the event-level report of a source
// sharing initialReportTime with the lowest priority; among equal
// priorities the most recently stored wins. Returns nil if there is none.
func (t *Tx) LowestPriorityEventLevelReport(ctx context.Context, id attribution.SourceID, initialReportTime time.Time) (*attribution.Report, error) {
	var reportID int64
	err := t.tx.GetContext(ctx, &reportID, `
		SELECT report_id FROM reports
		WHERE source_id = ? AND report_type = ? AND initial_report_time = ?
		ORDER BY priority ASC, report_id DESC
		LIMIT 1`,
		int64(id), string(attribution.ReportTypeEventLevel), encodeTime(initialReportTime))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query lowest priority report: %w", err)
	}
	return t.GetReport(ctx, attribution.ReportID(reportID))
}

// ReportsTriggeredBetween lists reports with begin <= trigger_time <= end.
func (t *Tx) ReportsTriggeredBetween(ctx context.Context, begin, end time.Time) ([]ReportRef, error) {
	refs := []ReportRef{}
	err := t.tx.SelectContext(ctx, &refs, `
		SELECT report_id, report_type, source_id, reporting_origin FROM reports
		WHERE trigger_time BETWEEN ? AND ?
		ORDER BY report_id`, encodeTime(begin), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("query reports in range: %w", err)
	}
	return refs, nil
}

// AllReports returns every stored report decoded, with undecodable ones
// separated out.
func (t *Tx) AllReports(ctx context.Context) ([]*attribution.Report, []*CorruptionError, error) {
	var rows []reportRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+reportColumns+` FROM reports ORDER BY report_id`); err != nil {
		return nil, nil, fmt.Errorf("query reports: %w", err)
	}
	return t.hydrateReports(ctx, rows)
}

// AllSources returns every stored source decoded, with undecodable ones
// separated out.
func (t *Tx) AllSources(ctx context.Context) ([]*attribution.StoredSource, []*CorruptionError, error) {
	var rows []sourceRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+sourceColumns+` FROM sources s ORDER BY s.source_id`); err != nil {
		return nil, nil, fmt.Errorf("query sources: %w", err)
	}
	return t.hydrateSources(ctx, rows)
}
