package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

const sourceColumns = `
	s.source_id, s.source_event_id, s.source_origin, s.source_site, s.reporting_origin,
	s.source_type, s.source_time, s.expiry_time, s.aggregatable_report_window_time,
	s.priority, s.attribution_logic, s.active_state, s.debug_key, s.debug_cookie_set,
	s.randomized_response_rate, s.num_attributions, s.num_aggregatable_attribution_reports,
	s.remaining_aggregatable_attribution_budget, s.num_aggregatable_debug_reports,
	s.remaining_aggregatable_debug_budget, s.metadata`

// SourceRef is the minimal identity of a source used by data clearing.
type SourceRef struct {
	ID              attribution.SourceID `db:"source_id"`
	ReportingOrigin attribution.Origin   `db:"reporting_origin"`
}

// InsertSource writes a source and its destinations. The assigned ID is
// returned and also set on s.
func (t *Tx) InsertSource(ctx context.Context, s *attribution.StoredSource) (attribution.SourceID, error) {
	row, err := encodeSource(s)
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}

	res, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO sources (
			source_event_id, source_origin, source_site, reporting_origin, source_type,
			source_time, expiry_time, aggregatable_report_window_time, priority,
			attribution_logic, active_state, debug_key, debug_cookie_set,
			randomized_response_rate, num_attributions, num_aggregatable_attribution_reports,
			remaining_aggregatable_attribution_budget, num_aggregatable_debug_reports,
			remaining_aggregatable_debug_budget, metadata
		) VALUES (
			:source_event_id, :source_origin, :source_site, :reporting_origin, :source_type,
			:source_time, :expiry_time, :aggregatable_report_window_time, :priority,
			:attribution_logic, :active_state, :debug_key, :debug_cookie_set,
			:randomized_response_rate, :num_attributions, :num_aggregatable_attribution_reports,
			:remaining_aggregatable_attribution_budget, :num_aggregatable_debug_reports,
			:remaining_aggregatable_debug_budget, :metadata
		)`, row)
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert source: %w", err)
	}

	for _, dest := range s.Destinations {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO source_destinations (source_id, destination_site) VALUES (?, ?)
			ON CONFLICT DO NOTHING`, id, string(dest)); err != nil {
			return 0, fmt.Errorf("insert source destination: %w", err)
		}
	}

	s.ID = attribution.SourceID(id)
	return s.ID, nil
}

// GetSource loads one source with its destinations and dedup keys.
// Returns ErrNotFound if absent and a CorruptionError if undecodable.
func (t *Tx) GetSource(ctx context.Context, id attribution.SourceID) (*attribution.StoredSource, error) {
	var row sourceRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+sourceColumns+` FROM sources s WHERE s.source_id = ?`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	sources, corrupt, err := t.hydrateSources(ctx, []sourceRow{row})
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		return nil, corrupt[0]
	}
	return sources[0], nil
}

// ActiveSources returns unexpired, not deactivated sources ordered by ID.
// A negative limit returns all of them. Undecodable rows are returned
// separately so the caller can delete them.
func (t *Tx) ActiveSources(ctx context.Context, now time.Time, limit int) ([]*attribution.StoredSource, []*CorruptionError, error) {
	var rows []sourceRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+sourceColumns+` FROM sources s
		WHERE s.active_state != ? AND s.expiry_time > ?
		ORDER BY s.source_id ASC
		LIMIT ?`,
		string(attribution.ActiveStateInactive), encodeTime(now), limit)
	if err != nil {
		return nil, nil, fmt.Errorf("query active sources: %w", err)
	}
	return t.hydrateSources(ctx, rows)
}

// MatchingSources returns the active, unexpired sources registered by
// reportingOrigin for destination, best candidate first: highest priority,
// then most recently stored.
func (t *Tx) MatchingSources(ctx context.Context, reportingOrigin attribution.Origin, destination attribution.Site, now time.Time) ([]*attribution.StoredSource, []*CorruptionError, error) {
	var rows []sourceRow
	err := t.tx.SelectContext(ctx, &rows, `
		SELECT `+sourceColumns+` FROM sources s
		JOIN source_destinations d ON d.source_id = s.source_id
		WHERE d.destination_site = ?
		  AND s.reporting_origin = ?
		  AND s.active_state != ?
		  AND s.expiry_time > ?
		ORDER BY s.priority DESC, s.source_id DESC`,
		string(destination), string(reportingOrigin),
		string(attribution.ActiveStateInactive), encodeTime(now))
	if err != nil {
		return nil, nil, fmt.Errorf("query matching sources: %w", err)
	}
	return t.hydrateSources(ctx, rows)
}

// hydrateSources decodes rows, attaching destinations and dedup keys.
func (t *Tx) hydrateSources(ctx context.Context, rows []sourceRow) ([]*attribution.StoredSource, []*CorruptionError, error) {
	sources := []*attribution.StoredSource{}
	corrupt := []*CorruptionError{}
	if len(rows) == 0 {
		return sources, corrupt, nil
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.SourceID
	}

	var dests []struct {
		SourceID        int64  `db:"source_id"`
		DestinationSite string `db:"destination_site"`
	}
	if err := t.selectIn(ctx, &dests, `
		SELECT source_id, destination_site FROM source_destinations
		WHERE source_id IN (?)
		ORDER BY source_id, destination_site`, ids); err != nil {
		return nil, nil, fmt.Errorf("query destinations: %w", err)
	}
	byID := make(map[int64][]attribution.Site, len(rows))
	for _, d := range dests {
		byID[d.SourceID] = append(byID[d.SourceID], attribution.Site(d.DestinationSite))
	}

	keys, err := t.dedupKeysFor(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	for _, row := range rows {
		src, err := decodeSource(row, byID[row.SourceID])
		if err != nil {
			ce, ok := AsCorruptionError(err)
			if !ok {
				return nil, nil, err
			}
			corrupt = append(corrupt, ce)
			continue
		}
		if k := keys[dedupKey{row.SourceID, attribution.ReportTypeEventLevel}]; k != nil {
			src.DedupKeys = k
		}
		if k := keys[dedupKey{row.SourceID, attribution.ReportTypeAggregatable}]; k != nil {
			src.AggregatableDedupKeys = k
		}
		sources = append(sources, src)
	}
	return sources, corrupt, nil
}

// UpdateEventLevelAttribution records the event-level report count and
// active state after an attribution.
func (t *Tx) UpdateEventLevelAttribution(ctx context.Context, id attribution.SourceID, numAttributions int, state attribution.ActiveState) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sources SET num_attributions = ?, active_state = ? WHERE source_id = ?`,
		numAttributions, string(state), int64(id))
	if err != nil {
		return fmt.Errorf("update event-level attribution for source %d: %w", id, err)
	}
	return nil
}

// SetActiveState overwrites a source's active state.
func (t *Tx) SetActiveState(ctx context.Context, id attribution.SourceID, state attribution.ActiveState) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE sources SET active_state = ? WHERE source_id = ?`, string(state), int64(id))
	if err != nil {
		return fmt.Errorf("set active state for source %d: %w", id, err)
	}
	return nil
}

// DeactivateSources marks sources inactive. They stay stored until their
// reports are gone.
func (t *Tx) DeactivateSources(ctx context.Context, ids []attribution.SourceID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.execIn(ctx, `UPDATE sources SET active_state = ? WHERE source_id IN (?)`,
		string(attribution.ActiveStateInactive), sourceIDArgs(ids)); err != nil {
		return fmt.Errorf("deactivate sources: %w", err)
	}
	return nil
}

// UpdateAggregatableBudget records a debit of the attribution budget.
func (t *Tx) UpdateAggregatableBudget(ctx context.Context, id attribution.SourceID, remaining int64, numReports int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sources
		SET remaining_aggregatable_attribution_budget = ?, num_aggregatable_attribution_reports = ?
		WHERE source_id = ?`, remaining, numReports, int64(id))
	if err != nil {
		return fmt.Errorf("update aggregatable budget for source %d: %w", id, err)
	}
	return nil
}

// UpdateDebugBudget records a debit of the aggregatable debug budget.
func (t *Tx) UpdateDebugBudget(ctx context.Context, id attribution.SourceID, remaining int64, numReports int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sources
		SET remaining_aggregatable_debug_budget = ?, num_aggregatable_debug_reports = ?
		WHERE source_id = ?`, remaining, numReports, int64(id))
	if err != nil {
		return fmt.Errorf("update debug budget for source %d: %w", id, err)
	}
	return nil
}

// DeleteSources removes sources with their destinations and dedup keys.
// Reports and rate-limit rows are left to the caller.
func (t *Tx) DeleteSources(ctx context.Context, ids []attribution.SourceID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := sourceIDArgs(ids)
	if _, err := t.execIn(ctx, `DELETE FROM source_destinations WHERE source_id IN (?)`, args); err != nil {
		return 0, fmt.Errorf("delete source destinations: %w", err)
	}
	if _, err := t.execIn(ctx, `DELETE FROM dedup_keys WHERE source_id IN (?)`, args); err != nil {
		return 0, fmt.Errorf("delete dedup keys: %w", err)
	}
	n, err := t.execIn(ctx, `DELETE FROM sources WHERE source_id IN (?)`, args)
	if err != nil {
		return 0, fmt.Errorf("delete sources: %w", err)
	}
	return int(n), nil
}

// CountUnexpiredSources counts sources from sourceOrigin that have not
// expired at now, regardless of active state.
func (t *Tx) CountUnexpiredSources(ctx context.Context, sourceOrigin attribution.Origin, now time.Time) (int64, error) {
	var n int64
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM sources WHERE source_origin = ? AND expiry_time > ?`,
		string(sourceOrigin), encodeTime(now))
	if err != nil {
		return 0, fmt.Errorf("count sources: %w", err)
	}
	return n, nil
}

// ExpiredSourcesWithoutReports lists sources expired at now that no report
// references, up to limit (negative for all).
func (t *Tx) ExpiredSourcesWithoutReports(ctx context.Context, now time.Time, limit int) ([]attribution.SourceID, error) {
	ids := []attribution.SourceID{}
	err := t.tx.SelectContext(ctx, &ids, `
		SELECT s.source_id FROM sources s
		WHERE s.expiry_time <= ?
		  AND NOT EXISTS (SELECT 1 FROM reports r WHERE r.source_id = s.source_id)
		ORDER BY s.source_id
		LIMIT ?`, encodeTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("query expired sources: %w", err)
	}
	return ids, nil
}

// SourcesRegisteredBetween lists sources with begin <= source_time <= end.
func (t *Tx) SourcesRegisteredBetween(ctx context.Context, begin, end time.Time) ([]SourceRef, error) {
	refs := []SourceRef{}
	err := t.tx.SelectContext(ctx, &refs, `
		SELECT source_id, reporting_origin FROM sources
		WHERE source_time BETWEEN ? AND ?
		ORDER BY source_id`, encodeTime(begin), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("query sources in range: %w", err)
	}
	return refs, nil
}

// ActiveSourcesSharingDestination lists active sources of reportingOrigin
// that share at least one destination, excluding exclude.
func (t *Tx) ActiveSourcesSharingDestination(ctx context.Context, reportingOrigin attribution.Origin, destinations []attribution.Site, exclude attribution.SourceID, now time.Time) ([]attribution.SourceID, error) {
	ids := []attribution.SourceID{}
	if len(destinations) == 0 {
		return ids, nil
	}
	err := t.selectIn(ctx, &ids, `
		SELECT DISTINCT s.source_id FROM sources s
		JOIN source_destinations d ON d.source_id = s.source_id
		WHERE d.destination_site IN (?)
		  AND s.reporting_origin = ?
		  AND s.active_state != ?
		  AND s.expiry_time > ?
		  AND s.source_id != ?
		ORDER BY s.source_id`,
		siteArgs(destinations), string(reportingOrigin), string(attribution.ActiveStateInactive), encodeTime(now), int64(exclude))
	if err != nil {
		return nil, fmt.Errorf("query sources sharing destination: %w", err)
	}
	return ids, nil
}

// AllSourceIDs lists every stored source ID in ascending order.
func (t *Tx) AllSourceIDs(ctx context.Context) ([]attribution.SourceID, error) {
	ids := []attribution.SourceID{}
	if err := t.tx.SelectContext(ctx, &ids, `SELECT source_id FROM sources ORDER BY source_id`); err != nil {
		return nil, fmt.Errorf("query source ids: %w", err)
	}
	return ids, nil
}

func sourceIDArgs(ids []attribution.SourceID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
