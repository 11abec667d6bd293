package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

// DebugBudgetRef identifies a debug budget row for data clearing.
type DebugBudgetRef struct {
	ID              int64              `db:"id"`
	ReportingOrigin attribution.Origin `db:"reporting_origin"`
}

// InsertDebugBudget records budget consumed by an aggregatable debug report.
func (t *Tx) InsertDebugBudget(ctx context.Context, contextSite attribution.Site, reportingOrigin attribution.Origin, at time.Time, consumed int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO aggregatable_debug_budgets (context_site, reporting_origin, reporting_site, time, consumed_budget)
		VALUES (?, ?, ?, ?, ?)`,
		string(contextSite), string(reportingOrigin), string(reportingOrigin.Site()), encodeTime(at), consumed)
	if err != nil {
		return fmt.Errorf("insert debug budget: %w", err)
	}
	return nil
}

// SumDebugBudget totals the budget consumed for contextSite after since.
// A non-empty reportingSite narrows the sum to that reporting site.
func (t *Tx) SumDebugBudget(ctx context.Context, contextSite, reportingSite attribution.Site, since time.Time) (int64, error) {
	query := `SELECT COALESCE(SUM(consumed_budget), 0) FROM aggregatable_debug_budgets WHERE context_site = ? AND time > ?`
	args := []any{string(contextSite), encodeTime(since)}
	if reportingSite != "" {
		query += ` AND reporting_site = ?`
		args = append(args, string(reportingSite))
	}
	var n int64
	if err := t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("sum debug budget: %w", err)
	}
	return n, nil
}

// DebugBudgetsBetween lists rows with begin <= time <= end.
func (t *Tx) DebugBudgetsBetween(ctx context.Context, begin, end time.Time) ([]DebugBudgetRef, error) {
	refs := []DebugBudgetRef{}
	err := t.tx.SelectContext(ctx, &refs, `
		SELECT id, reporting_origin FROM aggregatable_debug_budgets
		WHERE time BETWEEN ? AND ?
		ORDER BY id`, encodeTime(begin), encodeTime(end))
	if err != nil {
		return nil, fmt.Errorf("query debug budgets in range: %w", err)
	}
	return refs, nil
}

// DeleteDebugBudgets removes rows by ID.
func (t *Tx) DeleteDebugBudgets(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := t.execIn(ctx, `DELETE FROM aggregatable_debug_budgets WHERE id IN (?)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete debug budgets: %w", err)
	}
	return int(n), nil
}

// DeleteExpiredDebugBudgets prunes rows at or before windowStart.
func (t *Tx) DeleteExpiredDebugBudgets(ctx context.Context, windowStart time.Time) (int, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM aggregatable_debug_budgets WHERE time <= ?`, encodeTime(windowStart))
	if err != nil {
		return 0, fmt.Errorf("delete expired debug budgets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired debug budgets: %w", err)
	}
	return int(n), nil
}

// DataKeys returns the distinct reporting origins that still have data in
// any table, sorted.
func (t *Tx) DataKeys(ctx context.Context) ([]attribution.Origin, error) {
	origins := []attribution.Origin{}
	err := t.tx.SelectContext(ctx, &origins, `
		SELECT reporting_origin FROM sources
		UNION SELECT reporting_origin FROM reports
		UNION SELECT reporting_origin FROM rate_limits
		UNION SELECT reporting_origin FROM aggregatable_debug_budgets
		ORDER BY reporting_origin`)
	if err != nil {
		return nil, fmt.Errorf("query data keys: %w", err)
	}
	return origins, nil
}
