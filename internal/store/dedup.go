package store

import (
	"context"
	"fmt"

	"github.com/arter97/chromium-tesla-sub003/internal/attribution"
)

type dedupKey struct {
	sourceID   int64
	reportType attribution.ReportType
}

// InsertDedupKey records that key was used against a source for the given
// report type. Dedup keys outlive the reports they produced.
func (t *Tx) InsertDedupKey(ctx context.Context, id attribution.SourceID, typ attribution.ReportType, key uint64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO dedup_keys (source_id, report_type, dedup_key) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`, int64(id), string(typ), encodeUint64(key))
	if err != nil {
		return fmt.Errorf("insert dedup key: %w", err)
	}
	return nil
}

// DedupKeys returns the keys recorded against a source for typ.
func (t *Tx) DedupKeys(ctx context.Context, id attribution.SourceID, typ attribution.ReportType) ([]uint64, error) {
	keys, err := t.dedupKeysFor(ctx, []int64{int64(id)})
	if err != nil {
		return nil, err
	}
	if k := keys[dedupKey{int64(id), typ}]; k != nil {
		return k, nil
	}
	return []uint64{}, nil
}

func (t *Tx) dedupKeysFor(ctx context.Context, ids []int64) (map[dedupKey][]uint64, error) {
	var rows []struct {
		SourceID   int64  `db:"source_id"`
		ReportType string `db:"report_type"`
		DedupKey   int64  `db:"dedup_key"`
	}
	if err := t.selectIn(ctx, &rows, `
		SELECT source_id, report_type, dedup_key FROM dedup_keys
		WHERE source_id IN (?)
		ORDER BY source_id, report_type, dedup_key`, ids); err != nil {
		return nil, fmt.Errorf("query dedup keys: %w", err)
	}
	out := make(map[dedupKey][]uint64)
	for _, r := range rows {
		k := dedupKey{r.SourceID, attribution.ReportType(r.ReportType)}
		out[k] = append(out[k], decodeUint64(r.DedupKey))
	}
	return out, nil
}
