package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
)

func insertRecord(ctx context.Context, q querier, typ string, attrs record.Object) (int64, error) {
	attrsJSON, err := marshalAttrs(attrs)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO records (type, attrs) VALUES (?, ?)`,
		typ, attrsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert record: last insert id: %w", err)
	}
	return id, nil
}

func updateAttrs(ctx context.Context, q querier, id int64, attrs record.Object) (bool, error) {
	attrsJSON, err := marshalAttrs(attrs)
	if err != nil {
		return false, fmt.Errorf("update attrs: %w", err)
	}

	result, err := q.ExecContext(ctx,
		`UPDATE records SET attrs = ? WHERE id = ?`,
		attrsJSON, id,
	)
	if err != nil {
		return false, fmt.Errorf("update attrs: %w", err)
	}
	return oneRowChanged(result)
}

// deleteRecord removes the record row. Links referencing it cascade; any
// pre-delete bookkeeping (seed collection) must happen before this call.
func deleteRecord(ctx context.Context, q querier, id int64) (bool, error) {
	result, err := q.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	return oneRowChanged(result)
}

// insertLink adds one membership row. ON CONFLICT DO NOTHING makes
// re-linking idempotent; inserted reports whether the row is new.
func insertLink(ctx context.Context, q querier, src int64, rel string, dst int64) (bool, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO links (src, rel, dst) VALUES (?, ?, ?)
		ON CONFLICT(src, rel, dst) DO NOTHING
	`, src, rel, dst)
	if err != nil {
		return false, fmt.Errorf("insert link: %w", err)
	}
	return oneRowChanged(result)
}

func deleteLink(ctx context.Context, q querier, src int64, rel string, dst int64) (bool, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM links WHERE src = ? AND rel = ? AND dst = ?`,
		src, rel, dst,
	)
	if err != nil {
		return false, fmt.Errorf("delete link: %w", err)
	}
	return oneRowChanged(result)
}

// deleteLinksFrom removes every link of one relation leaving src. Used for
// to-one replace semantics; callers collect the old targets first.
func deleteLinksFrom(ctx context.Context, q querier, src int64, rel string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM links WHERE src = ? AND rel = ?`,
		src, rel,
	)
	if err != nil {
		return 0, fmt.Errorf("delete links from: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete links from: rows affected: %w", err)
	}
	return n, nil
}

// deleteLinksTo removes every link of one relation arriving at dst. The
// mirror of deleteLinksFrom, for relations that are to-one on the reverse
// side.
func deleteLinksTo(ctx context.Context, q querier, dst int64, rel string) (int64, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM links WHERE dst = ? AND rel = ?`,
		dst, rel,
	)
	if err != nil {
		return 0, fmt.Errorf("delete links to: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete links to: rows affected: %w", err)
	}
	return n, nil
}

func appendLog(ctx context.Context, q querier, e LogEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO maintained_log
		(batch_token, seq, record_type, record_id, field, old_value, new_value, changed, failure)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.BatchToken,
		e.Seq,
		e.RecordType,
		e.RecordID,
		e.Field,
		nullable(e.OldValue),
		nullable(e.NewValue),
		boolToInt(e.Changed),
		nullable(e.Failure),
	)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// markStale upserts the stale marker for one maintained field. A second
// failure overwrites the reason and seq of the first.
func markStale(ctx context.Context, q querier, sf StaleField) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO stale_fields (record_type, record_id, field, reason, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_id, field) DO UPDATE SET
			reason = excluded.reason,
			seq = excluded.seq
	`,
		sf.RecordType, sf.RecordID, sf.Field, sf.Reason, sf.Seq,
	)
	if err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}
	return nil
}

func clearStale(ctx context.Context, q querier, id int64, field string) (bool, error) {
	result, err := q.ExecContext(ctx,
		`DELETE FROM stale_fields WHERE record_id = ? AND field = ?`,
		id, field,
	)
	if err != nil {
		return false, fmt.Errorf("clear stale: %w", err)
	}
	return oneRowChanged(result)
}

func setMeta(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set meta: %w", err)
	}
	return nil
}

func oneRowChanged(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
