package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/upkeep/internal/record"
)

func getRecord(ctx context.Context, q querier, typ string, id int64) (record.Record, bool, error) {
	var attrsJSON string
	err := q.QueryRowContext(ctx,
		`SELECT attrs FROM records WHERE id = ? AND type = ?`,
		id, typ,
	).Scan(&attrsJSON)
	if err == sql.ErrNoRows {
		return record.Record{}, false, nil
	}
	if err != nil {
		return record.Record{}, false, fmt.Errorf("get record: %w", err)
	}

	attrs, err := unmarshalAttrs(attrsJSON)
	if err != nil {
		return record.Record{}, false, fmt.Errorf("get record %s/%d: %w", typ, id, err)
	}
	return record.Record{Type: typ, ID: id, Attrs: attrs}, true, nil
}

// recordsOfType returns every record of one type, or every record when typ
// is empty. Ordered by type then id for deterministic iteration.
func recordsOfType(ctx context.Context, q querier, typ string) ([]record.Record, error) {
	query := `SELECT id, type, attrs FROM records`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY type COLLATE BINARY ASC, id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("records of type: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var (
			rec       record.Record
			attrsJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &attrsJSON); err != nil {
			return nil, fmt.Errorf("records of type: scan: %w", err)
		}
		rec.Attrs, err = unmarshalAttrs(attrsJSON)
		if err != nil {
			return nil, fmt.Errorf("records of type %s/%d: %w", rec.Type, rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// relatedIDs returns the ids on the far side of one relation. inverted
// walks the edge against its declared direction.
func relatedIDs(ctx context.Context, q querier, id int64, rel string, inverted bool) ([]int64, error) {
	query := `SELECT dst FROM links WHERE src = ? AND rel = ? ORDER BY dst ASC`
	if inverted {
		query = `SELECT src FROM links WHERE dst = ? AND rel = ? ORDER BY src ASC`
	}
	rows, err := q.QueryContext(ctx, query, id, rel)
	if err != nil {
		return nil, fmt.Errorf("related ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// relatedRecords returns the records on the far side of one relation,
// ordered by id ascending.
func relatedRecords(ctx context.Context, q querier, id int64, rel string, inverted bool) ([]record.Record, error) {
	query := `
		SELECT r.id, r.type, r.attrs FROM links l
		JOIN records r ON r.id = l.dst
		WHERE l.src = ? AND l.rel = ?
		ORDER BY r.id ASC`
	if inverted {
		query = `
		SELECT r.id, r.type, r.attrs FROM links l
		JOIN records r ON r.id = l.src
		WHERE l.dst = ? AND l.rel = ?
		ORDER BY r.id ASC`
	}

	rows, err := q.QueryContext(ctx, query, id, rel)
	if err != nil {
		return nil, fmt.Errorf("related records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		var (
			rec       record.Record
			attrsJSON string
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &attrsJSON); err != nil {
			return nil, fmt.Errorf("related records: scan: %w", err)
		}
		rec.Attrs, err = unmarshalAttrs(attrsJSON)
		if err != nil {
			return nil, fmt.Errorf("related records %s/%d: %w", rec.Type, rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// incidentLinks returns every link touching a record, in either position.
// Used to collect seeds before a delete removes the rows.
func incidentLinks(ctx context.Context, q querier, id int64) ([]Link, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT src, rel, dst FROM links
		WHERE src = ? OR dst = ?
		ORDER BY rel COLLATE BINARY ASC, src ASC, dst ASC
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("incident links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.Src, &l.Rel, &l.Dst); err != nil {
			return nil, fmt.Errorf("incident links: scan: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// queryIDs runs a compiled id-selecting query (affected-owner walks) and
// scans the result column as int64s.
func queryIDs(ctx context.Context, q querier, query string, args []any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func readLog(ctx context.Context, q querier, f LogFilter) ([]LogEntry, error) {
	query := `
		SELECT id, batch_token, seq, record_type, record_id, field,
		       old_value, new_value, changed, failure
		FROM maintained_log`
	var (
		conds []string
		args  []any
	)
	if f.BatchToken != "" {
		conds = append(conds, "batch_token = ?")
		args = append(args, f.BatchToken)
	}
	if f.RecordType != "" {
		conds = append(conds, "record_type = ?")
		args = append(args, f.RecordType)
		if f.RecordID != 0 {
			conds = append(conds, "record_id = ?")
			args = append(args, f.RecordID)
		}
	}
	if f.Field != "" {
		conds = append(conds, "field = ?")
		args = append(args, f.Field)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var oldV, newV, failure sql.NullString
		var changed int
		err := rows.Scan(&e.ID, &e.BatchToken, &e.Seq, &e.RecordType, &e.RecordID,
			&e.Field, &oldV, &newV, &changed, &failure)
		if err != nil {
			return nil, fmt.Errorf("read log: scan: %w", err)
		}
		e.OldValue = oldV.String
		e.NewValue = newV.String
		e.Changed = changed != 0
		e.Failure = failure.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func isStale(ctx context.Context, q querier, id int64, field string) (StaleField, bool, error) {
	var sf StaleField
	err := q.QueryRowContext(ctx, `
		SELECT record_type, record_id, field, reason, seq FROM stale_fields
		WHERE record_id = ? AND field = ?
	`, id, field).Scan(&sf.RecordType, &sf.RecordID, &sf.Field, &sf.Reason, &sf.Seq)
	if err == sql.ErrNoRows {
		return StaleField{}, false, nil
	}
	if err != nil {
		return StaleField{}, false, fmt.Errorf("is stale: %w", err)
	}
	return sf, true, nil
}

// staleFields lists stale markers, optionally narrowed to one type.
func staleFields(ctx context.Context, q querier, typ string) ([]StaleField, error) {
	query := `SELECT record_type, record_id, field, reason, seq FROM stale_fields`
	var args []any
	if typ != "" {
		query += ` WHERE record_type = ?`
		args = append(args, typ)
	}
	query += ` ORDER BY record_type COLLATE BINARY ASC, record_id ASC, field COLLATE BINARY ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stale fields: %w", err)
	}
	defer rows.Close()

	var fields []StaleField
	for rows.Next() {
		var sf StaleField
		if err := rows.Scan(&sf.RecordType, &sf.RecordID, &sf.Field, &sf.Reason, &sf.Seq); err != nil {
			return nil, fmt.Errorf("stale fields: scan: %w", err)
		}
		fields = append(fields, sf)
	}
	return fields, rows.Err()
}

func getMeta(ctx context.Context, q querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta: %w", err)
	}
	return value, true, nil
}

// lastSeq returns the highest logical sequence persisted anywhere, so a
// reopened engine resumes its clock past values already on disk. Zero when
// nothing was ever logged.
func lastSeq(ctx context.Context, q querier) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `
		SELECT MAX(s) FROM (
			SELECT COALESCE(MAX(seq), 0) AS s FROM maintained_log
			UNION ALL
			SELECT COALESCE(MAX(seq), 0) AS s FROM stale_fields
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func scanIDs(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Store-level read access for tooling. The engine reads through a Tx; the
// CLI and tests read here.

// GetRecord returns one record by type and id.
func (s *Store) GetRecord(ctx context.Context, typ string, id int64) (record.Record, bool, error) {
	return getRecord(ctx, s.db, typ, id)
}

// RecordsOfType returns every record of one type (all records when typ is
// empty), ordered by type then id.
func (s *Store) RecordsOfType(ctx context.Context, typ string) ([]record.Record, error) {
	return recordsOfType(ctx, s.db, typ)
}

// RelatedRecords returns the records across one relation from a record.
func (s *Store) RelatedRecords(ctx context.Context, id int64, rel string, inverted bool) ([]record.Record, error) {
	return relatedRecords(ctx, s.db, id, rel, inverted)
}

// ReadLog returns audit log entries matching the filter, ordered by seq.
func (s *Store) ReadLog(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	return readLog(ctx, s.db, f)
}

// IsStale reports whether a maintained field carries a stale marker.
func (s *Store) IsStale(ctx context.Context, id int64, field string) (StaleField, bool, error) {
	return isStale(ctx, s.db, id, field)
}

// StaleFields lists stale markers, optionally narrowed to one type.
func (s *Store) StaleFields(ctx context.Context, typ string) ([]StaleField, error) {
	return staleFields(ctx, s.db, typ)
}

// GetMeta returns one meta value.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	return getMeta(ctx, s.db, key)
}

// LastSeq returns the highest persisted logical sequence.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	return lastSeq(ctx, s.db)
}

// SetMeta stores one meta value, overwriting any previous one.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, s.db, key, value)
}
