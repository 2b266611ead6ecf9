package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/upkeep/internal/record"
)

// Tx is a single writer transaction. Record mutations and the propagation
// they trigger run inside one Tx so a rollback discards both together.
type Tx struct {
	tx *sql.Tx
}

// Begin opens a transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit makes the transaction's changes durable.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}

// InsertRecord stores a new record and returns its assigned id.
func (t *Tx) InsertRecord(ctx context.Context, typ string, attrs record.Object) (int64, error) {
	return insertRecord(ctx, t.tx, typ, attrs)
}

// UpdateAttrs replaces a record's attribute object. Reports whether the
// record existed.
func (t *Tx) UpdateAttrs(ctx context.Context, id int64, attrs record.Object) (bool, error) {
	return updateAttrs(ctx, t.tx, id, attrs)
}

// DeleteRecord removes a record. Links referencing it cascade away, so
// callers collect affected neighbours before calling this.
func (t *Tx) DeleteRecord(ctx context.Context, id int64) (bool, error) {
	return deleteRecord(ctx, t.tx, id)
}

// InsertLink connects two records across a relation. Reports false when the
// link already existed.
func (t *Tx) InsertLink(ctx context.Context, src int64, rel string, dst int64) (bool, error) {
	return insertLink(ctx, t.tx, src, rel, dst)
}

// DeleteLink removes one link. Reports whether it existed.
func (t *Tx) DeleteLink(ctx context.Context, src int64, rel string, dst int64) (bool, error) {
	return deleteLink(ctx, t.tx, src, rel, dst)
}

// DeleteLinksFrom removes every link leaving src across rel and returns how
// many were removed. Used to replace the target of a to-one relation.
func (t *Tx) DeleteLinksFrom(ctx context.Context, src int64, rel string) (int64, error) {
	return deleteLinksFrom(ctx, t.tx, src, rel)
}

// DeleteLinksTo removes every link arriving at dst across rel and returns
// how many were removed. Used when the relation is to-one seen from the
// destination side.
func (t *Tx) DeleteLinksTo(ctx context.Context, dst int64, rel string) (int64, error) {
	return deleteLinksTo(ctx, t.tx, dst, rel)
}

// AppendLog writes one audit entry.
func (t *Tx) AppendLog(ctx context.Context, e LogEntry) error {
	return appendLog(ctx, t.tx, e)
}

// MarkStale records that a maintained field's stored value could not be
// recomputed. A later mark for the same field overwrites the reason.
func (t *Tx) MarkStale(ctx context.Context, sf StaleField) error {
	return markStale(ctx, t.tx, sf)
}

// ClearStale removes a stale marker if present. Reports whether one existed.
func (t *Tx) ClearStale(ctx context.Context, id int64, field string) (bool, error) {
	return clearStale(ctx, t.tx, id, field)
}

// SetMeta stores one meta value inside the transaction.
func (t *Tx) SetMeta(ctx context.Context, key, value string) error {
	return setMeta(ctx, t.tx, key, value)
}

// GetRecord returns one record by type and id.
func (t *Tx) GetRecord(ctx context.Context, typ string, id int64) (record.Record, bool, error) {
	return getRecord(ctx, t.tx, typ, id)
}

// RecordsOfType returns every record of one type (all records when typ is
// empty), ordered by type then id.
func (t *Tx) RecordsOfType(ctx context.Context, typ string) ([]record.Record, error) {
	return recordsOfType(ctx, t.tx, typ)
}

// RelatedIDs returns the ids across one relation from a record.
func (t *Tx) RelatedIDs(ctx context.Context, id int64, rel string, inverted bool) ([]int64, error) {
	return relatedIDs(ctx, t.tx, id, rel, inverted)
}

// RelatedRecords returns the records across one relation from a record.
func (t *Tx) RelatedRecords(ctx context.Context, id int64, rel string, inverted bool) ([]record.Record, error) {
	return relatedRecords(ctx, t.tx, id, rel, inverted)
}

// IncidentLinks returns every link touching a record.
func (t *Tx) IncidentLinks(ctx context.Context, id int64) ([]Link, error) {
	return incidentLinks(ctx, t.tx, id)
}

// QueryIDs runs a compiled id-selecting query.
func (t *Tx) QueryIDs(ctx context.Context, query string, args []any) ([]int64, error) {
	return queryIDs(ctx, t.tx, query, args)
}

// ReadLog returns audit log entries matching the filter, ordered by seq.
func (t *Tx) ReadLog(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	return readLog(ctx, t.tx, f)
}

// IsStale reports whether a maintained field carries a stale marker.
func (t *Tx) IsStale(ctx context.Context, id int64, field string) (StaleField, bool, error) {
	return isStale(ctx, t.tx, id, field)
}

// StaleFields lists stale markers, optionally narrowed to one type.
func (t *Tx) StaleFields(ctx context.Context, typ string) ([]StaleField, error) {
	return staleFields(ctx, t.tx, typ)
}

// GetMeta returns one meta value.
func (t *Tx) GetMeta(ctx context.Context, key string) (string, bool, error) {
	return getMeta(ctx, t.tx, key)
}
