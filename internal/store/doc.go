// Package store provides durable storage for the record graph and its
// maintained-field bookkeeping: records, relation links, the propagation
// audit log, stale-field markers, and schema metadata.
//
// SQLite with WAL mode, a single writer connection, and foreign key
// enforcement. Attr payloads are canonical JSON (RFC 8785), so equality
// of stored values is byte equality.
//
// Mutations and propagation run inside one Tx; the engine opens it, the
// interceptor and executor write through it, and commit or rollback is
// atomic across user mutations and derived updates. Read-only access for
// tooling goes through the same methods on Store directly.
//
// All list queries carry an ORDER BY with a deterministic tiebreaker.
package store
