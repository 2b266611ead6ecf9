// Package engine keeps maintained fields consistent as records change.
//
// The engine is the heart of upkeep - it intercepts record mutations,
// discovers which maintained fields the change can reach, and recomputes
// them inside the same transaction as the triggering mutation.
//
// ARCHITECTURE:
//
// Unit of work:
// All mutations go through a Session, which wraps one store transaction.
// A session's mutations, the propagation they trigger, and the audit log
// rows commit or roll back together. There is no background worker and no
// async queue; propagation is synchronous with the mutation.
//
// Propagation flow:
//  1. A session mutation (create, update, delete, link, unlink) collects
//     change seeds by consulting the registry's trigger indexes
//  2. Seeds are handled per the active mode: run now (immediate), queued
//     for Flush (deferred), or dropped (disabled)
//  3. A batch processes seeds in ascending (rank, type, id, field) order,
//     recomputing each (record, field) at most once
//  4. A recomputation that changes the stored value feeds new seeds back
//     into the same batch; an unchanged value terminates that chain
//
// The registry and relation graph are sealed before the engine starts and
// are never written afterwards, so the hot path reads them without locks.
//
// CRITICAL PATTERNS:
//
// Logical clock:
// Audit log rows are stamped with a monotonic seq from Clock.Next().
// NEVER wall-clock timestamps; replaying a scenario must produce an
// identical log.
//
// Deterministic scheduling:
// Pending seeds are processed in ascending (rank, type, id, field) order.
// Ranks come from the maintained-field dependency DAG, so a field is
// recomputed after the maintained fields it reads. Ties break on record
// identity, lowest first.
package engine
