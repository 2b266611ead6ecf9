// Package schema holds the static shape of a record graph: record types,
// relation edges, and maintained-field specs, assembled into a Registry.
//
// A Registry is built once at process start: edges and types go into a
// Graph, field specs are registered one by one, and Seal freezes the
// catalogue. Seal resolves every dependent path against the graph, rejects
// unresolvable specs, runs cycle detection over the maintained-field
// dependency graph, and assigns each field a dependency rank. After Seal
// the Registry is immutable and safe for concurrent reads without locking.
//
// Validation accumulates all violations before failing, so a bad schema
// reports every problem in one pass rather than one per run.
package schema
