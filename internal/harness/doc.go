// Package harness runs declarative propagation scenarios.
//
// A scenario pairs a CUE schema with a sequence of mutations and a set of
// assertions over the final store and the audit trace. Scenarios document
// propagation behavior as executable examples and back the golden trace
// files under testdata/golden.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: cascade_through_tracers
//	description: "A formula edit recomputes the compound and its tracers"
//	schema: labeling.cue
//	mode: immediate
//	steps:
//	  - op: create
//	    as: ala
//	    type: compound
//	    attrs: { name: Alanine, formula: C3H7NO2 }
//	  - op: create
//	    as: t1
//	    type: tracer
//	    attrs: { code: ALA-1 }
//	  - op: link
//	    record: ala
//	    rel: tracers
//	    to: t1
//	  - op: update
//	    record: ala
//	    attrs: { formula: C4H7NO2 }
//	assertions:
//	  - type: field_equals
//	    record: t1
//	    field: max_label_count
//	    value: 4
//	  - type: recompute_order
//	    fields: [ala.num_labelable_atoms, t1.max_label_count]
//
// A create step binds its record to a handle via "as"; later steps and
// assertions refer to records only by handle. Steps run in order inside a
// single session that commits after the last step. A step may declare
// expect_error with an engine error code; the scenario fails if the step
// succeeds or fails differently.
//
// # Assertion Types
//
//   - field_equals: a stored attribute has the expected value
//   - field_absent: a stored attribute is missing
//   - stale: a maintained field's stale marker matches
//   - recompute_count: the trace holds exactly N rows for a field
//   - recompute_order: first recomputations appear in the given order
//   - consistent: stored maintained values match fresh recomputation
//
// # Determinism
//
// Every run uses an in-memory store, a logical clock starting at zero,
// and counting batch tokens (batch-000001, batch-000002, ...), so record
// ids, sequence numbers, and tokens are identical across runs. That makes
// traces comparable against golden files byte for byte.
package harness
