package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/upkeep/internal/record"
	"github.com/roach88/upkeep/internal/store"
)

// alanine builds the standing fixture: one compound with two tracers.
// Returns the refs in creation order.
func alanine(t *testing.T, ctx context.Context, eng *Engine) (compound, t1, t2 record.Ref) {
	t.Helper()
	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	compound, err = sess.CreateRecord(ctx, "compound", record.Object{
		"name":    record.String("Alanine"),
		"formula": record.String("C3H7NO2"),
	})
	require.NoError(t, err)
	t1, err = sess.CreateRecord(ctx, "tracer", record.Object{"name": record.String("ALA-1")})
	require.NoError(t, err)
	t2, err = sess.CreateRecord(ctx, "tracer", record.Object{"name": record.String("ALA-2")})
	require.NoError(t, err)
	require.NoError(t, sess.Link(ctx, compound, "tracers", t1))
	require.NoError(t, sess.Link(ctx, compound, "tracers", t2))
	commit(t, ctx, sess)
	return compound, t1, t2
}

func TestCreateRecord_ComputesInitialValues(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	compound, err := sess.CreateRecord(ctx, "compound", record.Object{
		"name":    record.String("Alanine"),
		"formula": record.String("C3H7NO2"),
	})
	require.NoError(t, err)
	commit(t, ctx, sess)

	v, present := storedField(t, ctx, s, compound, "num_labelable_atoms")
	require.True(t, present, "initial value must be computed on create")
	assert.Equal(t, record.Int(3), v)
}

func TestCreateRecord_UnlinkedTracerUsesDefault(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	tracer, err := sess.CreateRecord(ctx, "tracer", record.Object{"name": record.String("orphan")})
	require.NoError(t, err)
	commit(t, ctx, sess)

	v, present := storedField(t, ctx, s, tracer, "max_label_count")
	require.True(t, present)
	assert.Equal(t, record.Int(0), v)
}

func TestCreateRecord_RejectsUnknownType(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, err = sess.CreateRecord(ctx, "reagent", nil)
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
}

func TestCreateRecord_RejectsUndeclaredAttr(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, err = sess.CreateRecord(ctx, "compound", record.Object{
		"molar_mass": record.Int(89),
	})
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
}

func TestCreateRecord_RejectsWrongValueKind(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, err = sess.CreateRecord(ctx, "compound", record.Object{
		"formula": record.Int(42),
	})
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
	assert.Contains(t, err.Error(), "wants string")
}

func TestCreateRecord_RejectsNull(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.CreateRecord(ctx, "compound", record.Object{
		"name":    record.Null{},
		"formula": record.String("CH4"),
	})
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
	assert.Contains(t, err.Error(), "omit absent attributes")

	// Absence is the supported spelling.
	compound, err := sess.CreateRecord(ctx, "compound", record.Object{
		"formula": record.String("CH4"),
	})
	require.NoError(t, err)
	commit(t, ctx, sess)

	_, present := storedField(t, ctx, s, compound, "name")
	assert.False(t, present)
}

func TestDirectWrite_RejectedInEveryMode(t *testing.T) {
	ctx := context.Background()

	for _, mode := range []Mode{ModeImmediate, ModeDeferred, ModeDisabled} {
		t.Run(string(mode), func(t *testing.T) {
			eng, _ := testEngine(t)
			compound, _, _ := alanine(t, ctx, eng)

			sess, err := eng.BeginWithMode(ctx, mode)
			require.NoError(t, err)
			defer sess.Rollback()

			_, err = sess.CreateRecord(ctx, "compound", record.Object{
				"num_labelable_atoms": record.Int(99),
			})
			require.Error(t, err)
			assert.True(t, IsIllegalDirectWrite(err), "create: want ILLEGAL_DIRECT_WRITE, got %v", err)

			err = sess.UpdateRecord(ctx, compound, record.Object{
				"num_labelable_atoms": record.Int(99),
			})
			require.Error(t, err)
			assert.True(t, IsIllegalDirectWrite(err), "update: want ILLEGAL_DIRECT_WRITE, got %v", err)

			err = sess.OnRecordChanged(ctx, compound, "num_labelable_atoms")
			require.Error(t, err)
			assert.True(t, IsIllegalDirectWrite(err), "hook: want ILLEGAL_DIRECT_WRITE, got %v", err)
		})
	}
}

func TestDirectWrite_RejectionLeavesSessionUsable(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	err = sess.UpdateRecord(ctx, compound, record.Object{"num_labelable_atoms": record.Int(99)})
	require.Error(t, err)

	// A rejected mutation wrote nothing; the session carries on.
	err = sess.UpdateRecord(ctx, compound, record.Object{"name": record.String("L-Alanine")})
	require.NoError(t, err)
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, compound, "name")
	assert.Equal(t, record.String("L-Alanine"), v)
	v, _ = storedField(t, ctx, s, compound, "num_labelable_atoms")
	assert.Equal(t, record.Int(3), v)
}

func TestUpdateRecord_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.UpdateRecord(ctx, record.Ref{Type: "compound", ID: 404}, record.Object{
		"name": record.String("ghost"),
	})
	require.Error(t, err)
	assert.True(t, IsUnknownRecord(err))
}

func TestUpdateRecord_MergesUntouchedAttrs(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpdateRecord(ctx, compound, record.Object{
		"name": record.String("L-Alanine"),
	}))
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, compound, "formula")
	assert.Equal(t, record.String("C3H7NO2"), v, "untouched attrs survive a partial update")
	v, _ = storedField(t, ctx, s, compound, "name")
	assert.Equal(t, record.String("L-Alanine"), v)
}

func TestUpdateRecord_EqualValueIsNoOp(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	before, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpdateRecord(ctx, compound, record.Object{
		"formula": record.String("C3H7NO2"),
	}))
	commit(t, ctx, sess)

	after, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before), "writing the stored value must not schedule anything")
}

func TestDeleteRecord_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.DeleteRecord(ctx, record.Ref{Type: "tracer", ID: 404})
	require.Error(t, err)
	assert.True(t, IsUnknownRecord(err))
}

func TestDeleteRecord_RecomputesDependentsOfVanishedCompound(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, t1, t2 := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.DeleteRecord(ctx, compound))
	commit(t, ctx, sess)

	// Both tracers lost their compound; the field falls back to the
	// generator default.
	v, _ := storedField(t, ctx, s, t1, "max_label_count")
	assert.Equal(t, record.Int(0), v)
	v, _ = storedField(t, ctx, s, t2, "max_label_count")
	assert.Equal(t, record.Int(0), v)

	_, ok, err := s.GetRecord(ctx, compound.Type, compound.ID)
	require.NoError(t, err)
	assert.False(t, ok, "compound row must be gone")
}

func TestLink_RejectsUnknownRelation(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)
	compound, t1, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.Link(ctx, compound, "isotopes", t1)
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
}

func TestLink_RejectsWrongTargetType(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	other, err := sess.CreateRecord(ctx, "compound", record.Object{"formula": record.String("CH4")})
	require.NoError(t, err)
	err = sess.Link(ctx, compound, "tracers", other)
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
	assert.Contains(t, err.Error(), "links to tracer")
}

func TestLink_IdempotentRelink(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, t1, _ := alanine(t, ctx, eng)

	before, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Link(ctx, compound, "tracers", t1))
	commit(t, ctx, sess)

	after, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before), "re-linking a linked pair must not schedule anything")
}

func TestLink_ReverseSideNamesWork(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	compound, err := sess.CreateRecord(ctx, "compound", record.Object{"formula": record.String("C3H7NO2")})
	require.NoError(t, err)
	tracer, err := sess.CreateRecord(ctx, "tracer", record.Object{"name": record.String("ALA-1")})
	require.NoError(t, err)

	// Same edge, named from the tracer side.
	require.NoError(t, sess.Link(ctx, tracer, "compound", compound))
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, tracer, "max_label_count")
	assert.Equal(t, record.Int(3), v)
}

func TestLink_ToOneReplaceMovesTracer(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, t1, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	benzene, err := sess.CreateRecord(ctx, "compound", record.Object{
		"name":    record.String("Benzene"),
		"formula": record.String("C6H6"),
	})
	require.NoError(t, err)

	// A tracer has one compound: linking to a second replaces the first.
	require.NoError(t, sess.Link(ctx, benzene, "tracers", t1))
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, t1, "max_label_count")
	assert.Equal(t, record.Int(6), v)

	compounds, err := s.RelatedRecords(ctx, t1.ID, "compound.tracers", true)
	require.NoError(t, err)
	require.Len(t, compounds, 1, "to-one side must hold a single link")
	assert.Equal(t, benzene.ID, compounds[0].ID)

	// The old compound keeps its own values.
	v, _ = storedField(t, ctx, s, compound, "num_labelable_atoms")
	assert.Equal(t, record.Int(3), v)
}

func TestUnlink_RecomputesFormerDependent(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, t1, t2 := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Unlink(ctx, compound, "tracers", t1))
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, t1, "max_label_count")
	assert.Equal(t, record.Int(0), v, "unlinked tracer falls back to the default")
	v, _ = storedField(t, ctx, s, t2, "max_label_count")
	assert.Equal(t, record.Int(3), v, "the remaining tracer is untouched")
}

func TestUnlink_MissingLinkIsNoOp(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	_, t1, _ := alanine(t, ctx, eng)

	before, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	study, err := sess.CreateRecord(ctx, "study", record.Object{"title": record.String("empty")})
	require.NoError(t, err)
	require.NoError(t, sess.Unlink(ctx, study, "tracers", t1))
	commit(t, ctx, sess)

	after, err := s.ReadLog(ctx, store.LogFilter{})
	require.NoError(t, err)
	// Only the study's own initial computation was scheduled.
	assert.Len(t, after, len(before)+1)
}

func TestOnRecordChanged_SchedulesDependents(t *testing.T) {
	ctx := context.Background()
	eng, s := testEngine(t)
	compound, t1, _ := alanine(t, ctx, eng)

	// Simulate an external write path: poke the attr through the store,
	// then notify.
	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	rec, ok, err := sess.Record(ctx, compound)
	require.NoError(t, err)
	require.True(t, ok)
	attrs := rec.Attrs.Clone()
	attrs["formula"] = record.String("C4H7NO2")
	// The session's transaction is the only writer here.
	_, err = sess.tx.UpdateAttrs(ctx, compound.ID, attrs)
	require.NoError(t, err)

	require.NoError(t, sess.OnRecordChanged(ctx, compound, "formula"))
	commit(t, ctx, sess)

	v, _ := storedField(t, ctx, s, compound, "num_labelable_atoms")
	assert.Equal(t, record.Int(4), v)
	v, _ = storedField(t, ctx, s, t1, "max_label_count")
	assert.Equal(t, record.Int(4), v)
}

func TestOnRecordChanged_UnknownAttr(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.OnRecordChanged(ctx, compound, "density")
	require.Error(t, err)
	assert.True(t, IsInvalidMutation(err))
}

func TestWithMode_RestoresOnReturn(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	require.Equal(t, ModeImmediate, sess.Mode())
	err = sess.WithMode(ModeDeferred, func() error {
		assert.Equal(t, ModeDeferred, sess.Mode())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ModeImmediate, sess.Mode())
}

func TestWithMode_RestoresOnError(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	sentinel := errors.New("boom")
	err = sess.WithMode(ModeDisabled, func() error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, ModeImmediate, sess.Mode())
}

func TestWithMode_Nests(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.WithMode(ModeDeferred, func() error {
		err := sess.WithMode(ModeDisabled, func() error {
			assert.Equal(t, ModeDisabled, sess.Mode())
			return nil
		})
		assert.Equal(t, ModeDeferred, sess.Mode())
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, ModeImmediate, sess.Mode())
}

func TestWithMode_RejectsInvalidMode(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	err = sess.WithMode(Mode("eventually"), func() error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid propagation mode")
}

func TestSession_ClosedAfterCommit(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	commit(t, ctx, sess)

	_, err = sess.CreateRecord(ctx, "compound", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// Rollback after commit stays quiet for deferred cleanup.
	assert.NoError(t, sess.Rollback())
}

func TestReadField_PlainAttribute(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)
	compound, _, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	v, present, err := sess.ReadField(ctx, compound, "formula")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, record.String("C3H7NO2"), v)

	_, present, err = sess.ReadField(ctx, compound, "name")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestReadField_MaintainedField(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)
	_, t1, _ := alanine(t, ctx, eng)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	v, present, err := sess.ReadField(ctx, t1, "max_label_count")
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, record.Int(3), v)
}

func TestReadField_UnknownRecord(t *testing.T) {
	ctx := context.Background()
	eng, _ := testEngine(t)

	sess, err := eng.Begin(ctx)
	require.NoError(t, err)
	defer sess.Rollback()

	_, _, err = sess.ReadField(ctx, record.Ref{Type: "compound", ID: 404}, "formula")
	require.Error(t, err)
	assert.True(t, IsUnknownRecord(err))
}
