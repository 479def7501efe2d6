package chainengine_test

import (
	"testing"

	"github.com/chainscribe/chainscribe/chainengine"
	"github.com/stretchr/testify/require"
)

func privateStep(taskType string) chainengine.Step {
	return chainengine.Step{
		Enabled: true,
		Kind:    chainengine.StepKindPrivate,
		Private: &chainengine.PrivateStep{TaskType: taskType},
	}
}

func templateStep(templateID string) chainengine.Step {
	return chainengine.Step{
		Enabled: true,
		Kind:    chainengine.StepKindTemplateRef,
		TemplateRef: &chainengine.TemplateRefStep{
			TemplateID: templateID,
		},
	}
}

func requireOrderInvariant(t *testing.T, list *chainengine.StepList) {
	t.Helper()
	for i, step := range list.Steps() {
		require.Equal(t, i, step.Order, "order must equal list position at index %d", i)
	}
}

func TestUnit_StepList_AppendAssignsLocalIDAndNormalizes(t *testing.T) {
	list := chainengine.NewStepList()

	id1, err := list.Append(privateStep(chainengine.TaskTypeSummarize))
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := list.Append(templateStep("tpl-1"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	require.Equal(t, 2, list.Len())
	requireOrderInvariant(t, list)
}

func TestUnit_StepList_AppendRejectsMismatchedKind(t *testing.T) {
	list := chainengine.NewStepList()

	_, err := list.Append(chainengine.Step{Kind: chainengine.StepKindPrivate})
	require.ErrorIs(t, err, chainengine.ErrInvalidStepKind)

	_, err = list.Append(chainengine.Step{
		Kind:    chainengine.StepKindTemplateRef,
		Private: &chainengine.PrivateStep{TaskType: chainengine.TaskTypeRewrite},
	})
	require.ErrorIs(t, err, chainengine.ErrInvalidStepKind)
}

func TestUnit_StepList_OrderInvariantAcrossMutations(t *testing.T) {
	list := chainengine.NewStepList()

	var ids []string
	for _, taskType := range []string{
		chainengine.TaskTypeSummarize,
		chainengine.TaskTypeRewrite,
		chainengine.TaskTypeTranslate,
		chainengine.TaskTypeExpand,
	} {
		id, err := list.Append(privateStep(taskType))
		require.NoError(t, err)
		ids = append(ids, id)
		requireOrderInvariant(t, list)
	}

	require.NoError(t, list.RemoveByLocalID(ids[1]))
	requireOrderInvariant(t, list)

	require.NoError(t, list.Reorder(0, 2))
	requireOrderInvariant(t, list)

	require.NoError(t, list.Reorder(2, 0))
	requireOrderInvariant(t, list)

	_, err := list.DuplicateByLocalID(ids[0])
	require.NoError(t, err)
	requireOrderInvariant(t, list)
}

func TestUnit_StepList_RemoveAbsentIDReportsNotFound(t *testing.T) {
	list := chainengine.NewStepList()
	require.ErrorIs(t, list.RemoveByLocalID("missing"), chainengine.ErrNotFound)

	_, err := list.Append(privateStep(chainengine.TaskTypeSummarize))
	require.NoError(t, err)
	require.ErrorIs(t, list.RemoveByLocalID("missing"), chainengine.ErrNotFound)
	require.Equal(t, 1, list.Len())
}

func TestUnit_StepList_DuplicateStripsPersistedID(t *testing.T) {
	list := chainengine.NewStepList()
	id, err := list.Append(chainengine.Step{
		Enabled: true,
		Kind:    chainengine.StepKindPrivate,
		Private: &chainengine.PrivateStep{
			TaskType:        chainengine.TaskTypeSummarize,
			PersistedID:     5,
			ParameterValues: map[string]any{"focus": "plot"},
		},
	})
	require.NoError(t, err)

	dupID, err := list.DuplicateByLocalID(id)
	require.NoError(t, err)
	require.NotEqual(t, id, dupID)

	dup, err := list.ByLocalID(dupID)
	require.NoError(t, err)
	require.Zero(t, dup.Private.PersistedID)
	require.Equal(t, "plot", dup.Private.ParameterValues["focus"])

	original, err := list.ByLocalID(id)
	require.NoError(t, err)
	require.EqualValues(t, 5, original.Private.PersistedID)

	// The copy is deep: editing it must not leak into the original.
	dup.Private.ParameterValues["focus"] = "style"
	original, err = list.ByLocalID(id)
	require.NoError(t, err)
	require.Equal(t, "plot", original.Private.ParameterValues["focus"])
}

func TestUnit_StepList_DuplicateTemplateRefPreservesTemplateID(t *testing.T) {
	list := chainengine.NewStepList()
	id, err := list.Append(templateStep("tpl-42"))
	require.NoError(t, err)

	dupID, err := list.DuplicateByLocalID(id)
	require.NoError(t, err)

	dup, err := list.ByLocalID(dupID)
	require.NoError(t, err)
	require.Equal(t, "tpl-42", dup.TemplateRef.TemplateID)
	requireOrderInvariant(t, list)
}

func TestUnit_StepList_ReorderEdgeCases(t *testing.T) {
	list := chainengine.NewStepList()

	// Reordering an empty list is a legal no-op.
	require.NoError(t, list.Reorder(0, 3))

	for range 3 {
		_, err := list.Append(privateStep(chainengine.TaskTypeRewrite))
		require.NoError(t, err)
	}

	// Same index is a no-op.
	before := list.Steps()
	require.NoError(t, list.Reorder(1, 1))
	require.Equal(t, before, list.Steps())

	// Indices outside a non-empty list are rejected.
	require.ErrorIs(t, list.Reorder(0, 3), chainengine.ErrStepIndexOutOfRange)
	require.ErrorIs(t, list.Reorder(-1, 0), chainengine.ErrStepIndexOutOfRange)
}

func TestUnit_StepList_ReorderMovesElement(t *testing.T) {
	list := chainengine.NewStepList()
	idA, _ := list.Append(privateStep(chainengine.TaskTypeSummarize))
	idB, _ := list.Append(privateStep(chainengine.TaskTypeRewrite))
	idC, _ := list.Append(privateStep(chainengine.TaskTypeTranslate))

	require.NoError(t, list.Reorder(2, 0))

	steps := list.Steps()
	require.Equal(t, []string{idC, idA, idB}, []string{steps[0].LocalID, steps[1].LocalID, steps[2].LocalID})
	requireOrderInvariant(t, list)
}

func TestUnit_StepList_UpdatePrivateStep(t *testing.T) {
	list := chainengine.NewStepList()
	id, _ := list.Append(privateStep(chainengine.TaskTypeSummarize))
	tplID, _ := list.Append(templateStep("tpl-1"))

	err := list.UpdatePrivateStep(id, chainengine.PrivateStep{
		TaskType:          chainengine.TaskTypeRewrite,
		CustomInstruction: "keep it terse",
	})
	require.NoError(t, err)

	updated, err := list.ByLocalID(id)
	require.NoError(t, err)
	require.Equal(t, chainengine.TaskTypeRewrite, updated.Private.TaskType)
	require.Equal(t, "keep it terse", updated.Private.CustomInstruction)
	require.Equal(t, 0, updated.Order, "order must survive update")

	// A template reference is invisible to private-step updates, so its ID
	// behaves exactly like an absent one.
	err = list.UpdatePrivateStep(tplID, chainengine.PrivateStep{TaskType: chainengine.TaskTypeRewrite})
	require.ErrorIs(t, err, chainengine.ErrNotFound)
	tpl, err := list.ByLocalID(tplID)
	require.NoError(t, err)
	require.Nil(t, tpl.Private, "template ref must be untouched by the failed update")

	err = list.UpdatePrivateStep("missing", chainengine.PrivateStep{TaskType: chainengine.TaskTypeRewrite})
	require.ErrorIs(t, err, chainengine.ErrNotFound)
}

func TestUnit_StepList_SetEnabled(t *testing.T) {
	list := chainengine.NewStepList()
	id, _ := list.Append(privateStep(chainengine.TaskTypeSummarize))
	tplID, _ := list.Append(templateStep("tpl-1"))

	require.NoError(t, list.SetEnabled(id, false))
	require.NoError(t, list.SetEnabled(tplID, false))

	for _, step := range list.Steps() {
		require.False(t, step.Enabled)
	}

	require.ErrorIs(t, list.SetEnabled("missing", true), chainengine.ErrNotFound)
}
