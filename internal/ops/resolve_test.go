package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
)

func TestApplyResolution_Merge(t *testing.T) {
	env, mem := newTestEnv(t)
	ctx := context.Background()
	docA := mustCreateDocument(t, env, "docs/a.md", "")
	docB := mustCreateDocument(t, env, "docs/b.md", "")
	other, err := CreateModule(ctx, env, CreateModuleInput{
		DocumentID: docA, Title: "Auth", Content: "## Auth\nTokens expire.\nRefresh tokens rotate.", Tags: []string{"security"},
	})
	require.NoError(t, err)
	anchor := mustCreateModule(t, env, docB, "Auth", "## Auth\nTokens expire.")
	mustGround(t, env, anchor.ID)
	c := mustInsertConflict(t, env, anchor, &other.Module, module.ConflictContent)

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{
		ConflictID: c.ID, Strategy: "merge", Note: stringPtr("combined"), ActorID: stringPtr("alice"),
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, []string{anchor.ID}, out.UpdatedModuleIDs)
	require.Empty(t, out.CreatedModuleIDs)
	require.Equal(t, module.ConflictResolved, out.Conflict.Status)
	require.NotNil(t, out.Conflict.ResolutionStrategy)
	require.Equal(t, module.StrategyMerge, *out.Conflict.ResolutionStrategy)
	require.Equal(t, "combined", *out.Conflict.ResolutionNote)
	require.Equal(t, "alice", *out.Conflict.ResolvedBy)

	got := mustGetModule(t, env, anchor.ID)
	require.Equal(t, "## Auth\nTokens expire.\n\nRefresh tokens rotate.", got.Content)
	require.Equal(t, []string{"security"}, got.Tags)
	require.False(t, got.IsGrounded, "merged content must be grounded again explicitly")

	hist, err := ModuleHistory(ctx, env, ModuleHistoryInput{ModuleID: anchor.ID})
	require.NoError(t, err)
	require.Len(t, hist.Items, 2) // grounded, ungrounded by edit
	last := hist.Items[len(hist.Items)-1]
	require.Equal(t, module.ActionUngrounded, last.Action)
	require.Equal(t, module.ReasonContentModified, *last.Reason)
	require.Equal(t, "## Auth\nTokens expire.", *last.ContentBefore)
	require.Equal(t, got.Content, *last.ContentAfter)

	doc, err := GetDocument(ctx, env, GetDocumentInput{ID: docB})
	require.NoError(t, err)
	require.Equal(t, module.StateUngrounded, doc.Document.GroundingState)

	require.Len(t, mem.ByOperation(audit.OpConflictResolve), 1)

	_, err = ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "merge"})
	if !errors.Is(err, errors.ErrImmutableState) {
		t.Errorf("resolving twice error = %v, want IMMUTABLE_STATE", err)
	}
}

func TestApplyResolution_ReplaceWritesResolutionRecord(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	anchor := mustCreateModule(t, env, docID, "Auth", "## Auth\nold")
	c := mustInsertConflict(t, env, anchor, nil, module.ConflictContent)

	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "replace"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("replace without source error = %v, want INVALID_REQUEST", err)
	}

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{
		ConflictID: c.ID, Strategy: "replace", CustomContent: stringPtr("## Auth\nnew"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{anchor.ID}, out.UpdatedModuleIDs)

	got := mustGetModule(t, env, anchor.ID)
	require.Equal(t, "## Auth\nnew", got.Content)
	require.False(t, got.IsGrounded)

	hist, err := ModuleHistory(ctx, env, ModuleHistoryInput{ModuleID: anchor.ID})
	require.NoError(t, err)
	require.Len(t, hist.Items, 1)
	require.Equal(t, "## Auth\nold", *hist.Items[0].ContentBefore)
	require.Equal(t, "## Auth\nnew", *hist.Items[0].ContentAfter)
	require.Contains(t, *hist.Items[0].Reason, c.ID)
}

func TestApplyResolution_ReplaceUngroundsBothSides(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	older, newer := twoDisagreeingModules(t, env)
	c := mustInsertConflict(t, env, newer, older, module.ConflictContent)

	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "replace"})
	require.NoError(t, err)

	got := mustGetModule(t, env, newer.ID)
	require.Equal(t, older.Content, got.Content)
	require.False(t, got.IsGrounded)
	require.True(t, mustGetModule(t, env, older.ID).IsGrounded)

	_, err = GroundModule(ctx, env, GroundModuleInput{ModuleID: newer.ID})
	require.NoError(t, err)
	require.True(t, mustGetModule(t, env, newer.ID).IsGrounded)
}

func TestApplyResolution_DeprecateConflicting(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	older, newer := twoDisagreeingModules(t, env)
	c := mustInsertConflict(t, env, newer, older, module.ConflictContent)

	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "deprecate", DeprecateTarget: "both"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("bad target error = %v, want INVALID_REQUEST", err)
	}

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{
		ConflictID: c.ID, Strategy: "deprecate", DeprecateTarget: TargetConflicting,
	})
	require.NoError(t, err)
	require.Equal(t, []string{older.ID}, out.UpdatedModuleIDs)

	require.False(t, mustGetModule(t, env, older.ID).IsGrounded)
	require.True(t, mustGetModule(t, env, newer.ID).IsGrounded)

	hist, err := ModuleHistory(ctx, env, ModuleHistoryInput{ModuleID: older.ID})
	require.NoError(t, err)
	last := hist.Items[len(hist.Items)-1]
	require.Equal(t, module.ActionUngrounded, last.Action)
	require.Equal(t, module.ReasonDeprecated, *last.Reason)

	doc, err := GetDocument(ctx, env, GetDocumentInput{ID: older.DocumentID})
	require.NoError(t, err)
	require.Equal(t, module.StateUngrounded, doc.Document.GroundingState)
}

func TestApplyResolution_Clarify(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	anchor := mustCreateModule(t, env, docID, "Auth", "## Auth\nmaybe one hour")
	other := mustCreateModule(t, env, docID, "Login", "## Login\nmaybe two hours")
	c := mustInsertConflict(t, env, anchor, other, module.ConflictScope)

	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "clarify"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("clarify without content error = %v, want INVALID_REQUEST", err)
	}

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{
		ConflictID: c.ID, Strategy: "clarify", CustomContent: stringPtr("## Auth\nAccess tokens last one hour."),
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{anchor.ID, other.ID}, out.UpdatedModuleIDs)

	require.True(t, mustGetModule(t, env, anchor.ID).IsGrounded)
	require.True(t, mustGetModule(t, env, other.ID).IsGrounded)

	doc, err := GetDocument(ctx, env, GetDocumentInput{ID: docID})
	require.NoError(t, err)
	require.Equal(t, module.StateGrounded, doc.Document.GroundingState)
}

func TestApplyResolution_SplitScopeShared(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	anchor := mustCreateModule(t, env, docID, "Auth", "## Auth\nTokens are signed.\nAuth only line.")
	other := mustCreateModule(t, env, docID, "Login", "## Login\nTokens are signed.\nLogin only line.")
	mustGround(t, env, anchor.ID)
	c := mustInsertConflict(t, env, anchor, other, module.ConflictScope)

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "split_scope"})
	require.NoError(t, err)
	require.Len(t, out.CreatedModuleIDs, 1)

	shared := mustGetModule(t, env, out.CreatedModuleIDs[0])
	require.Equal(t, "auth-shared", shared.ModuleKey)
	require.Equal(t, module.TypeSplit, shared.ModuleType)
	require.Contains(t, shared.Content, "Tokens are signed.")
	require.False(t, shared.IsGrounded)

	a := mustGetModule(t, env, anchor.ID)
	require.Equal(t, "## Auth\nAuth only line.", a.Content)
	require.Equal(t, []string{"auth-shared"}, a.DependsOn)
	require.False(t, a.IsGrounded)

	o := mustGetModule(t, env, other.ID)
	require.Equal(t, "## Login\nLogin only line.", o.Content)
	require.Equal(t, []string{"auth-shared"}, o.DependsOn)
}

func TestApplyResolution_SplitScopeCustom(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	anchor := mustCreateModule(t, env, docID, "Auth", "## Auth\neverything")
	c := mustInsertConflict(t, env, anchor, nil, module.ConflictScope)

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{
		ConflictID:    c.ID,
		Strategy:      "split_scope",
		CustomContent: stringPtr("## Tokens\nalpha\n\n## Sessions\nbeta\n"),
	})
	require.NoError(t, err)
	require.Len(t, out.CreatedModuleIDs, 1)

	require.Equal(t, "## Tokens\nalpha", mustGetModule(t, env, anchor.ID).Content)
	created := mustGetModule(t, env, out.CreatedModuleIDs[0])
	require.Equal(t, "sessions", created.ModuleKey)
	require.Equal(t, "## Sessions\nbeta", created.Content)
	require.False(t, created.IsGrounded)
}

func TestApplyResolution_VersionBoth(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	older, newer := twoDisagreeingModules(t, env)
	_, err := UngroundModule(ctx, env, GroundModuleInput{ModuleID: older.ID})
	require.NoError(t, err)
	c := mustInsertConflict(t, env, newer, older, module.ConflictVersion)

	out, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "version_both"})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{newer.ID, older.ID}, out.UpdatedModuleIDs)

	o := mustGetModule(t, env, older.ID)
	require.True(t, o.IsGrounded)
	require.Equal(t, []string{"context:docs/a.md", TagVersionBoth}, o.Tags)
	n := mustGetModule(t, env, newer.ID)
	require.Equal(t, []string{"context:docs/b.md", TagVersionBoth}, n.Tags)

	// newer was already grounded: a resolution record is still written.
	hist, err := ModuleHistory(ctx, env, ModuleHistoryInput{ModuleID: newer.ID})
	require.NoError(t, err)
	require.Len(t, hist.Items, 2)
}

func TestApplyResolution_Validation(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()

	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: "x", Strategy: "shrug"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("unknown strategy error = %v, want INVALID_REQUEST", err)
	}
	_, err = ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: "x", Strategy: "merge", CustomContent: stringPtr("")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("empty custom content error = %v, want INVALID_REQUEST", err)
	}
	_, err = ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: "01MISSING", Strategy: "merge"})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("missing conflict error = %v, want NOT_FOUND", err)
	}
}

func TestApplyResolution_FailureRollsBack(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	anchor := mustCreateModule(t, env, docID, "Auth", "## Auth\nsolo line")
	other := mustCreateModule(t, env, docID, "Login", "## Login\ndifferent")
	c := mustInsertConflict(t, env, anchor, other, module.ConflictScope)

	// No shared lines: split_scope fails and nothing is written.
	_, err := ApplyResolution(ctx, env, ApplyResolutionInput{ConflictID: c.ID, Strategy: "split_scope"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("error = %v, want INVALID_REQUEST", err)
	}
	got, err := GetConflict(ctx, env, GetConflictInput{ConflictID: c.ID})
	require.NoError(t, err)
	require.Equal(t, module.ConflictOpen, got.Conflict.Status)
	require.Equal(t, "## Auth\nsolo line", got.Module.Content)
}

func TestBatchResolveConflicts(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	a := mustCreateModule(t, env, docID, "A", "## A\none")
	b := mustCreateModule(t, env, docID, "B", "## B\ntwo")
	c1 := mustInsertConflict(t, env, a, nil, module.ConflictDependency)
	c2 := mustInsertConflict(t, env, b, nil, module.ConflictDependency)

	_, err := BatchResolveConflicts(ctx, env, BatchResolveInput{ConflictIDs: []string{c1.ID}, Strategy: "nope"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Fatalf("bad strategy error = %v, want INVALID_REQUEST", err)
	}

	out, err := BatchResolveConflicts(ctx, env, BatchResolveInput{
		ConflictIDs: []string{c1.ID, "01MISSING", c2.ID},
		Strategy:    "deprecate",
	})
	if !errors.Is(err, errors.ErrPartialFailure) {
		t.Fatalf("error = %v, want PARTIAL_FAILURE", err)
	}
	require.Equal(t, 2, out.Resolved)
	require.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	require.Contains(t, out.Errors[0], "01MISSING")

	list, err := ListConflicts(ctx, env, ListConflictsInput{Status: stringPtr("resolved")})
	require.NoError(t, err)
	require.Equal(t, 2, list.Pagination.Total)
}
