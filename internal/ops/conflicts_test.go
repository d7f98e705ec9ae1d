package ops

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
	"github.com/hpungsan/strata/internal/oracle"
)

// twoDisagreeingModules creates grounded "auth" modules in two documents whose
// texts disagree.
func twoDisagreeingModules(t *testing.T, env *Env) (older, newer *module.Module) {
	t.Helper()
	docA := mustCreateDocument(t, env, "docs/a.md", "")
	docB := mustCreateDocument(t, env, "docs/b.md", "")
	older = mustCreateModule(t, env, docA, "Auth", "## Auth\nTokens are JWTs signed with RS256 and verified on every request.")
	newer = mustCreateModule(t, env, docB, "Auth", "## Auth\nSessions use opaque cookies kept in server memory.")
	mustGround(t, env, older.ID)
	mustGround(t, env, newer.ID)
	return older, newer
}

func TestDetectConflicts_StoresAndDeduplicates(t *testing.T) {
	env, mem := newTestEnv(t)
	ctx := context.Background()
	older, newer := twoDisagreeingModules(t, env)

	out, err := DetectConflicts(ctx, env, DetectConflictsInput{})
	require.NoError(t, err)
	require.Equal(t, 1, out.Created)
	require.Len(t, out.Conflicts, 1)
	c := out.Conflicts[0]
	require.Equal(t, module.ConflictContent, c.ConflictType)
	require.Equal(t, module.ConflictOpen, c.Status)
	require.Equal(t, newer.ID, c.ModuleID)
	require.NotNil(t, c.ConflictingModuleID)
	require.Equal(t, older.ID, *c.ConflictingModuleID)
	require.Equal(t, oracle.HeuristicName, c.DetectedBy)
	require.Equal(t, 2, out.Usage.ModulesScanned)
	require.False(t, out.Truncated)

	again, err := DetectConflicts(ctx, env, DetectConflictsInput{})
	require.NoError(t, err)
	require.Equal(t, 0, again.Created)
	require.Equal(t, 1, again.Skipped)

	list, err := ListConflicts(ctx, env, ListConflictsInput{Status: stringPtr("open")})
	require.NoError(t, err)
	require.Equal(t, 1, list.Pagination.Total)

	require.Len(t, mem.ByOperation(audit.OpConflictDetect), 1)
}

func TestDetectConflicts_GroundedOnlyByDefault(t *testing.T) {
	env, _ := newTestEnv(t)
	ctx := context.Background()
	docA := mustCreateDocument(t, env, "docs/a.md", "")
	docB := mustCreateDocument(t, env, "docs/b.md", "")
	mustCreateModule(t, env, docA, "Auth", "## Auth\nTokens are JWTs.")
	mustCreateModule(t, env, docB, "Auth", "## Auth\nSessions are cookies kept in memory.")

	out, err := DetectConflicts(ctx, env, DetectConflictsInput{})
	require.NoError(t, err)
	require.Equal(t, 0, out.Created)

	out, err = DetectConflicts(ctx, env, DetectConflictsInput{AllModules: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Created)
}

func TestDetectConflicts_MaxModulesTruncates(t *testing.T) {
	env, _ := newTestEnv(t)
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	for _, title := range []string{"A", "B", "C"} {
		mustCreateModule(t, env, docID, title, "## "+title+"\n"+title)
	}

	out, err := DetectConflicts(context.Background(), env, DetectConflictsInput{AllModules: true, MaxModules: 2})
	require.NoError(t, err)
	require.True(t, out.Truncated)
	require.Equal(t, 2, out.Usage.ModulesScanned)
}

func TestDetectConflicts_MissingDependency(t *testing.T) {
	env, _ := newTestEnv(t)
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	out, err := CreateModule(context.Background(), env, CreateModuleInput{
		DocumentID: docID,
		Title:      "Login",
		Content:    "## Login\nSee the session module.",
		DependsOn:  []string{"sessions"},
	})
	require.NoError(t, err)

	det, err := DetectConflicts(context.Background(), env, DetectConflictsInput{AllModules: true})
	require.NoError(t, err)
	require.Len(t, det.Conflicts, 1)
	require.Equal(t, module.ConflictDependency, det.Conflicts[0].ConflictType)
	require.Equal(t, out.Module.ID, det.Conflicts[0].ModuleID)
	require.Nil(t, det.Conflicts[0].ConflictingModuleID)
}

func TestDetectConflicts_UnknownDocument(t *testing.T) {
	env, _ := newTestEnv(t)
	_, err := DetectConflicts(context.Background(), env, DetectConflictsInput{DocumentID: stringPtr("01NOPE")})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}

type failingOracle struct{}

func (failingOracle) Name() string { return "failing" }

func (failingOracle) Detect(context.Context, oracle.Scope) (*oracle.Detection, error) {
	return nil, context.DeadlineExceeded
}

func TestDetectConflicts_OracleFailureIsInternal(t *testing.T) {
	env, _ := newTestEnv(t)
	env.Oracle = failingOracle{}
	_, err := DetectConflicts(context.Background(), env, DetectConflictsInput{})
	if !errors.Is(err, errors.ErrInternal) {
		t.Errorf("error = %v, want INTERNAL", err)
	}
}

type fixedOracle struct{ candidates []oracle.Candidate }

func (fixedOracle) Name() string { return "fixed" }

func (o fixedOracle) Detect(context.Context, oracle.Scope) (*oracle.Detection, error) {
	return &oracle.Detection{Candidates: o.candidates}, nil
}

func TestDetectConflicts_DropsMalformedCandidates(t *testing.T) {
	env, _ := newTestEnv(t)
	docID := mustCreateDocument(t, env, "docs/a.md", "")
	m := mustCreateModule(t, env, docID, "A", "## A\none")

	env.Oracle = fixedOracle{candidates: []oracle.Candidate{
		{ConflictType: "weird", Severity: module.SeverityLow, ModuleID: m.ID},
		{ConflictType: module.ConflictScope, Severity: module.SeverityLow, ModuleID: "01GONE"},
		{ConflictType: module.ConflictScope, Severity: module.SeverityLow, ModuleID: m.ID, Description: "first"},
	}}
	out, err := DetectConflicts(context.Background(), env, DetectConflictsInput{AllModules: true})
	require.NoError(t, err)
	require.Equal(t, 1, out.Created)
	require.Equal(t, 2, out.Skipped)

	// A changed description updates the active conflict in place.
	env.Oracle = fixedOracle{candidates: []oracle.Candidate{
		{ConflictType: module.ConflictScope, Severity: module.SeverityHigh, ModuleID: m.ID, Description: "second"},
	}}
	out, err = DetectConflicts(context.Background(), env, DetectConflictsInput{AllModules: true})
	require.NoError(t, err)
	require.Equal(t, 0, out.Created)
	require.Equal(t, 1, out.Updated)
	require.Equal(t, "second", out.Conflicts[0].Description)
	require.Equal(t, module.SeverityHigh, out.Conflicts[0].Severity)
}

func TestConflictTransitions(t *testing.T) {
	env, mem := newTestEnv(t)
	ctx := context.Background()
	older, newer := twoDisagreeingModules(t, env)
	c := mustInsertConflict(t, env, newer, older, module.ConflictContent)

	got, err := GetConflict(ctx, env, GetConflictInput{ConflictID: c.ID})
	require.NoError(t, err)
	require.NotNil(t, got.Module)
	require.NotNil(t, got.ConflictingModule)

	ack, err := AcknowledgeConflict(ctx, env, ConflictActionInput{ConflictID: c.ID, Note: stringPtr("looking")})
	require.NoError(t, err)
	require.Equal(t, module.ConflictAcknowledged, ack.Conflict.Status)

	_, err = AcknowledgeConflict(ctx, env, ConflictActionInput{ConflictID: c.ID})
	if !errors.Is(err, errors.ErrInvalidState) {
		t.Errorf("re-acknowledge error = %v, want INVALID_STATE", err)
	}

	ign, err := IgnoreConflict(ctx, env, ConflictActionInput{ConflictID: c.ID, ActorID: stringPtr("bob")})
	require.NoError(t, err)
	require.Equal(t, module.ConflictIgnored, ign.Conflict.Status)
	require.NotNil(t, ign.Conflict.ResolvedAt)
	require.Equal(t, "bob", *ign.Conflict.ResolvedBy)

	_, err = IgnoreConflict(ctx, env, ConflictActionInput{ConflictID: c.ID})
	if !errors.Is(err, errors.ErrImmutableState) {
		t.Errorf("ignore ignored error = %v, want IMMUTABLE_STATE", err)
	}
	_, err = SuggestResolution(ctx, env, GetConflictInput{ConflictID: c.ID})
	if !errors.Is(err, errors.ErrImmutableState) {
		t.Errorf("suggest on ignored error = %v, want IMMUTABLE_STATE", err)
	}

	// Modules are untouched by ignore.
	require.True(t, mustGetModule(t, env, older.ID).IsGrounded)
	require.True(t, mustGetModule(t, env, newer.ID).IsGrounded)

	events, err := ListAuditEvents(ctx, env, ListAuditEventsInput{ConflictID: &c.ID})
	require.NoError(t, err)
	require.Len(t, events.Items, 2)
	require.Equal(t, audit.OpConflictIgnore, events.Items[0].Operation)
	require.Len(t, mem.ByOperation(audit.OpConflictAcknowledge), 1)
}

func TestSuggestResolution(t *testing.T) {
	env, _ := newTestEnv(t)
	older, newer := twoDisagreeingModules(t, env)
	c := mustInsertConflict(t, env, newer, older, module.ConflictVersion)

	out, err := SuggestResolution(context.Background(), env, GetConflictInput{ConflictID: c.ID})
	require.NoError(t, err)
	require.Equal(t, c.ID, out.ConflictID)
	require.NotEmpty(t, out.Suggestions)
	require.Equal(t, module.StrategyVersionBoth, out.RecommendedStrategy)
}

func TestListConflicts_Validation(t *testing.T) {
	env, _ := newTestEnv(t)
	_, err := ListConflicts(context.Background(), env, ListConflictsInput{Status: stringPtr("closed")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad status error = %v, want INVALID_REQUEST", err)
	}
	_, err = ListConflicts(context.Background(), env, ListConflictsInput{Severity: stringPtr("urgent")})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("bad severity error = %v, want INVALID_REQUEST", err)
	}
}
