package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
)

// Deprecation targets.
const (
	TargetAnchor      = "anchor"
	TargetConflicting = "conflicting"
)

// Tags written by version_both.
const (
	TagVersionBoth   = "version_both"
	TagContextPrefix = "context:"
)

// ApplyResolutionInput contains parameters for ApplyResolution.
type ApplyResolutionInput struct {
	ProjectID     string
	ConflictID    string
	Strategy      string // required, one of module.Strategies
	CustomContent *string
	Note          *string
	ActorID       *string

	// DeprecateTarget selects which module deprecate ungrounds (default: anchor).
	DeprecateTarget string
}

// ApplyResolutionOutput reports the modules a resolution touched.
type ApplyResolutionOutput struct {
	Success          bool            `json:"success"`
	ConflictID       string          `json:"conflict_id"`
	Strategy         module.Strategy `json:"strategy"`
	UpdatedModuleIDs []string        `json:"updated_module_ids"`
	CreatedModuleIDs []string        `json:"created_module_ids"`
	Conflict         module.Conflict `json:"conflict"`
}

// ApplyResolution resolves an open or acknowledged conflict with one strategy.
// Module changes, their grounding history, the conflict transition and the
// affected documents' grounding states are written in one transaction.
func ApplyResolution(ctx context.Context, env *Env, input ApplyResolutionInput) (*ApplyResolutionOutput, error) {
	strategy, err := module.ParseStrategy(strings.TrimSpace(input.Strategy))
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	target := strings.TrimSpace(input.DeprecateTarget)
	if target == "" {
		target = TargetAnchor
	}
	if target != TargetAnchor && target != TargetConflicting {
		return nil, errors.NewInvalidRequest("deprecate_target must be one of: anchor, conflicting")
	}
	if input.CustomContent != nil && *input.CustomContent == "" {
		return nil, errors.NewInvalidRequest("custom_content must not be empty")
	}

	projectID := project(input.ProjectID)
	var res *resolver
	err = db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		c, err := db.GetConflict(ctx, tx, projectID, input.ConflictID)
		if err != nil {
			return err
		}
		if !c.Status.Active() {
			return errors.NewImmutableState("conflict", c.ID, string(c.Status))
		}
		anchor, err := db.GetModule(ctx, tx, projectID, c.ModuleID)
		if err != nil {
			return err
		}
		other, err := optionalModule(ctx, tx, projectID, c.ConflictingModuleID)
		if err != nil {
			return err
		}

		res = newResolver(ctx, tx, env, c, strategy, input.ActorID)
		if err := res.apply(anchor, other, input.CustomContent, target); err != nil {
			return err
		}
		if err := res.finish(); err != nil {
			return err
		}

		now := res.now
		c.Status = module.ConflictResolved
		c.ResolvedAt = &now
		c.ResolvedBy = cleanOptionalString(input.ActorID)
		c.ResolutionStrategy = &strategy
		c.UpdatedAt = now
		if note := cleanOptionalString(input.Note); note != nil {
			c.ResolutionNote = note
		}
		return db.UpdateConflict(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpConflictResolve,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		ModuleID:   &res.conflict.ModuleID,
		ConflictID: &res.conflict.ID,
		Details: map[string]any{
			"strategy":           string(strategy),
			"updated_module_ids": res.updated,
			"created_module_ids": res.created,
		},
	})
	return &ApplyResolutionOutput{
		Success:          true,
		ConflictID:       res.conflict.ID,
		Strategy:         strategy,
		UpdatedModuleIDs: res.updated,
		CreatedModuleIDs: res.created,
		Conflict:         *res.conflict,
	}, nil
}

// resolver applies one strategy inside a transaction and tracks which modules
// it touched so each gets a history record.
type resolver struct {
	ctx      context.Context
	tx       *sql.Tx
	env      *Env
	conflict *module.Conflict
	strategy module.Strategy
	actorID  *string
	now      int64
	reason   string

	updated   []string
	created   []string
	touched   map[string]*module.Module
	before    map[string]string
	historied map[string]bool
	documents map[string]bool
}

func newResolver(ctx context.Context, tx *sql.Tx, env *Env, c *module.Conflict, s module.Strategy, actorID *string) *resolver {
	return &resolver{
		ctx:       ctx,
		tx:        tx,
		env:       env,
		conflict:  c,
		strategy:  s,
		actorID:   actorID,
		now:       env.now(),
		reason:    fmt.Sprintf("resolved conflict %s with %s", c.ID, s),
		updated:   []string{},
		created:   []string{},
		touched:   make(map[string]*module.Module),
		before:    make(map[string]string),
		historied: make(map[string]bool),
		documents: make(map[string]bool),
	}
}

// apply dispatches on the closed strategy set.
func (r *resolver) apply(anchor, other *module.Module, custom *string, target string) error {
	switch r.strategy {
	case module.StrategyMerge:
		return r.merge(anchor, other, custom)
	case module.StrategyReplace:
		return r.replace(anchor, other, custom)
	case module.StrategyDeprecate:
		return r.deprecate(anchor, other, target)
	case module.StrategyClarify:
		return r.clarify(anchor, other, custom)
	case module.StrategySplitScope:
		return r.splitScope(anchor, other, custom)
	case module.StrategyVersionBoth:
		return r.versionBoth(anchor, other)
	}
	return errors.NewInvalidRequest("unknown resolution strategy " + string(r.strategy))
}

func (r *resolver) merge(anchor, other *module.Module, custom *string) error {
	if other == nil && custom == nil {
		return errors.NewInvalidRequest("merge needs a conflicting module or custom_content")
	}
	content := ""
	if custom != nil {
		content = *custom
	} else {
		content = module.MergeContent(anchor.Content, other.Content)
	}
	if other != nil {
		anchor.Tags = module.MergeTags(anchor.Tags, other.Tags)
	}
	return r.rewrite(anchor, content)
}

func (r *resolver) replace(anchor, other *module.Module, custom *string) error {
	switch {
	case custom != nil:
		return r.rewrite(anchor, *custom)
	case other != nil:
		return r.rewrite(anchor, other.Content)
	}
	return errors.NewInvalidRequest("replace needs a conflicting module or custom_content")
}

func (r *resolver) deprecate(anchor, other *module.Module, target string) error {
	m := anchor
	if target == TargetConflicting {
		if other == nil {
			return errors.NewInvalidRequest("conflict has no conflicting module to deprecate")
		}
		m = other
	}
	r.touch(m)
	reason := module.ReasonDeprecated
	changed, err := setGrounding(r.ctx, r.tx, m, groundingChange{
		Target:  false,
		Reason:  &reason,
		Source:  module.SourceManual,
		ActorID: r.actorID,
	}, r.now)
	if err != nil {
		return err
	}
	if changed {
		r.historied[m.ID] = true
	}
	r.markUpdated(m)
	return nil
}

func (r *resolver) clarify(anchor, other *module.Module, custom *string) error {
	if custom == nil {
		return errors.NewInvalidRequest("clarify requires custom_content")
	}
	if err := r.rewrite(anchor, *custom); err != nil {
		return err
	}
	// Both sides stay authoritative after clarification.
	if err := r.ground(anchor); err != nil {
		return err
	}
	if other != nil {
		r.touch(other)
		return r.ground(other)
	}
	return nil
}

// splitScope narrows the disputed module(s). With custom content, its first
// section replaces the anchor and each further section becomes a new module.
// Without it, lines shared by both modules move into a new "<key>-shared"
// module that both then depend on.
func (r *resolver) splitScope(anchor, other *module.Module, custom *string) error {
	if custom != nil {
		sections := module.Extract(*custom, r.env.config().ExtractHeadingLevel)
		if len(sections) == 0 {
			return errors.NewInvalidRequest("custom_content has no content to split")
		}
		if err := r.rewrite(anchor, sections[0].Content); err != nil {
			return err
		}
		for i, s := range sections[1:] {
			if _, err := r.create(anchor, s.Key, s.Title, s.Content, anchor.Order+i+1); err != nil {
				return err
			}
		}
		return nil
	}

	if other == nil {
		return errors.NewInvalidRequest("split_scope needs a conflicting module or custom_content")
	}
	shared, rest := module.PartitionShared(anchor.Content, other.Content)
	if len(shared) == 0 {
		return errors.NewInvalidRequest("modules share no lines; provide custom_content to split")
	}

	title := anchor.Title + " (shared)"
	sharedModule, err := r.create(anchor, anchor.ModuleKey+"-shared", title,
		"## "+title+"\n"+strings.Join(shared, "\n"), anchor.Order+1)
	if err != nil {
		return err
	}

	anchor.DependsOn = module.MergeTags(anchor.DependsOn, []string{sharedModule.ModuleKey})
	if err := r.rewrite(anchor, strings.TrimRight(strings.Join(rest, "\n"), "\n")); err != nil {
		return err
	}

	_, otherRest := module.PartitionShared(other.Content, sharedModule.Content)
	r.touch(other)
	other.DependsOn = module.MergeTags(other.DependsOn, []string{sharedModule.ModuleKey})
	return r.rewrite(other, strings.TrimRight(strings.Join(otherRest, "\n"), "\n"))
}

func (r *resolver) versionBoth(anchor, other *module.Module) error {
	if other == nil {
		return errors.NewInvalidRequest("version_both needs a conflicting module")
	}
	for _, m := range []*module.Module{anchor, other} {
		r.touch(m)
		doc, err := db.GetDocument(r.ctx, r.tx, m.ProjectID, m.DocumentID)
		if err != nil {
			return err
		}
		m.Tags = module.MergeTags(m.Tags, nil, TagVersionBoth, TagContextPrefix+doc.Path)
		m.UpdatedAt = r.now
		if err := db.UpdateModule(r.ctx, r.tx, m); err != nil {
			return err
		}
		r.markUpdated(m)
		if err := r.ground(m); err != nil {
			return err
		}
	}
	return nil
}

// touch snapshots m the first time the resolver sees it.
func (r *resolver) touch(m *module.Module) {
	if _, ok := r.touched[m.ID]; ok {
		return
	}
	r.touched[m.ID] = m
	r.before[m.ID] = m.Content
	r.documents[m.DocumentID] = true
}

func (r *resolver) markUpdated(m *module.Module) {
	for _, id := range r.updated {
		if id == m.ID {
			return
		}
	}
	r.updated = append(r.updated, m.ID)
}

// rewrite edits content through the ledger. A grounded module comes out
// ungrounded; only clarify and version_both ground again.
func (r *resolver) rewrite(m *module.Module, content string) error {
	r.touch(m)
	ungrounded, err := editContent(r.ctx, r.tx, m, content, r.actorID, r.now)
	if err != nil {
		return err
	}
	if ungrounded {
		r.historied[m.ID] = true
	}
	r.markUpdated(m)
	return nil
}

func (r *resolver) ground(m *module.Module) error {
	reason := r.reason
	changed, err := setGrounding(r.ctx, r.tx, m, groundingChange{
		Target:  true,
		Reason:  &reason,
		Source:  module.SourceManual,
		ActorID: r.actorID,
	}, r.now)
	if err != nil {
		return err
	}
	if changed {
		r.historied[m.ID] = true
		r.markUpdated(m)
	}
	return nil
}

// create inserts a new, ungrounded module in anchor's document.
func (r *resolver) create(anchor *module.Module, key, title, content string, order int) (*module.Module, error) {
	keys, err := db.ModuleKeys(r.ctx, r.tx, anchor.ProjectID, &anchor.DocumentID)
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(keys))
	for _, k := range keys {
		taken[k] = true
	}
	base := key
	for n := 2; taken[key]; n++ {
		key = fmt.Sprintf("%s-%d", base, n)
	}

	m := &module.Module{
		ID:          newID(),
		DocumentID:  anchor.DocumentID,
		ProjectID:   anchor.ProjectID,
		ModuleKey:   key,
		Title:       title,
		Content:     content,
		ContentHash: module.ContentHash(content),
		Order:       order,
		ModuleType:  module.TypeSplit,
		Tags:        anchor.Tags,
		CreatedAt:   r.now,
		UpdatedAt:   r.now,
	}
	if err := db.InsertModule(r.ctx, r.tx, m); err != nil {
		return nil, err
	}
	r.created = append(r.created, m.ID)
	r.touched[m.ID] = m
	r.historied[m.ID] = true // creation is not a mutation of an existing module
	r.documents[m.DocumentID] = true
	return m, nil
}

// finish writes a history record for every updated module that did not get
// one from a grounding change, then recomputes each touched document.
func (r *resolver) finish() error {
	for _, id := range r.updated {
		if r.historied[id] {
			continue
		}
		m := r.touched[id]
		before := r.before[id]
		after := m.Content
		reason := r.reason
		action := module.ActionUngrounded
		if m.IsGrounded {
			action = module.ActionGrounded
		}
		if err := db.InsertHistory(r.ctx, r.tx, &module.HistoryEntry{
			ID:            newID(),
			ModuleID:      m.ID,
			Action:        action,
			PreviousState: m.IsGrounded,
			NewState:      m.IsGrounded,
			Reason:        &reason,
			Source:        module.SourceManual,
			ActorID:       r.actorID,
			ContentBefore: &before,
			ContentAfter:  &after,
			CreatedAt:     r.now,
		}); err != nil {
			return err
		}
		r.historied[id] = true
	}
	for docID := range r.documents {
		if _, err := recomputeDocumentGrounding(r.ctx, r.tx, docID, r.now); err != nil {
			return err
		}
	}
	return nil
}

// BatchResolveInput contains parameters for BatchResolveConflicts.
type BatchResolveInput struct {
	ProjectID       string
	ConflictIDs     []string
	Strategy        string
	CustomContent   *string
	Note            *string
	DeprecateTarget string
	ActorID         *string
}

// BatchResolveOutput reports a batch resolution run.
type BatchResolveOutput struct {
	Resolved int               `json:"resolved"`
	Failed   int               `json:"failed"`
	Errors   []string          `json:"errors"`
	Results  []BatchItemResult `json:"results"`
}

// BatchResolveConflicts applies one strategy to each conflict independently.
// A failing conflict never aborts the others; when any fail the full output is
// returned together with a PARTIAL_FAILURE error.
func BatchResolveConflicts(ctx context.Context, env *Env, input BatchResolveInput) (*BatchResolveOutput, error) {
	if _, err := module.ParseStrategy(strings.TrimSpace(input.Strategy)); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	ids, err := validateBatchIDs(input.ConflictIDs)
	if err != nil {
		return nil, err
	}

	results := runBatch(ctx, ids, env.config().BatchConcurrency, func(ctx context.Context, id string) (bool, error) {
		_, err := ApplyResolution(ctx, env, ApplyResolutionInput{
			ProjectID:       input.ProjectID,
			ConflictID:      id,
			Strategy:        input.Strategy,
			CustomContent:   input.CustomContent,
			Note:            input.Note,
			DeprecateTarget: input.DeprecateTarget,
			ActorID:         input.ActorID,
		})
		return err == nil, err
	})

	out := &BatchResolveOutput{Errors: []string{}, Results: results}
	for _, r := range results {
		if r.Error != "" {
			out.Failed++
			out.Errors = append(out.Errors, r.ID+": "+r.Error)
			continue
		}
		out.Resolved++
	}
	if out.Failed > 0 {
		return out, errors.NewPartialFailure(out.Resolved, out.Failed, results)
	}
	return out, nil
}
