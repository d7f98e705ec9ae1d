package ops

import (
	"context"

	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/module"
)

// groundingChange describes a requested grounding flip.
type groundingChange struct {
	Target     bool
	Reason     *string
	Source     string
	ActorID    *string
	Confidence *float64
}

// setGrounding flips m to the target state, saves it and appends a history
// record. It is a no-op returning false when m is already in the target state.
// Callers run it inside the transaction that read m.
func setGrounding(ctx context.Context, q db.Querier, m *module.Module, c groundingChange, now int64) (bool, error) {
	if m.IsGrounded == c.Target {
		return false, nil
	}
	if c.Source == "" {
		c.Source = module.SourceManual
	}

	action := module.ActionUngrounded
	if c.Target {
		action = module.ActionGrounded
	}
	h := &module.HistoryEntry{
		ID:            newID(),
		ModuleID:      m.ID,
		Action:        action,
		PreviousState: m.IsGrounded,
		NewState:      c.Target,
		Reason:        c.Reason,
		Source:        c.Source,
		ActorID:       c.ActorID,
		Confidence:    c.Confidence,
		CreatedAt:     now,
	}

	m.IsGrounded = c.Target
	if c.Target {
		m.GroundedAt = &now
		m.GroundingSource = &c.Source
		if c.Confidence != nil {
			m.ConfidenceScore = c.Confidence
		}
	} else {
		m.GroundedAt = nil
		m.GroundingSource = nil
	}
	m.UpdatedAt = now

	if err := db.InsertHistory(ctx, q, h); err != nil {
		return false, err
	}
	if err := db.UpdateModule(ctx, q, m); err != nil {
		return false, err
	}
	return true, nil
}

// retireModule marks a module whose section left its document. The row and its
// history stay; a grounded module is ungrounded, and either way one history
// record notes the retirement.
func retireModule(ctx context.Context, q db.Querier, m *module.Module, actorID *string, now int64) error {
	reason := module.ReasonRetired
	m.ModuleType = module.TypeRetired
	changed, err := setGrounding(ctx, q, m, groundingChange{
		Target:  false,
		Reason:  &reason,
		Source:  module.SourceAutomatic,
		ActorID: actorID,
	}, now)
	if err != nil || changed {
		return err
	}

	content := m.Content
	if err := db.InsertHistory(ctx, q, &module.HistoryEntry{
		ID:            newID(),
		ModuleID:      m.ID,
		Action:        module.ActionUngrounded,
		PreviousState: false,
		NewState:      false,
		Reason:        &reason,
		Source:        module.SourceAutomatic,
		ActorID:       actorID,
		ContentBefore: &content,
		ContentAfter:  &content,
		CreatedAt:     now,
	}); err != nil {
		return err
	}
	m.UpdatedAt = now
	return db.UpdateModule(ctx, q, m)
}

// editContent replaces m's content and saves it. A grounded module is first
// ungrounded with a history record carrying both snapshots. Reports whether
// the module was ungrounded.
func editContent(ctx context.Context, q db.Querier, m *module.Module, content string, actorID *string, now int64) (bool, error) {
	ungrounded := false
	if m.IsGrounded && content != m.Content {
		before := m.Content
		after := content
		reason := module.ReasonContentModified
		if err := db.InsertHistory(ctx, q, &module.HistoryEntry{
			ID:            newID(),
			ModuleID:      m.ID,
			Action:        module.ActionUngrounded,
			PreviousState: true,
			NewState:      false,
			Reason:        &reason,
			Source:        module.SourceAutomatic,
			ActorID:       actorID,
			ContentBefore: &before,
			ContentAfter:  &after,
			CreatedAt:     now,
		}); err != nil {
			return false, err
		}
		m.IsGrounded = false
		m.GroundedAt = nil
		m.GroundingSource = nil
		ungrounded = true
	}

	m.Content = content
	m.ContentHash = module.ContentHash(content)
	m.UpdatedAt = now
	if err := db.UpdateModule(ctx, q, m); err != nil {
		return false, err
	}
	return ungrounded, nil
}

// recomputeDocumentGrounding derives the document's grounding state from its
// current modules and stores it. grounded_at is kept while the document stays
// grounded, set on entering that state and cleared on leaving it.
func recomputeDocumentGrounding(ctx context.Context, q db.Querier, documentID string, now int64) (string, error) {
	flags, err := db.ModuleGroundedFlags(ctx, q, documentID)
	if err != nil {
		return "", err
	}
	state := module.AggregateState(flags)

	prevState, prevAt, err := db.GetDocumentGrounding(ctx, q, documentID)
	if err != nil {
		return "", err
	}

	var groundedAt *int64
	if state == module.StateGrounded {
		groundedAt = &now
		if prevState == module.StateGrounded && prevAt != nil {
			groundedAt = prevAt
		}
	}
	if state == prevState && equalInt64Ptr(groundedAt, prevAt) {
		return state, nil
	}
	if err := db.SetDocumentGrounding(ctx, q, documentID, state, groundedAt); err != nil {
		return "", err
	}
	return state, nil
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
