package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/diff"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/revision"
)

// CreateRevisionInput contains parameters for CreateRevision.
type CreateRevisionInput struct {
	ProjectID   string
	DocumentID  string // required
	Title       string // required
	Description *string
	Content     string  // required
	BasedOn     *string // revision this one was forked from

	// Propose creates the revision directly in proposed (or conflicted) state.
	Propose bool

	AuthorID     *string
	AuthorType   revision.AuthorType // default: user
	SourceClient *string
}

// RevisionOutput is returned by every revision mutation.
type RevisionOutput struct {
	Revision revision.Revision `json:"revision"`
	Stats    *diff.Stats       `json:"stats,omitempty"`
}

// CreateRevision stores a new revision. When basedOn resolves, the diff against
// the base content is computed and stored with it.
func CreateRevision(ctx context.Context, env *Env, input CreateRevisionInput) (*RevisionOutput, error) {
	title := strings.TrimSpace(input.Title)
	switch {
	case strings.TrimSpace(input.DocumentID) == "":
		return nil, errors.NewInvalidRequest("document_id is required")
	case title == "":
		return nil, errors.NewInvalidRequest("title is required")
	case input.Content == "":
		return nil, errors.NewInvalidRequest("content is required")
	}
	if input.AuthorType == "" {
		input.AuthorType = revision.AuthorUser
	}
	if !input.AuthorType.Valid() {
		return nil, errors.NewInvalidRequest("author_type must be one of: user, ai, system")
	}

	projectID := project(input.ProjectID)
	now := env.now()
	r := &revision.Revision{
		ID:           newID(),
		DocumentID:   input.DocumentID,
		ProjectID:    projectID,
		Title:        title,
		Description:  cleanOptionalString(input.Description),
		Content:      input.Content,
		Status:       revision.StatusDraft,
		BasedOn:      cleanOptionalString(input.BasedOn),
		AuthorID:     cleanOptionalString(input.AuthorID),
		AuthorType:   input.AuthorType,
		SourceClient: cleanOptionalString(input.SourceClient),
		CreatedAt:    now,
	}

	var stored *revision.Diff
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		doc, err := db.GetDocument(ctx, tx, projectID, r.DocumentID)
		if err != nil {
			return err
		}

		var base *revision.Revision
		if r.BasedOn != nil {
			base, err = db.GetRevision(ctx, tx, projectID, *r.BasedOn)
			if err != nil {
				return err
			}
			if base.DocumentID != doc.ID {
				return errors.NewInvalidRequest("based_on revision belongs to a different document")
			}
		}

		if input.Propose {
			propose(r, doc, env.policy(), now)
		}
		if err := db.InsertRevision(ctx, tx, r); err != nil {
			return err
		}

		if base != nil {
			stored, err = revisionDiff(base, r, now)
			if err != nil {
				return err
			}
			return db.InsertRevisionDiff(ctx, tx, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpRevisionCreate,
		ProjectID:  projectID,
		ActorID:    r.AuthorID,
		DocumentID: &r.DocumentID,
		Details:    revisionDetails(r),
	})

	out := &RevisionOutput{Revision: *r}
	if stored != nil {
		out.Stats = &stored.Stats
	}
	return out, nil
}

func (e *Env) policy() revision.ConflictPolicy {
	return revision.ConflictPolicy{RequireBase: e.config().RequireBaseRevision}
}

// propose moves r to proposed, or to conflicted when its base is stale.
func propose(r *revision.Revision, doc *revision.Document, policy revision.ConflictPolicy, now int64) {
	conflicted, reason := revision.CheckConflict(r.BasedOn, doc.MainRevisionID, policy)
	r.Status = revision.StatusProposed
	r.HasConflicts = conflicted
	r.ConflictReason = nil
	if conflicted {
		r.Status = revision.StatusConflicted
		r.ConflictReason = &reason
	}
	r.ProposedAt = &now
}

// revisionDiff computes the point-in-time diff of r against base.
func revisionDiff(base, r *revision.Revision, now int64) (*revision.Diff, error) {
	lines := diff.LineDiff(base.Content, r.Content)
	unified, err := diff.Unified(base.Content, r.Content, diff.Label{FromFile: base.ID, ToFile: r.ID})
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &revision.Diff{
		RevisionID:     r.ID,
		BaseRevisionID: base.ID,
		Unified:        unified,
		Lines:          lines,
		Stats:          diff.DiffStats(lines),
		Similarity:     diff.Similarity(base.Content, r.Content),
		CreatedAt:      now,
	}, nil
}

func revisionDetails(r *revision.Revision) map[string]any {
	d := map[string]any{
		"revision_id": r.ID,
		"status":      string(r.Status),
		"author_type": string(r.AuthorType),
	}
	if r.BasedOn != nil {
		d["based_on"] = *r.BasedOn
	}
	if r.SourceClient != nil {
		d["source_client"] = *r.SourceClient
	}
	if r.ConflictReason != nil {
		d["reason"] = *r.ConflictReason
	}
	return d
}

// RevisionActionInput addresses a revision for a state transition.
type RevisionActionInput struct {
	ProjectID  string
	RevisionID string
	ActorID    *string
	Reason     *string // reject only
}

// ProposeRevision moves a draft to proposed, or to conflicted when its base is
// no longer the document's main revision. A conflicted outcome is not an error.
func ProposeRevision(ctx context.Context, env *Env, input RevisionActionInput) (*RevisionOutput, error) {
	projectID := project(input.ProjectID)
	var r *revision.Revision
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		r, err = db.GetRevision(ctx, tx, projectID, input.RevisionID)
		if err != nil {
			return err
		}
		if r.Status != revision.StatusDraft {
			return errors.NewInvalidState("revision", r.ID, string(r.Status), "propose")
		}
		doc, err := db.GetDocument(ctx, tx, projectID, r.DocumentID)
		if err != nil {
			return err
		}
		propose(r, doc, env.policy(), env.now())
		return db.UpdateRevisionState(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpRevisionPropose,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &r.DocumentID,
		Details:    revisionDetails(r),
	})
	return &RevisionOutput{Revision: *r}, nil
}

// ApproveOutput is returned by ApproveRevision.
type ApproveOutput struct {
	Revision revision.Revision `json:"revision"`
	Document revision.Document `json:"document"`
	Version  revision.Version  `json:"version"`
}

// ApproveRevision makes a proposed revision the document's main revision.
// Demoting the old main, promoting the revision, rewriting the document and
// appending a version happen in one transaction. If the base has gone stale
// the revision is marked conflicted and a CONFLICT error is returned.
func ApproveRevision(ctx context.Context, env *Env, input RevisionActionInput) (*ApproveOutput, error) {
	projectID := project(input.ProjectID)
	now := env.now()

	var (
		r        *revision.Revision
		doc      *revision.Document
		version  *revision.Version
		conflict *errors.StrataError
	)
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		r, err = db.GetRevision(ctx, tx, projectID, input.RevisionID)
		if err != nil {
			return err
		}
		if r.Status != revision.StatusProposed {
			return errors.NewInvalidState("revision", r.ID, string(r.Status), "approve")
		}
		doc, err = db.GetDocument(ctx, tx, projectID, r.DocumentID)
		if err != nil {
			return err
		}

		if stale, reason := revision.CheckConflict(r.BasedOn, doc.MainRevisionID, env.policy()); stale {
			// Keep the conflicted mark: commit, then report.
			r.Status = revision.StatusConflicted
			r.HasConflicts = true
			r.ConflictReason = &reason
			conflict = errors.NewConflict(reason)
			return db.UpdateRevisionState(ctx, tx, r)
		}

		if err := db.DemoteMain(ctx, tx, doc.ID); err != nil {
			return err
		}
		r.Status = revision.StatusApproved
		r.IsMain = true
		r.HasConflicts = false
		r.ConflictReason = nil
		r.ApprovedAt = &now
		r.ApprovedBy = cleanOptionalString(input.ActorID)
		if err := db.UpdateRevisionState(ctx, tx, r); err != nil {
			return err
		}

		ok, err := db.SetDocumentMain(ctx, tx, doc.ID, doc.Version, r.ID, r.Content, now)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NewConflict("document " + doc.ID + " was modified concurrently; retry the approval")
		}
		doc.Content = r.Content
		doc.MainRevisionID = &r.ID
		doc.Version++
		doc.UpdatedAt = now

		version = &revision.Version{
			ID:         newID(),
			DocumentID: doc.ID,
			RevisionID: &r.ID,
			Content:    r.Content,
			CreatedBy:  r.ApprovedBy,
			CreatedAt:  now,
		}
		return db.InsertVersion(ctx, tx, version)
	})
	if err != nil {
		return nil, err
	}

	if conflict != nil {
		env.emit(ctx, audit.Event{
			Operation:  audit.OpRevisionConflict,
			ProjectID:  projectID,
			ActorID:    input.ActorID,
			DocumentID: &r.DocumentID,
			Details:    revisionDetails(r),
		})
		return nil, conflict
	}

	details := revisionDetails(r)
	details["version"] = version.Number
	env.emit(ctx, audit.Event{
		Operation:  audit.OpRevisionApprove,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &r.DocumentID,
		Details:    details,
	})
	return &ApproveOutput{Revision: *r, Document: *doc, Version: *version}, nil
}

// RejectRevision retires a revision that has not been approved.
func RejectRevision(ctx context.Context, env *Env, input RevisionActionInput) (*RevisionOutput, error) {
	projectID := project(input.ProjectID)
	now := env.now()

	var r *revision.Revision
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		r, err = db.GetRevision(ctx, tx, projectID, input.RevisionID)
		if err != nil {
			return err
		}
		if r.Status.Terminal() {
			return errors.NewImmutableState("revision", r.ID, string(r.Status))
		}
		r.Status = revision.StatusRejected
		r.RejectedAt = &now
		r.RejectedBy = cleanOptionalString(input.ActorID)
		if reason := cleanOptionalString(input.Reason); reason != nil {
			r.ConflictReason = reason
		}
		return db.UpdateRevisionState(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpRevisionReject,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &r.DocumentID,
		Details:    revisionDetails(r),
	})
	return &RevisionOutput{Revision: *r}, nil
}

// RebaseRevisionInput contains parameters for RebaseRevision.
type RebaseRevisionInput struct {
	ProjectID  string
	RevisionID string
	ActorID    *string

	// Content replaces the old revision's content in the new revision.
	Content *string
}

// RebaseOutput is returned by RebaseRevision.
type RebaseOutput struct {
	Revision revision.Revision `json:"revision"`
	Replaced revision.Revision `json:"replaced"`
	Stats    *diff.Stats       `json:"stats,omitempty"`
}

// RebaseRevision re-derives a proposed or conflicted revision onto the current
// main. The new revision is proposed and points back at the old one, which is
// rejected with RebaseReason.
func RebaseRevision(ctx context.Context, env *Env, input RebaseRevisionInput) (*RebaseOutput, error) {
	projectID := project(input.ProjectID)
	now := env.now()

	var (
		old, fresh *revision.Revision
		stored     *revision.Diff
	)
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		old, err = db.GetRevision(ctx, tx, projectID, input.RevisionID)
		if err != nil {
			return err
		}
		if old.Status != revision.StatusProposed && old.Status != revision.StatusConflicted {
			return errors.NewInvalidState("revision", old.ID, string(old.Status), "rebase")
		}
		doc, err := db.GetDocument(ctx, tx, projectID, old.DocumentID)
		if err != nil {
			return err
		}

		content := old.Content
		if input.Content != nil {
			if *input.Content == "" {
				return errors.NewInvalidRequest("content must not be empty")
			}
			content = *input.Content
		}
		author := cleanOptionalString(input.ActorID)
		if author == nil {
			author = old.AuthorID
		}
		fresh = &revision.Revision{
			ID:                 newID(),
			DocumentID:         old.DocumentID,
			ProjectID:          projectID,
			Title:              old.Title,
			Description:        old.Description,
			Content:            content,
			BasedOn:            doc.MainRevisionID,
			ReplacedRevisionID: &old.ID,
			AuthorID:           author,
			AuthorType:         old.AuthorType,
			SourceClient:       old.SourceClient,
			CreatedAt:          now,
		}
		propose(fresh, doc, env.policy(), now)
		if err := db.InsertRevision(ctx, tx, fresh); err != nil {
			return err
		}

		if doc.MainRevisionID != nil {
			base, err := db.GetRevision(ctx, tx, projectID, *doc.MainRevisionID)
			if err != nil {
				return err
			}
			if stored, err = revisionDiff(base, fresh, now); err != nil {
				return err
			}
			if err := db.InsertRevisionDiff(ctx, tx, stored); err != nil {
				return err
			}
		}

		reason := revision.RebaseReason
		old.Status = revision.StatusRejected
		old.RejectedAt = &now
		old.RejectedBy = cleanOptionalString(input.ActorID)
		old.ConflictReason = &reason
		return db.UpdateRevisionState(ctx, tx, old)
	})
	if err != nil {
		return nil, err
	}

	details := revisionDetails(fresh)
	details["replaced_revision_id"] = old.ID
	env.emit(ctx, audit.Event{
		Operation:  audit.OpRevisionRebase,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &fresh.DocumentID,
		Details:    details,
	})

	out := &RebaseOutput{Revision: *fresh, Replaced: *old}
	if stored != nil {
		out.Stats = &stored.Stats
	}
	return out, nil
}

// GetRevisionInput addresses a single revision.
type GetRevisionInput struct {
	ProjectID  string
	RevisionID string
}

// GetRevision returns a revision with the stats of its stored diff.
func GetRevision(ctx context.Context, env *Env, input GetRevisionInput) (*RevisionOutput, error) {
	r, err := db.GetRevision(ctx, env.DB, project(input.ProjectID), input.RevisionID)
	if err != nil {
		return nil, err
	}
	out := &RevisionOutput{Revision: *r}
	d, err := db.GetRevisionDiff(ctx, env.DB, r.ID)
	if err != nil {
		return nil, err
	}
	if d != nil {
		out.Stats = &d.Stats
	}
	return out, nil
}

// RevisionStatus is the non-sensitive state of a revision.
type RevisionStatus struct {
	ID                 string          `json:"id"`
	DocumentID         string          `json:"document_id"`
	Status             revision.Status `json:"status"`
	IsMain             bool            `json:"is_main"`
	HasConflicts       bool            `json:"has_conflicts"`
	ConflictReason     *string         `json:"conflict_reason,omitempty"`
	BasedOn            *string         `json:"based_on,omitempty"`
	ReplacedRevisionID *string         `json:"replaced_revision_id,omitempty"`
	CreatedAt          int64           `json:"created_at"`
	ProposedAt         *int64          `json:"proposed_at,omitempty"`
	ApprovedAt         *int64          `json:"approved_at,omitempty"`
	RejectedAt         *int64          `json:"rejected_at,omitempty"`
}

// GetRevisionStatus reads the state of a revision. It never writes.
func GetRevisionStatus(ctx context.Context, env *Env, input GetRevisionInput) (*RevisionStatus, error) {
	r, err := db.GetRevision(ctx, env.DB, project(input.ProjectID), input.RevisionID)
	if err != nil {
		return nil, err
	}
	return &RevisionStatus{
		ID:                 r.ID,
		DocumentID:         r.DocumentID,
		Status:             r.Status,
		IsMain:             r.IsMain,
		HasConflicts:       r.HasConflicts,
		ConflictReason:     r.ConflictReason,
		BasedOn:            r.BasedOn,
		ReplacedRevisionID: r.ReplacedRevisionID,
		CreatedAt:          r.CreatedAt,
		ProposedAt:         r.ProposedAt,
		ApprovedAt:         r.ApprovedAt,
		RejectedAt:         r.RejectedAt,
	}, nil
}

// ListRevisionsInput contains parameters for ListRevisions.
type ListRevisionsInput struct {
	ProjectID  string
	DocumentID string // required
	Status     *string
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListRevisionsOutput contains a page of revisions, newest first.
type ListRevisionsOutput struct {
	Items      []revision.Revision `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// ListRevisions returns a page of a document's revisions.
func ListRevisions(ctx context.Context, env *Env, input ListRevisionsInput) (*ListRevisionsOutput, error) {
	var status *revision.Status
	if s := cleanOptionalString(input.Status); s != nil {
		st := revision.Status(*s)
		if !st.Valid() {
			return nil, errors.NewInvalidRequest("status must be one of: draft, proposed, approved, rejected, conflicted")
		}
		status = &st
	}

	doc, err := lookupDocument(ctx, env.DB, project(input.ProjectID), input.DocumentID, "")
	if err != nil {
		return nil, err
	}

	limit, offset := page(input.Limit, input.Offset)
	revs, total, err := db.ListRevisions(ctx, env.DB, doc.ID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListRevisionsOutput{
		Items:      revs,
		Pagination: paginate(limit, offset, len(revs), total),
	}, nil
}

// GetRevisionDiffInput contains parameters for GetRevisionDiff.
type GetRevisionDiffInput struct {
	ProjectID    string
	RevisionID   string
	IncludeLines bool
	IncludeBody  bool // hunk bodies
}

// RevisionDiffOutput is the stored diff of a revision.
type RevisionDiffOutput struct {
	RevisionID     string           `json:"revision_id"`
	BaseRevisionID string           `json:"base_revision_id"`
	Unified        string           `json:"unified"`
	Stats          diff.Stats       `json:"stats"`
	Similarity     float64          `json:"similarity"`
	Hunks          []diff.Hunk      `json:"hunks"`
	Lines          *diff.LineResult `json:"lines,omitempty"`
	CreatedAt      int64            `json:"created_at"`
}

// GetRevisionDiff returns the diff stored when the revision was created.
// Revisions created without a base have no diff and yield NOT_FOUND.
func GetRevisionDiff(ctx context.Context, env *Env, input GetRevisionDiffInput) (*RevisionDiffOutput, error) {
	r, err := db.GetRevision(ctx, env.DB, project(input.ProjectID), input.RevisionID)
	if err != nil {
		return nil, err
	}
	d, err := db.GetRevisionDiff(ctx, env.DB, r.ID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, errors.NewNotFound("revision diff", r.ID)
	}

	hunks, err := diff.ParseHunks(d.Unified, input.IncludeBody)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	out := &RevisionDiffOutput{
		RevisionID:     d.RevisionID,
		BaseRevisionID: d.BaseRevisionID,
		Unified:        d.Unified,
		Stats:          d.Stats,
		Similarity:     d.Similarity,
		Hunks:          hunks,
		CreatedAt:      d.CreatedAt,
	}
	if input.IncludeLines {
		out.Lines = &d.Lines
	}
	return out, nil
}
