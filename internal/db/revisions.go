package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/hpungsan/strata/internal/diff"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/revision"
)

const revisionColumns = `
	id, document_id, project_id, title, description, content, status,
	based_on, is_main, has_conflicts, conflict_reason, replaced_revision_id,
	author_id, author_type, source_client,
	created_at, proposed_at, approved_at, rejected_at, approved_by, rejected_by`

// InsertRevision stores a new revision.
func InsertRevision(ctx context.Context, q Querier, r *revision.Revision) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO revisions (`+revisionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DocumentID, r.ProjectID, r.Title, toNullString(r.Description), r.Content, string(r.Status),
		toNullString(r.BasedOn), boolInt(r.IsMain), boolInt(r.HasConflicts), toNullString(r.ConflictReason), toNullString(r.ReplacedRevisionID),
		toNullString(r.AuthorID), string(r.AuthorType), toNullString(r.SourceClient),
		r.CreatedAt, toNullInt(r.ProposedAt), toNullInt(r.ApprovedAt), toNullInt(r.RejectedAt), toNullString(r.ApprovedBy), toNullString(r.RejectedBy),
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// UpdateRevisionState writes every mutable field of a revision.
// Content, title, lineage and authorship are immutable and never rewritten.
func UpdateRevisionState(ctx context.Context, q Querier, r *revision.Revision) error {
	res, err := q.ExecContext(ctx, `
		UPDATE revisions SET
			status = ?, is_main = ?, has_conflicts = ?, conflict_reason = ?, replaced_revision_id = ?,
			proposed_at = ?, approved_at = ?, rejected_at = ?, approved_by = ?, rejected_by = ?
		WHERE id = ?`,
		string(r.Status), boolInt(r.IsMain), boolInt(r.HasConflicts), toNullString(r.ConflictReason), toNullString(r.ReplacedRevisionID),
		toNullInt(r.ProposedAt), toNullInt(r.ApprovedAt), toNullInt(r.RejectedAt), toNullString(r.ApprovedBy), toNullString(r.RejectedBy),
		r.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewConflict("document already has a main revision")
		}
		return errors.NewStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n == 0 {
		return errors.NewNotFound("revision", r.ID)
	}
	return nil
}

// DemoteMain clears is_main on the document's current main revision, if any.
func DemoteMain(ctx context.Context, q Querier, documentID string) error {
	if _, err := q.ExecContext(ctx, `UPDATE revisions SET is_main = 0 WHERE document_id = ? AND is_main = 1`, documentID); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// GetRevision retrieves a revision by id within a project.
func GetRevision(ctx context.Context, q Querier, projectID, id string) (*revision.Revision, error) {
	row := q.QueryRowContext(ctx, `SELECT `+revisionColumns+` FROM revisions WHERE id = ? AND project_id = ?`, id, projectID)
	r, err := scanRevision(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("revision", id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return r, nil
}

// ListRevisions returns a page of a document's revisions, newest first.
func ListRevisions(ctx context.Context, q Querier, documentID string, status *revision.Status, limit, offset int) ([]revision.Revision, int, error) {
	where := ` WHERE document_id = ?`
	args := []any{documentID}
	if status != nil {
		where += ` AND status = ?`
		args = append(args, string(*status))
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStorage(err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM revisions`+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	defer rows.Close()

	revs := make([]revision.Revision, 0)
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, 0, errors.NewStorage(err)
		}
		revs = append(revs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	return revs, total, nil
}

// CountMainRevisions returns how many revisions of a document claim is_main.
func CountMainRevisions(ctx context.Context, q Querier, documentID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM revisions WHERE document_id = ? AND is_main = 1`, documentID).Scan(&n); err != nil {
		return 0, errors.NewStorage(err)
	}
	return n, nil
}

func scanRevision(s scanner) (*revision.Revision, error) {
	var (
		r              revision.Revision
		status         string
		authorType     string
		description    sql.NullString
		basedOn        sql.NullString
		isMain         int
		hasConflicts   int
		conflictReason sql.NullString
		replaced       sql.NullString
		authorID       sql.NullString
		sourceClient   sql.NullString
		proposedAt     sql.NullInt64
		approvedAt     sql.NullInt64
		rejectedAt     sql.NullInt64
		approvedBy     sql.NullString
		rejectedBy     sql.NullString
	)
	err := s.Scan(
		&r.ID, &r.DocumentID, &r.ProjectID, &r.Title, &description, &r.Content, &status,
		&basedOn, &isMain, &hasConflicts, &conflictReason, &replaced,
		&authorID, &authorType, &sourceClient,
		&r.CreatedAt, &proposedAt, &approvedAt, &rejectedAt, &approvedBy, &rejectedBy,
	)
	if err != nil {
		return nil, err
	}
	r.Status = revision.Status(status)
	r.AuthorType = revision.AuthorType(authorType)
	r.Description = fromNullString(description)
	r.BasedOn = fromNullString(basedOn)
	r.IsMain = isMain == 1
	r.HasConflicts = hasConflicts == 1
	r.ConflictReason = fromNullString(conflictReason)
	r.ReplacedRevisionID = fromNullString(replaced)
	r.AuthorID = fromNullString(authorID)
	r.SourceClient = fromNullString(sourceClient)
	r.ProposedAt = fromNullInt(proposedAt)
	r.ApprovedAt = fromNullInt(approvedAt)
	r.RejectedAt = fromNullInt(rejectedAt)
	r.ApprovedBy = fromNullString(approvedBy)
	r.RejectedBy = fromNullString(rejectedBy)
	return &r, nil
}

// InsertRevisionDiff stores the creation-time diff of a revision.
func InsertRevisionDiff(ctx context.Context, q Querier, d *revision.Diff) error {
	linesJSON, err := json.Marshal(d.Lines)
	if err != nil {
		return errors.NewInternal(err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO revision_diffs (
			revision_id, base_revision_id, unified, lines_json,
			lines_added, lines_removed, lines_unchanged, similarity, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RevisionID, d.BaseRevisionID, d.Unified, string(linesJSON),
		d.Stats.LinesAdded, d.Stats.LinesRemoved, d.Stats.LinesUnchanged, d.Similarity, d.CreatedAt,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// GetRevisionDiff returns the stored diff of a revision, or nil when the revision
// had no base at creation.
func GetRevisionDiff(ctx context.Context, q Querier, revisionID string) (*revision.Diff, error) {
	var (
		d         revision.Diff
		linesJSON string
	)
	err := q.QueryRowContext(ctx, `
		SELECT revision_id, base_revision_id, unified, lines_json,
			lines_added, lines_removed, lines_unchanged, similarity, created_at
		FROM revision_diffs WHERE revision_id = ?`, revisionID,
	).Scan(
		&d.RevisionID, &d.BaseRevisionID, &d.Unified, &linesJSON,
		&d.Stats.LinesAdded, &d.Stats.LinesRemoved, &d.Stats.LinesUnchanged, &d.Similarity, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	var lines diff.LineResult
	if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
		return nil, errors.NewInternal(err)
	}
	d.Lines = lines
	return &d, nil
}
