package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/revision"
)

const documentColumns = `
	id, project_id, path, title, content, main_revision_id, version,
	grounding_state, grounded_at, created_at, updated_at`

// InsertDocument stores a new document.
func InsertDocument(ctx context.Context, q Querier, d *revision.Document) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Path, toNullString(d.Title), d.Content, toNullString(d.MainRevisionID), d.Version,
		d.GroundingState, toNullInt(d.GroundedAt), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("document", d.Path)
		}
		return errors.NewStorage(err)
	}
	return nil
}

// GetDocument retrieves a document by id within a project.
// A document in another project is reported as not found.
func GetDocument(ctx context.Context, q Querier, projectID, id string) (*revision.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ? AND project_id = ?`, id, projectID)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return d, nil
}

// GetDocumentByPath retrieves a document by its path within a project.
func GetDocumentByPath(ctx context.Context, q Querier, projectID, path string) (*revision.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE project_id = ? AND path = ?`, projectID, path)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("document", path)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return d, nil
}

// ListDocuments returns a page of documents ordered by path, plus the total count.
func ListDocuments(ctx context.Context, q Querier, projectID string, limit, offset int) ([]revision.Document, int, error) {
	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE project_id = ?`, projectID).Scan(&total); err != nil {
		return nil, 0, errors.NewStorage(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE project_id = ?
		ORDER BY path ASC
		LIMIT ? OFFSET ?`, projectID, limit, offset)
	if err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	defer rows.Close()

	docs := make([]revision.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, errors.NewStorage(err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	return docs, total, nil
}

// DeleteDocument removes a document; revisions, versions, modules, history and
// conflicts go with it through ON DELETE CASCADE.
func DeleteDocument(ctx context.Context, q Querier, projectID, id string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE id = ? AND project_id = ?`, id, projectID)
	if err != nil {
		return errors.NewStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n == 0 {
		return errors.NewNotFound("document", id)
	}
	return nil
}

// SetDocumentMain replaces content and main pointer if the document is still at
// expectedVersion. Returns false when another writer got there first.
func SetDocumentMain(ctx context.Context, q Querier, id string, expectedVersion int64, mainID, content string, now int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE documents
		SET content = ?, main_revision_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		content, mainID, now, id, expectedVersion,
	)
	if err != nil {
		return false, errors.NewStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.NewStorage(err)
	}
	return n == 1, nil
}

// SetDocumentGrounding stores the aggregate grounding state.
func SetDocumentGrounding(ctx context.Context, q Querier, id, state string, groundedAt *int64) error {
	_, err := q.ExecContext(ctx, `
		UPDATE documents SET grounding_state = ?, grounded_at = ? WHERE id = ?`,
		state, toNullInt(groundedAt), id,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// GetDocumentGrounding returns the stored grounding state of a document.
func GetDocumentGrounding(ctx context.Context, q Querier, id string) (string, *int64, error) {
	var (
		state      string
		groundedAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `SELECT grounding_state, grounded_at FROM documents WHERE id = ?`, id).Scan(&state, &groundedAt)
	if err == sql.ErrNoRows {
		return "", nil, errors.NewNotFound("document", id)
	}
	if err != nil {
		return "", nil, errors.NewStorage(err)
	}
	return state, fromNullInt(groundedAt), nil
}

func scanDocument(s scanner) (*revision.Document, error) {
	var (
		d          revision.Document
		title      sql.NullString
		mainID     sql.NullString
		groundedAt sql.NullInt64
	)
	err := s.Scan(
		&d.ID, &d.ProjectID, &d.Path, &title, &d.Content, &mainID, &d.Version,
		&d.GroundingState, &groundedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Title = fromNullString(title)
	d.MainRevisionID = fromNullString(mainID)
	d.GroundedAt = fromNullInt(groundedAt)
	return &d, nil
}

// InsertVersion appends a content snapshot with the next version number.
func InsertVersion(ctx context.Context, q Querier, v *revision.Version) error {
	if err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM document_versions WHERE document_id = ?`, v.DocumentID,
	).Scan(&v.Number); err != nil {
		return errors.NewStorage(err)
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, revision_id, number, content, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.DocumentID, toNullString(v.RevisionID), v.Number, v.Content, toNullString(v.CreatedBy), v.CreatedAt,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// ListVersions returns all snapshots of a document, newest first.
func ListVersions(ctx context.Context, q Querier, documentID string) ([]revision.Version, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, revision_id, number, content, created_by, created_at
		FROM document_versions
		WHERE document_id = ?
		ORDER BY number DESC`, documentID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	versions := make([]revision.Version, 0)
	for rows.Next() {
		var (
			v         revision.Version
			revID     sql.NullString
			createdBy sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.DocumentID, &revID, &v.Number, &v.Content, &createdBy, &v.CreatedAt); err != nil {
			return nil, errors.NewStorage(err)
		}
		v.RevisionID = fromNullString(revID)
		v.CreatedBy = fromNullString(createdBy)
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return versions, nil
}
