package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
	"github.com/hpungsan/strata/internal/revision"
)

// CreateDocumentInput contains parameters for CreateDocument.
type CreateDocumentInput struct {
	ProjectID string
	Path      string // required, unique per project
	Title     *string
	Content   string // optional initial content, recorded as version 1
	ActorID   *string
}

// DocumentOutput wraps a document.
type DocumentOutput struct {
	Document revision.Document `json:"document"`
	HTML     string            `json:"html,omitempty"`
}

// CreateDocument stores a new document. Initial content is snapshotted as a
// version but no main revision is created.
func CreateDocument(ctx context.Context, env *Env, input CreateDocumentInput) (*DocumentOutput, error) {
	path := strings.TrimSpace(input.Path)
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}

	now := env.now()
	d := &revision.Document{
		ID:             newID(),
		ProjectID:      project(input.ProjectID),
		Path:           path,
		Title:          cleanOptionalString(input.Title),
		Content:        input.Content,
		GroundingState: module.StateUngrounded,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		if err := db.InsertDocument(ctx, tx, d); err != nil {
			return err
		}
		if d.Content == "" {
			return nil
		}
		return db.InsertVersion(ctx, tx, &revision.Version{
			ID:         newID(),
			DocumentID: d.ID,
			Content:    d.Content,
			CreatedBy:  input.ActorID,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpDocumentCreate,
		ProjectID:  d.ProjectID,
		ActorID:    input.ActorID,
		DocumentID: &d.ID,
		Details:    map[string]any{"path": d.Path},
	})
	return &DocumentOutput{Document: *d}, nil
}

// GetDocumentInput addresses a document by id or by path.
type GetDocumentInput struct {
	ProjectID   string
	ID          string
	Path        string
	IncludeHTML bool
}

// GetDocument retrieves a document, optionally rendering its content to HTML.
func GetDocument(ctx context.Context, env *Env, input GetDocumentInput) (*DocumentOutput, error) {
	d, err := lookupDocument(ctx, env.DB, project(input.ProjectID), input.ID, input.Path)
	if err != nil {
		return nil, err
	}
	out := &DocumentOutput{Document: *d}
	if input.IncludeHTML {
		html, err := module.RenderHTML(d.Content)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out.HTML = html
	}
	return out, nil
}

func lookupDocument(ctx context.Context, q db.Querier, projectID, id, path string) (*revision.Document, error) {
	id = strings.TrimSpace(id)
	path = strings.TrimSpace(path)
	switch {
	case id != "" && path != "":
		return nil, errors.NewInvalidRequest("specify either id or path, not both")
	case id != "":
		return db.GetDocument(ctx, q, projectID, id)
	case path != "":
		return db.GetDocumentByPath(ctx, q, projectID, path)
	default:
		return nil, errors.NewInvalidRequest("document id or path is required")
	}
}

// ListDocumentsInput contains parameters for ListDocuments.
type ListDocumentsInput struct {
	ProjectID string
	Limit     int // default: 20, max: 100
	Offset    int
}

// ListDocumentsOutput contains a page of documents.
type ListDocumentsOutput struct {
	Items      []revision.Document `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// ListDocuments returns a page of a project's documents ordered by path.
func ListDocuments(ctx context.Context, env *Env, input ListDocumentsInput) (*ListDocumentsOutput, error) {
	limit, offset := page(input.Limit, input.Offset)
	docs, total, err := db.ListDocuments(ctx, env.DB, project(input.ProjectID), limit, offset)
	if err != nil {
		return nil, err
	}
	return &ListDocumentsOutput{
		Items:      docs,
		Pagination: paginate(limit, offset, len(docs), total),
	}, nil
}

// DeleteDocumentInput contains parameters for DeleteDocument.
type DeleteDocumentInput struct {
	ProjectID string
	ID        string
	ActorID   *string
}

// DeleteDocumentOutput reports a deletion.
type DeleteDocumentOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// DeleteDocument removes a document with its revisions, versions, modules,
// grounding history and conflicts.
func DeleteDocument(ctx context.Context, env *Env, input DeleteDocumentInput) (*DeleteDocumentOutput, error) {
	if strings.TrimSpace(input.ID) == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	projectID := project(input.ProjectID)
	if err := db.DeleteDocument(ctx, env.DB, projectID, input.ID); err != nil {
		return nil, err
	}
	env.emit(ctx, audit.Event{
		Operation:  audit.OpDocumentDelete,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &input.ID,
	})
	return &DeleteDocumentOutput{ID: input.ID, Deleted: true}, nil
}

// ListVersionsInput contains parameters for ListVersions.
type ListVersionsInput struct {
	ProjectID  string
	DocumentID string
}

// ListVersionsOutput lists a document's snapshots, newest first.
type ListVersionsOutput struct {
	DocumentID string             `json:"document_id"`
	Items      []revision.Version `json:"items"`
}

// ListVersions returns the append-only content snapshots of a document.
func ListVersions(ctx context.Context, env *Env, input ListVersionsInput) (*ListVersionsOutput, error) {
	d, err := lookupDocument(ctx, env.DB, project(input.ProjectID), input.DocumentID, "")
	if err != nil {
		return nil, err
	}
	versions, err := db.ListVersions(ctx, env.DB, d.ID)
	if err != nil {
		return nil, err
	}
	return &ListVersionsOutput{DocumentID: d.ID, Items: versions}, nil
}
