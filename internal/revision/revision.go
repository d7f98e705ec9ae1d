// Package revision holds the document, revision and version model together with
// the pure rules of the revision state machine.
package revision

import (
	"fmt"

	"github.com/hpungsan/strata/internal/diff"
)

// Status is the lifecycle state of a revision.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusProposed   Status = "proposed"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusConflicted Status = "conflicted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusProposed, StatusApproved, StatusRejected, StatusConflicted:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// AuthorType identifies who created a revision.
type AuthorType string

const (
	AuthorUser   AuthorType = "user"
	AuthorAI     AuthorType = "ai"
	AuthorSystem AuthorType = "system"
)

// Valid reports whether a is a known author type.
func (a AuthorType) Valid() bool {
	return a == AuthorUser || a == AuthorAI || a == AuthorSystem
}

// Document is a named content container. Content always mirrors the main
// revision when one exists.
type Document struct {
	ID             string  `json:"id"`
	ProjectID      string  `json:"project_id"`
	Path           string  `json:"path"`
	Title          *string `json:"title,omitempty"`
	Content        string  `json:"content"`
	MainRevisionID *string `json:"main_revision_id,omitempty"`

	// Version is bumped on every write to content/main; approval checks it.
	Version int64 `json:"version"`

	// GroundingState is derived from the document's modules; see module.AggregateState.
	GroundingState string `json:"grounding_state"`
	GroundedAt     *int64 `json:"grounded_at,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Revision is a proposal of content for a document.
// BasedOn and ReplacedRevisionID are lookups only; revisions never own each other.
type Revision struct {
	ID          string  `json:"id"`
	DocumentID  string  `json:"document_id"`
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	Content     string  `json:"content"`
	Status      Status  `json:"status"`

	BasedOn            *string `json:"based_on,omitempty"`
	IsMain             bool    `json:"is_main"`
	HasConflicts       bool    `json:"has_conflicts"`
	ConflictReason     *string `json:"conflict_reason,omitempty"`
	ReplacedRevisionID *string `json:"replaced_revision_id,omitempty"`

	AuthorID     *string    `json:"author_id,omitempty"`
	AuthorType   AuthorType `json:"author_type"`
	SourceClient *string    `json:"source_client,omitempty"`

	CreatedAt  int64   `json:"created_at"`
	ProposedAt *int64  `json:"proposed_at,omitempty"`
	ApprovedAt *int64  `json:"approved_at,omitempty"`
	RejectedAt *int64  `json:"rejected_at,omitempty"`
	ApprovedBy *string `json:"approved_by,omitempty"`
	RejectedBy *string `json:"rejected_by,omitempty"`
}

// Diff is the point-in-time diff of a revision against its base, computed once
// at creation.
type Diff struct {
	RevisionID     string          `json:"revision_id"`
	BaseRevisionID string          `json:"base_revision_id"`
	Unified        string          `json:"unified"`
	Lines          diff.LineResult `json:"lines"`
	Stats          diff.Stats      `json:"stats"`
	Similarity     float64         `json:"similarity"`
	CreatedAt      int64           `json:"created_at"`
}

// Version is an append-only snapshot written whenever document content changes.
type Version struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	RevisionID *string `json:"revision_id,omitempty"`
	Number     int     `json:"number"`
	Content    string  `json:"content"`
	CreatedBy  *string `json:"created_by,omitempty"`
	CreatedAt  int64   `json:"created_at"`
}

// ConflictPolicy controls how a revision without a base is judged.
type ConflictPolicy struct {
	// RequireBase treats a missing base as stale when the document already has a main.
	RequireBase bool
}

// CheckConflict decides whether a revision based on basedOn is stale relative to
// the document's current main revision.
func CheckConflict(basedOn, mainID *string, policy ConflictPolicy) (bool, string) {
	if mainID == nil {
		return false, ""
	}
	if basedOn == nil {
		if policy.RequireBase {
			return true, fmt.Sprintf("revision has no base but document already has main revision %s", *mainID)
		}
		return false, ""
	}
	if *basedOn == *mainID {
		return false, ""
	}
	return true, fmt.Sprintf("revision is based on %s but the document's current main revision is %s", *basedOn, *mainID)
}

// RebaseReason is recorded on a revision retired by a rebase.
const RebaseReason = "Replaced by rebased revision"
