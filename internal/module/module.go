// Package module models knowledge modules: bounded content fragments extracted
// from documents that can be grounded, checked for conflicts and resolved.
package module

// Module is a named fragment of a document.
type Module struct {
	// ID is a ULID that uniquely identifies this module
	ID string `json:"id"`

	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`

	// ModuleKey is unique within the document (slug of the heading it came from)
	ModuleKey string `json:"module_key"`

	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHash string `json:"content_hash"`

	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	Order     int `json:"order"`

	ModuleType string   `json:"module_type"`
	Tags       []string `json:"tags,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`

	// IsGrounded marks the current content snapshot as authoritative for agents.
	// Any content edit clears it.
	IsGrounded      bool     `json:"is_grounded"`
	GroundedAt      *int64   `json:"grounded_at,omitempty"`
	GroundingSource *string  `json:"grounding_source,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// Module types assigned by extraction. TypeRetired marks a module whose
// section no longer exists in its document; it keeps its row and history.
const (
	TypeSection  = "section"
	TypePreamble = "preamble"
	TypeSplit    = "split"
	TypeRetired  = "retired"
)

// History actions.
const (
	ActionGrounded   = "grounded"
	ActionUngrounded = "ungrounded"
)

// History sources.
const (
	SourceManual    = "manual"
	SourceAutomatic = "automatic"
)

// Reasons written by the engine itself.
const (
	ReasonContentModified = "Content was modified"
	ReasonDeprecated      = "deprecated by conflict resolution"
	ReasonRetired         = "Section removed from document"
)

// HistoryEntry is one append-only grounding audit record.
type HistoryEntry struct {
	ID            string   `json:"id"`
	ModuleID      string   `json:"module_id"`
	Action        string   `json:"action"`
	PreviousState bool     `json:"previous_state"`
	NewState      bool     `json:"new_state"`
	Reason        *string  `json:"reason,omitempty"`
	Source        string   `json:"source"`
	ActorID       *string  `json:"actor_id,omitempty"`
	ContentBefore *string  `json:"content_before,omitempty"`
	ContentAfter  *string  `json:"content_after,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
	CreatedAt     int64    `json:"created_at"`
}
