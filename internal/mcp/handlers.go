package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/revision"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

func (h *Handlers) config() *config.Config {
	if h.env.Cfg == nil {
		return config.DefaultConfig()
	}
	return h.env.Cfg
}

// sourceClient prefers the caller's tag over the configured default.
func (h *Handlers) sourceClient(s *string) *string {
	if s != nil && *s != "" {
		return s
	}
	c := h.config().SourceClient
	if c == "" {
		return nil
	}
	return &c
}

// Request types for each tool

// CreateRevisionRequest represents the arguments for create_revision.
type CreateRevisionRequest struct {
	ProjectID    string  `json:"project_id,omitempty"`
	DocumentID   string  `json:"document_id"`
	Title        string  `json:"title"`
	Content      string  `json:"content"`
	Description  *string `json:"description,omitempty"`
	BasedOn      *string `json:"based_on,omitempty"`
	Propose      bool    `json:"propose,omitempty"`
	AuthorID     *string `json:"author_id,omitempty"`
	SourceClient *string `json:"source_client,omitempty"`
}

// RevisionRequest addresses one revision.
type RevisionRequest struct {
	ProjectID  string  `json:"project_id,omitempty"`
	RevisionID string  `json:"revision_id"`
	AuthorID   *string `json:"author_id,omitempty"`
}

// ListRevisionsRequest represents the arguments for list_revisions.
type ListRevisionsRequest struct {
	ProjectID  string  `json:"project_id,omitempty"`
	DocumentID string  `json:"document_id"`
	Status     *string `json:"status,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// GetRevisionDiffRequest represents the arguments for get_revision_diff.
type GetRevisionDiffRequest struct {
	ProjectID    string `json:"project_id,omitempty"`
	RevisionID   string `json:"revision_id"`
	IncludeLines bool   `json:"include_lines,omitempty"`
	IncludeBody  bool   `json:"include_body,omitempty"`
}

// RebaseRevisionRequest represents the arguments for rebase_revision.
type RebaseRevisionRequest struct {
	ProjectID  string  `json:"project_id,omitempty"`
	RevisionID string  `json:"revision_id"`
	Content    *string `json:"content,omitempty"`
	AuthorID   *string `json:"author_id,omitempty"`
}

// GetDocumentRequest represents the arguments for get_document.
type GetDocumentRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	ID        string `json:"id,omitempty"`
	Path      string `json:"path,omitempty"`
}

// ListModulesRequest represents the arguments for list_modules.
type ListModulesRequest struct {
	ProjectID    string  `json:"project_id,omitempty"`
	DocumentID   *string `json:"document_id,omitempty"`
	GroundedOnly bool    `json:"grounded_only,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Offset       int     `json:"offset,omitempty"`
}

// GroundModuleRequest represents the arguments for ground_module.
type GroundModuleRequest struct {
	ProjectID  string   `json:"project_id,omitempty"`
	ModuleID   string   `json:"module_id"`
	Grounded   *bool    `json:"grounded,omitempty"`
	Reason     *string  `json:"reason,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	ActorID    *string  `json:"actor_id,omitempty"`
}

// ListConflictsRequest represents the arguments for list_conflicts.
type ListConflictsRequest struct {
	ProjectID  string  `json:"project_id,omitempty"`
	Status     *string `json:"status,omitempty"`
	Severity   *string `json:"severity,omitempty"`
	ModuleID   *string `json:"module_id,omitempty"`
	DocumentID *string `json:"document_id,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}

// DetectConflictsRequest represents the arguments for detect_conflicts.
type DetectConflictsRequest struct {
	ProjectID  string  `json:"project_id,omitempty"`
	DocumentID *string `json:"document_id,omitempty"`
	AllModules bool    `json:"all_modules,omitempty"`
	MaxModules int     `json:"max_modules,omitempty"`
	ActorID    *string `json:"actor_id,omitempty"`
}

// ConflictRequest addresses one conflict.
type ConflictRequest struct {
	ProjectID  string `json:"project_id,omitempty"`
	ConflictID string `json:"conflict_id"`
}

// ResolveConflictRequest represents the arguments for resolve_conflict.
type ResolveConflictRequest struct {
	ProjectID       string  `json:"project_id,omitempty"`
	ConflictID      string  `json:"conflict_id"`
	Strategy        string  `json:"strategy"`
	CustomContent   *string `json:"custom_content,omitempty"`
	DeprecateTarget string  `json:"deprecate_target,omitempty"`
	Note            *string `json:"note,omitempty"`
	ActorID         *string `json:"actor_id,omitempty"`
}

// Handler implementations

// HandleCreateRevision handles the create_revision tool call. Revisions
// created here are always authored by an AI agent.
func (h *Handlers) HandleCreateRevision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRevisionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CreateRevision(ctx, h.env, ops.CreateRevisionInput{
		ProjectID:    input.ProjectID,
		DocumentID:   input.DocumentID,
		Title:        input.Title,
		Description:  input.Description,
		Content:      input.Content,
		BasedOn:      input.BasedOn,
		Propose:      input.Propose,
		AuthorID:     input.AuthorID,
		AuthorType:   revision.AuthorAI,
		SourceClient: h.sourceClient(input.SourceClient),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleProposeRevision handles the propose_revision tool call.
func (h *Handlers) HandleProposeRevision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RevisionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ProposeRevision(ctx, h.env, ops.RevisionActionInput{
		ProjectID:  input.ProjectID,
		RevisionID: input.RevisionID,
		ActorID:    input.AuthorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetRevisionStatus handles the get_revision_status tool call.
func (h *Handlers) HandleGetRevisionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RevisionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetRevisionStatus(ctx, h.env, ops.GetRevisionInput{
		ProjectID:  input.ProjectID,
		RevisionID: input.RevisionID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListRevisions handles the list_revisions tool call.
func (h *Handlers) HandleListRevisions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRevisionsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListRevisions(ctx, h.env, ops.ListRevisionsInput{
		ProjectID:  input.ProjectID,
		DocumentID: input.DocumentID,
		Status:     input.Status,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetRevisionDiff handles the get_revision_diff tool call.
func (h *Handlers) HandleGetRevisionDiff(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRevisionDiffRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetRevisionDiff(ctx, h.env, ops.GetRevisionDiffInput{
		ProjectID:    input.ProjectID,
		RevisionID:   input.RevisionID,
		IncludeLines: input.IncludeLines,
		IncludeBody:  input.IncludeBody,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRebaseRevision handles the rebase_revision tool call.
func (h *Handlers) HandleRebaseRevision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RebaseRevisionRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.RebaseRevision(ctx, h.env, ops.RebaseRevisionInput{
		ProjectID:  input.ProjectID,
		RevisionID: input.RevisionID,
		Content:    input.Content,
		ActorID:    input.AuthorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetDocument handles the get_document tool call.
func (h *Handlers) HandleGetDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetDocumentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetDocument(ctx, h.env, ops.GetDocumentInput{
		ProjectID: input.ProjectID,
		ID:        input.ID,
		Path:      input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListModules handles the list_modules tool call.
func (h *Handlers) HandleListModules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListModulesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListModules(ctx, h.env, ops.ListModulesInput{
		ProjectID:    input.ProjectID,
		DocumentID:   input.DocumentID,
		GroundedOnly: input.GroundedOnly,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGroundModule handles the ground_module tool call.
func (h *Handlers) HandleGroundModule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GroundModuleRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	in := ops.GroundModuleInput{
		ProjectID:  input.ProjectID,
		ModuleID:   input.ModuleID,
		Reason:     input.Reason,
		Confidence: input.Confidence,
		ActorID:    input.ActorID,
	}
	var result *ops.GroundModuleOutput
	if input.Grounded != nil && !*input.Grounded {
		result, err = ops.UngroundModule(ctx, h.env, in)
	} else {
		result, err = ops.GroundModule(ctx, h.env, in)
	}
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListConflicts handles the list_conflicts tool call.
func (h *Handlers) HandleListConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListConflictsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListConflicts(ctx, h.env, ops.ListConflictsInput{
		ProjectID:  input.ProjectID,
		Status:     input.Status,
		Severity:   input.Severity,
		ModuleID:   input.ModuleID,
		DocumentID: input.DocumentID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDetectConflicts handles the detect_conflicts tool call.
func (h *Handlers) HandleDetectConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DetectConflictsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DetectConflicts(ctx, h.env, ops.DetectConflictsInput{
		ProjectID:  input.ProjectID,
		DocumentID: input.DocumentID,
		AllModules: input.AllModules,
		MaxModules: input.MaxModules,
		ActorID:    input.ActorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSuggestResolution handles the suggest_resolution tool call.
func (h *Handlers) HandleSuggestResolution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ConflictRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SuggestResolution(ctx, h.env, ops.GetConflictInput{
		ProjectID:  input.ProjectID,
		ConflictID: input.ConflictID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleResolveConflict handles the resolve_conflict tool call.
func (h *Handlers) HandleResolveConflict(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ResolveConflictRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ApplyResolution(ctx, h.env, ops.ApplyResolutionInput{
		ProjectID:       input.ProjectID,
		ConflictID:      input.ConflictID,
		Strategy:        input.Strategy,
		CustomContent:   input.CustomContent,
		DeprecateTarget: input.DeprecateTarget,
		Note:            input.Note,
		ActorID:         input.ActorID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal and storage error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		msg := err.Error()
		if errors.Internal(err) {
			msg = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
			"status":  sErr.Status,
		}
		if !errors.Internal(err) && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
