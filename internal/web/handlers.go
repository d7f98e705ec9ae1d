package web

import (
	"net/http"

	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/revision"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	env *ops.Env
}

// Documents

type createDocumentBody struct {
	Path    string  `json:"path"`
	Title   *string `json:"title,omitempty"`
	Content string  `json:"content,omitempty"`
}

// HandleCreateDocument handles POST /documents.
func (h *Handlers) HandleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body createDocumentBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.CreateDocument(r.Context(), h.env, ops.CreateDocumentInput{
		ProjectID: projectID(r),
		Path:      body.Path,
		Title:     body.Title,
		Content:   body.Content,
		ActorID:   actor(r),
	})
	h.renderResult(w, r, http.StatusCreated, out, err)
}

// HandleListDocuments handles GET /documents.
func (h *Handlers) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListDocuments(r.Context(), h.env, ops.ListDocumentsInput{
		ProjectID: projectID(r),
		Limit:     parseIntParam(r, "limit", 20),
		Offset:    parseIntParam(r, "offset", 0),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetDocument handles GET /documents/{id}. ?html=true adds the rendered
// content.
func (h *Handlers) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	in := ops.GetDocumentInput{
		ProjectID:   projectID(r),
		ID:          r.PathValue("id"),
		IncludeHTML: parseBoolParam(r, "html"),
	}
	out, err := ops.GetDocument(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleDocumentByPath handles GET /documents/by-path?path=.
func (h *Handlers) HandleDocumentByPath(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetDocument(r.Context(), h.env, ops.GetDocumentInput{
		ProjectID:   projectID(r),
		Path:        r.URL.Query().Get("path"),
		IncludeHTML: parseBoolParam(r, "html"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleRenderDocument handles GET /documents/{id}/html, returning the
// document content rendered as an HTML fragment.
func (h *Handlers) HandleRenderDocument(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetDocument(r.Context(), h.env, ops.GetDocumentInput{
		ProjectID:   projectID(r),
		ID:          r.PathValue("id"),
		IncludeHTML: true,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	renderHTML(w, http.StatusOK, out.HTML)
}

// HandleDeleteDocument handles DELETE /documents/{id}.
func (h *Handlers) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	out, err := ops.DeleteDocument(r.Context(), h.env, ops.DeleteDocumentInput{
		ProjectID: projectID(r),
		ID:        r.PathValue("id"),
		ActorID:   actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleListVersions handles GET /documents/{id}/versions.
func (h *Handlers) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListVersions(r.Context(), h.env, ops.ListVersionsInput{
		ProjectID:  projectID(r),
		DocumentID: r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleExtractModules handles POST /documents/{id}/extract.
func (h *Handlers) HandleExtractModules(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ExtractModules(r.Context(), h.env, ops.ExtractModulesInput{
		ProjectID:  projectID(r),
		DocumentID: r.PathValue("id"),
		ActorID:    actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// Revisions

type createRevisionBody struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Content      string  `json:"content"`
	BasedOn      *string `json:"based_on,omitempty"`
	Propose      bool    `json:"propose,omitempty"`
	AuthorType   string  `json:"author_type,omitempty"`
	SourceClient *string `json:"source_client,omitempty"`
}

// HandleCreateRevision handles POST /documents/{id}/revisions. Revisions
// created over HTTP default to a user author.
func (h *Handlers) HandleCreateRevision(w http.ResponseWriter, r *http.Request) {
	var body createRevisionBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	authorType := revision.AuthorType(body.AuthorType)
	if authorType == "" {
		authorType = revision.AuthorUser
	}
	out, err := ops.CreateRevision(r.Context(), h.env, ops.CreateRevisionInput{
		ProjectID:    projectID(r),
		DocumentID:   r.PathValue("id"),
		Title:        body.Title,
		Description:  body.Description,
		Content:      body.Content,
		BasedOn:      body.BasedOn,
		Propose:      body.Propose,
		AuthorID:     actor(r),
		AuthorType:   authorType,
		SourceClient: body.SourceClient,
	})
	h.renderResult(w, r, http.StatusCreated, out, err)
}

// HandleListRevisions handles GET /documents/{id}/revisions.
func (h *Handlers) HandleListRevisions(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListRevisions(r.Context(), h.env, ops.ListRevisionsInput{
		ProjectID:  projectID(r),
		DocumentID: r.PathValue("id"),
		Status:     queryPtr(r, "status"),
		Limit:      parseIntParam(r, "limit", 20),
		Offset:     parseIntParam(r, "offset", 0),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetRevision handles GET /revisions/{id}.
func (h *Handlers) HandleGetRevision(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetRevision(r.Context(), h.env, ops.GetRevisionInput{
		ProjectID:  projectID(r),
		RevisionID: r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetRevisionStatus handles GET /revisions/{id}/status.
func (h *Handlers) HandleGetRevisionStatus(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetRevisionStatus(r.Context(), h.env, ops.GetRevisionInput{
		ProjectID:  projectID(r),
		RevisionID: r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetRevisionDiff handles GET /revisions/{id}/diff.
func (h *Handlers) HandleGetRevisionDiff(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetRevisionDiff(r.Context(), h.env, ops.GetRevisionDiffInput{
		ProjectID:    projectID(r),
		RevisionID:   r.PathValue("id"),
		IncludeLines: parseBoolParam(r, "lines"),
		IncludeBody:  parseBoolParam(r, "body"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type revisionActionBody struct {
	Reason  *string `json:"reason,omitempty"`
	Content *string `json:"content,omitempty"`
}

func (h *Handlers) revisionAction(r *http.Request) (ops.RevisionActionInput, revisionActionBody, error) {
	var body revisionActionBody
	if err := decodeBody(r, &body); err != nil {
		return ops.RevisionActionInput{}, body, err
	}
	return ops.RevisionActionInput{
		ProjectID:  projectID(r),
		RevisionID: r.PathValue("id"),
		ActorID:    actor(r),
		Reason:     body.Reason,
	}, body, nil
}

// HandleProposeRevision handles POST /revisions/{id}/propose.
func (h *Handlers) HandleProposeRevision(w http.ResponseWriter, r *http.Request) {
	in, _, err := h.revisionAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.ProposeRevision(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleApproveRevision handles POST /revisions/{id}/approve.
func (h *Handlers) HandleApproveRevision(w http.ResponseWriter, r *http.Request) {
	in, _, err := h.revisionAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.ApproveRevision(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleRejectRevision handles POST /revisions/{id}/reject.
func (h *Handlers) HandleRejectRevision(w http.ResponseWriter, r *http.Request) {
	in, _, err := h.revisionAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.RejectRevision(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleRebaseRevision handles POST /revisions/{id}/rebase.
func (h *Handlers) HandleRebaseRevision(w http.ResponseWriter, r *http.Request) {
	in, body, err := h.revisionAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.RebaseRevision(r.Context(), h.env, ops.RebaseRevisionInput{
		ProjectID:  in.ProjectID,
		RevisionID: in.RevisionID,
		ActorID:    in.ActorID,
		Content:    body.Content,
	})
	h.renderResult(w, r, http.StatusCreated, out, err)
}

// Modules

type createModuleBody struct {
	DocumentID string   `json:"document_id"`
	ModuleKey  string   `json:"module_key,omitempty"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	ModuleType string   `json:"module_type,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
}

// HandleCreateModule handles POST /modules.
func (h *Handlers) HandleCreateModule(w http.ResponseWriter, r *http.Request) {
	var body createModuleBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.CreateModule(r.Context(), h.env, ops.CreateModuleInput{
		ProjectID:  projectID(r),
		DocumentID: body.DocumentID,
		ModuleKey:  body.ModuleKey,
		Title:      body.Title,
		Content:    body.Content,
		ModuleType: body.ModuleType,
		Tags:       body.Tags,
		DependsOn:  body.DependsOn,
		ActorID:    actor(r),
	})
	h.renderResult(w, r, http.StatusCreated, out, err)
}

// HandleListModules handles GET /modules.
func (h *Handlers) HandleListModules(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListModules(r.Context(), h.env, ops.ListModulesInput{
		ProjectID:    projectID(r),
		DocumentID:   queryPtr(r, "document_id"),
		GroundedOnly: parseBoolParam(r, "grounded_only"),
		Limit:        parseIntParam(r, "limit", 20),
		Offset:       parseIntParam(r, "offset", 0),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetModule handles GET /modules/{id}.
func (h *Handlers) HandleGetModule(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetModule(r.Context(), h.env, ops.GetModuleInput{
		ProjectID: projectID(r),
		ModuleID:  r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type updateModuleBody struct {
	Content   *string   `json:"content,omitempty"`
	Title     *string   `json:"title,omitempty"`
	Tags      *[]string `json:"tags,omitempty"`
	DependsOn *[]string `json:"depends_on,omitempty"`
}

// HandleUpdateModule handles PATCH /modules/{id}.
func (h *Handlers) HandleUpdateModule(w http.ResponseWriter, r *http.Request) {
	var body updateModuleBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.UpdateModuleContent(r.Context(), h.env, ops.UpdateModuleInput{
		ProjectID: projectID(r),
		ModuleID:  r.PathValue("id"),
		Content:   body.Content,
		Title:     body.Title,
		Tags:      body.Tags,
		DependsOn: body.DependsOn,
		ActorID:   actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type groundBody struct {
	Reason     *string  `json:"reason,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     string   `json:"source,omitempty"`
}

func (h *Handlers) groundInput(r *http.Request) (ops.GroundModuleInput, error) {
	var body groundBody
	if err := decodeBody(r, &body); err != nil {
		return ops.GroundModuleInput{}, err
	}
	return ops.GroundModuleInput{
		ProjectID:  projectID(r),
		ModuleID:   r.PathValue("id"),
		Reason:     body.Reason,
		Confidence: body.Confidence,
		Source:     body.Source,
		ActorID:    actor(r),
	}, nil
}

// HandleGroundModule handles POST /modules/{id}/ground.
func (h *Handlers) HandleGroundModule(w http.ResponseWriter, r *http.Request) {
	in, err := h.groundInput(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.GroundModule(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleUngroundModule handles POST /modules/{id}/unground.
func (h *Handlers) HandleUngroundModule(w http.ResponseWriter, r *http.Request) {
	in, err := h.groundInput(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.UngroundModule(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleModuleHistory handles GET /modules/{id}/history.
func (h *Handlers) HandleModuleHistory(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ModuleHistory(r.Context(), h.env, ops.ModuleHistoryInput{
		ProjectID: projectID(r),
		ModuleID:  r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type batchGroundBody struct {
	ModuleIDs  []string `json:"module_ids"`
	Grounded   *bool    `json:"grounded,omitempty"`
	Reason     *string  `json:"reason,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// HandleBatchGround handles POST /modules/batch-ground. A missing grounded
// flag means ground.
func (h *Handlers) HandleBatchGround(w http.ResponseWriter, r *http.Request) {
	var body batchGroundBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.BatchGround(r.Context(), h.env, ops.BatchGroundInput{
		ProjectID:  projectID(r),
		ModuleIDs:  body.ModuleIDs,
		Grounded:   body.Grounded == nil || *body.Grounded,
		Reason:     body.Reason,
		Confidence: body.Confidence,
		Source:     body.Source,
		ActorID:    actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// Conflicts

type detectBody struct {
	DocumentID *string `json:"document_id,omitempty"`
	AllModules bool    `json:"all_modules,omitempty"`
	MaxModules int     `json:"max_modules,omitempty"`
}

// HandleDetectConflicts handles POST /conflicts/detect.
func (h *Handlers) HandleDetectConflicts(w http.ResponseWriter, r *http.Request) {
	var body detectBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.DetectConflicts(r.Context(), h.env, ops.DetectConflictsInput{
		ProjectID:  projectID(r),
		DocumentID: body.DocumentID,
		AllModules: body.AllModules,
		MaxModules: body.MaxModules,
		ActorID:    actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleListConflicts handles GET /conflicts.
func (h *Handlers) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListConflicts(r.Context(), h.env, ops.ListConflictsInput{
		ProjectID:  projectID(r),
		Status:     queryPtr(r, "status"),
		Severity:   queryPtr(r, "severity"),
		ModuleID:   queryPtr(r, "module_id"),
		DocumentID: queryPtr(r, "document_id"),
		Limit:      parseIntParam(r, "limit", 20),
		Offset:     parseIntParam(r, "offset", 0),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleGetConflict handles GET /conflicts/{id}.
func (h *Handlers) HandleGetConflict(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetConflict(r.Context(), h.env, ops.GetConflictInput{
		ProjectID:  projectID(r),
		ConflictID: r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type noteBody struct {
	Note *string `json:"note,omitempty"`
}

func (h *Handlers) conflictAction(r *http.Request) (ops.ConflictActionInput, error) {
	var body noteBody
	if err := decodeBody(r, &body); err != nil {
		return ops.ConflictActionInput{}, err
	}
	return ops.ConflictActionInput{
		ProjectID:  projectID(r),
		ConflictID: r.PathValue("id"),
		Note:       body.Note,
		ActorID:    actor(r),
	}, nil
}

// HandleAcknowledgeConflict handles POST /conflicts/{id}/acknowledge.
func (h *Handlers) HandleAcknowledgeConflict(w http.ResponseWriter, r *http.Request) {
	in, err := h.conflictAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.AcknowledgeConflict(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleIgnoreConflict handles POST /conflicts/{id}/ignore.
func (h *Handlers) HandleIgnoreConflict(w http.ResponseWriter, r *http.Request) {
	in, err := h.conflictAction(r)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.IgnoreConflict(r.Context(), h.env, in)
	h.renderResult(w, r, http.StatusOK, out, err)
}

// HandleSuggestResolution handles GET /conflicts/{id}/suggestions.
func (h *Handlers) HandleSuggestResolution(w http.ResponseWriter, r *http.Request) {
	out, err := ops.SuggestResolution(r.Context(), h.env, ops.GetConflictInput{
		ProjectID:  projectID(r),
		ConflictID: r.PathValue("id"),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type resolveBody struct {
	Strategy        string  `json:"strategy"`
	CustomContent   *string `json:"custom_content,omitempty"`
	DeprecateTarget string  `json:"deprecate_target,omitempty"`
	Note            *string `json:"note,omitempty"`
}

// HandleResolveConflict handles POST /conflicts/{id}/resolve.
func (h *Handlers) HandleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.ApplyResolution(r.Context(), h.env, ops.ApplyResolutionInput{
		ProjectID:       projectID(r),
		ConflictID:      r.PathValue("id"),
		Strategy:        body.Strategy,
		CustomContent:   body.CustomContent,
		DeprecateTarget: body.DeprecateTarget,
		Note:            body.Note,
		ActorID:         actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

type batchResolveBody struct {
	ConflictIDs []string `json:"conflict_ids"`
	resolveBody
}

// HandleBatchResolve handles POST /conflicts/batch-resolve.
func (h *Handlers) HandleBatchResolve(w http.ResponseWriter, r *http.Request) {
	var body batchResolveBody
	if err := decodeBody(r, &body); err != nil {
		h.renderError(w, r, err)
		return
	}
	out, err := ops.BatchResolveConflicts(r.Context(), h.env, ops.BatchResolveInput{
		ProjectID:       projectID(r),
		ConflictIDs:     body.ConflictIDs,
		Strategy:        body.Strategy,
		CustomContent:   body.CustomContent,
		DeprecateTarget: body.DeprecateTarget,
		Note:            body.Note,
		ActorID:         actor(r),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}

// Audit

// HandleListAudit handles GET /audit.
func (h *Handlers) HandleListAudit(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListAuditEvents(r.Context(), h.env, ops.ListAuditEventsInput{
		ProjectID:  projectID(r),
		Operation:  queryPtr(r, "operation"),
		DocumentID: queryPtr(r, "document_id"),
		ModuleID:   queryPtr(r, "module_id"),
		ConflictID: queryPtr(r, "conflict_id"),
		Limit:      parseIntParam(r, "limit", 20),
		Offset:     parseIntParam(r, "offset", 0),
	})
	h.renderResult(w, r, http.StatusOK, out, err)
}
