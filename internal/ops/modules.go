package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
)

// ExtractModulesInput contains parameters for ExtractModules.
type ExtractModulesInput struct {
	ProjectID  string
	DocumentID string
	ActorID    *string
}

// ExtractModulesOutput reports how the document's modules changed.
type ExtractModulesOutput struct {
	DocumentID     string   `json:"document_id"`
	Created        []string `json:"created"`
	Updated        []string `json:"updated"`
	Ungrounded     []string `json:"ungrounded"`
	Retired        []string `json:"retired"`
	Unchanged      int      `json:"unchanged"`
	GroundingState string   `json:"grounding_state"`
}

// ExtractModules decomposes the document's current content into modules at
// top-level headings and reconciles them with the stored modules by key.
// Sections whose content hash is unchanged only get their position updated;
// changed sections go through the content edit path, which ungrounds them.
// Stored keys that no longer appear are retired: ungrounded, typed
// module.TypeRetired and kept with their history. A retired key that
// reappears is revived.
func ExtractModules(ctx context.Context, env *Env, input ExtractModulesInput) (*ExtractModulesOutput, error) {
	projectID := project(input.ProjectID)
	now := env.now()
	out := &ExtractModulesOutput{
		Created:    []string{},
		Updated:    []string{},
		Ungrounded: []string{},
		Retired:    []string{},
	}

	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		doc, err := lookupDocument(ctx, tx, projectID, input.DocumentID, "")
		if err != nil {
			return err
		}
		out.DocumentID = doc.ID

		existing, _, err := db.ListModules(ctx, tx, db.ModuleFilter{
			ProjectID:      projectID,
			DocumentID:     &doc.ID,
			IncludeRetired: true,
		})
		if err != nil {
			return err
		}
		byKey := make(map[string]*module.Module, len(existing))
		for i := range existing {
			byKey[existing[i].ModuleKey] = &existing[i]
		}

		seen := make(map[string]bool)
		for _, s := range module.Extract(doc.Content, env.config().ExtractHeadingLevel) {
			seen[s.Key] = true
			m, ok := byKey[s.Key]
			if !ok {
				m = &module.Module{
					ID:          newID(),
					DocumentID:  doc.ID,
					ProjectID:   projectID,
					ModuleKey:   s.Key,
					Title:       s.Title,
					Content:     s.Content,
					ContentHash: module.ContentHash(s.Content),
					StartLine:   s.StartLine,
					EndLine:     s.EndLine,
					Order:       s.Order,
					ModuleType:  s.ModuleType,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := db.InsertModule(ctx, tx, m); err != nil {
					return err
				}
				out.Created = append(out.Created, m.ID)
				continue
			}

			moved := m.StartLine != s.StartLine || m.EndLine != s.EndLine || m.Order != s.Order || m.Title != s.Title ||
				m.ModuleType == module.TypeRetired
			m.StartLine, m.EndLine, m.Order, m.Title = s.StartLine, s.EndLine, s.Order, s.Title
			if m.ModuleType == module.TypeRetired {
				m.ModuleType = s.ModuleType
			}

			if m.ContentHash == module.ContentHash(s.Content) {
				if !moved {
					out.Unchanged++
					continue
				}
				m.UpdatedAt = now
				if err := db.UpdateModule(ctx, tx, m); err != nil {
					return err
				}
				out.Updated = append(out.Updated, m.ID)
				continue
			}

			ungrounded, err := editContent(ctx, tx, m, s.Content, input.ActorID, now)
			if err != nil {
				return err
			}
			out.Updated = append(out.Updated, m.ID)
			if ungrounded {
				out.Ungrounded = append(out.Ungrounded, m.ID)
			}
		}

		for i := range existing {
			m := &existing[i]
			if seen[m.ModuleKey] || m.ModuleType == module.TypeRetired {
				continue
			}
			if err := retireModule(ctx, tx, m, input.ActorID, now); err != nil {
				return err
			}
			out.Retired = append(out.Retired, m.ID)
		}

		out.GroundingState, err = recomputeDocumentGrounding(ctx, tx, doc.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpModuleExtract,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &out.DocumentID,
		Details: map[string]any{
			"created":    len(out.Created),
			"updated":    len(out.Updated),
			"ungrounded": len(out.Ungrounded),
			"retired":    len(out.Retired),
			"unchanged":  out.Unchanged,
		},
	})
	return out, nil
}

// CreateModuleInput contains parameters for CreateModule.
type CreateModuleInput struct {
	ProjectID  string
	DocumentID string // required
	ModuleKey  string // default: slug of title
	Title      string // required
	Content    string // required
	ModuleType string // default: section
	Tags       []string
	DependsOn  []string
	ActorID    *string
}

// ModuleOutput wraps a module.
type ModuleOutput struct {
	Module module.Module `json:"module"`
}

// CreateModule adds a hand-written module to a document. New modules start
// ungrounded.
func CreateModule(ctx context.Context, env *Env, input CreateModuleInput) (*ModuleOutput, error) {
	title := strings.TrimSpace(input.Title)
	switch {
	case strings.TrimSpace(input.DocumentID) == "":
		return nil, errors.NewInvalidRequest("document_id is required")
	case title == "":
		return nil, errors.NewInvalidRequest("title is required")
	case input.Content == "":
		return nil, errors.NewInvalidRequest("content is required")
	}
	key := strings.TrimSpace(input.ModuleKey)
	if key == "" {
		key = module.Slug(title)
	}
	mtype := strings.TrimSpace(input.ModuleType)
	if mtype == "" {
		mtype = module.TypeSection
	}
	if mtype == module.TypeRetired {
		return nil, errors.NewInvalidRequest("module_type retired is reserved for removed sections")
	}

	projectID := project(input.ProjectID)
	now := env.now()
	m := &module.Module{
		ID:          newID(),
		ProjectID:   projectID,
		ModuleKey:   key,
		Title:       title,
		Content:     input.Content,
		ContentHash: module.ContentHash(input.Content),
		ModuleType:  mtype,
		Tags:        module.NormalizeTags(input.Tags),
		DependsOn:   module.NormalizeTags(input.DependsOn),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		doc, err := db.GetDocument(ctx, tx, projectID, input.DocumentID)
		if err != nil {
			return err
		}
		m.DocumentID = doc.ID
		m.Order, err = nextOrder(ctx, tx, projectID, doc.ID)
		if err != nil {
			return err
		}
		if err := db.InsertModule(ctx, tx, m); err != nil {
			return err
		}
		_, err = recomputeDocumentGrounding(ctx, tx, doc.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpModuleCreate,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &m.DocumentID,
		ModuleID:   &m.ID,
		Details:    map[string]any{"module_key": m.ModuleKey},
	})
	return &ModuleOutput{Module: *m}, nil
}

func nextOrder(ctx context.Context, q db.Querier, projectID, documentID string) (int, error) {
	mods, _, err := db.ListModules(ctx, q, db.ModuleFilter{ProjectID: projectID, DocumentID: &documentID})
	if err != nil {
		return 0, err
	}
	next := 0
	for _, m := range mods {
		if m.Order >= next {
			next = m.Order + 1
		}
	}
	return next, nil
}

// GetModuleInput addresses a single module.
type GetModuleInput struct {
	ProjectID string
	ModuleID  string
}

// GetModule retrieves a module.
func GetModule(ctx context.Context, env *Env, input GetModuleInput) (*ModuleOutput, error) {
	m, err := db.GetModule(ctx, env.DB, project(input.ProjectID), input.ModuleID)
	if err != nil {
		return nil, err
	}
	return &ModuleOutput{Module: *m}, nil
}

// ListModulesInput contains parameters for ListModules.
type ListModulesInput struct {
	ProjectID    string
	DocumentID   *string
	GroundedOnly bool
	Limit        int // default: 20, max: 100
	Offset       int
}

// ListModulesOutput contains a page of modules.
type ListModulesOutput struct {
	Items      []module.Module `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

// ListModules returns modules of a project or of one document.
func ListModules(ctx context.Context, env *Env, input ListModulesInput) (*ListModulesOutput, error) {
	limit, offset := page(input.Limit, input.Offset)
	mods, total, err := db.ListModules(ctx, env.DB, db.ModuleFilter{
		ProjectID:    project(input.ProjectID),
		DocumentID:   cleanOptionalString(input.DocumentID),
		GroundedOnly: input.GroundedOnly,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListModulesOutput{
		Items:      mods,
		Pagination: paginate(limit, offset, len(mods), total),
	}, nil
}

// UpdateModuleInput contains parameters for UpdateModuleContent.
type UpdateModuleInput struct {
	ProjectID string
	ModuleID  string
	Content   *string
	Title     *string
	Tags      *[]string
	DependsOn *[]string
	ActorID   *string
}

// UpdateModuleOutput is returned by UpdateModuleContent.
type UpdateModuleOutput struct {
	Module         module.Module `json:"module"`
	Ungrounded     bool          `json:"ungrounded"`
	GroundingState string        `json:"grounding_state"`
}

// UpdateModuleContent edits a module. Changing the content of a grounded module
// ungrounds it and records both snapshots in its history before the new content
// is stored.
func UpdateModuleContent(ctx context.Context, env *Env, input UpdateModuleInput) (*UpdateModuleOutput, error) {
	if input.Content == nil && input.Title == nil && input.Tags == nil && input.DependsOn == nil {
		return nil, errors.NewInvalidRequest("at least one of content, title, tags, depends_on is required")
	}
	if input.Content != nil && *input.Content == "" {
		return nil, errors.NewInvalidRequest("content must not be empty")
	}

	projectID := project(input.ProjectID)
	now := env.now()
	out := &UpdateModuleOutput{}

	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		m, err := db.GetModule(ctx, tx, projectID, input.ModuleID)
		if err != nil {
			return err
		}
		if input.Title != nil {
			if t := strings.TrimSpace(*input.Title); t != "" {
				m.Title = t
			}
		}
		if input.Tags != nil {
			m.Tags = module.NormalizeTags(*input.Tags)
		}
		if input.DependsOn != nil {
			m.DependsOn = module.NormalizeTags(*input.DependsOn)
		}

		content := m.Content
		if input.Content != nil {
			content = *input.Content
		}
		if out.Ungrounded, err = editContent(ctx, tx, m, content, input.ActorID, now); err != nil {
			return err
		}
		out.Module = *m
		out.GroundingState, err = recomputeDocumentGrounding(ctx, tx, m.DocumentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  audit.OpModuleUpdate,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		DocumentID: &out.Module.DocumentID,
		ModuleID:   &out.Module.ID,
		Details:    map[string]any{"ungrounded": out.Ungrounded, "content_hash": out.Module.ContentHash},
	})
	return out, nil
}

// GroundModuleInput contains parameters for GroundModule and UngroundModule.
type GroundModuleInput struct {
	ProjectID  string
	ModuleID   string
	Reason     *string
	Confidence *float64 // ground only, 0..1
	Source     string   // default: manual
	ActorID    *string
}

// GroundModuleOutput is returned by GroundModule and UngroundModule.
type GroundModuleOutput struct {
	Module         module.Module `json:"module"`
	Changed        bool          `json:"changed"`
	GroundingState string        `json:"grounding_state"`
}

// GroundModule marks a module authoritative. Grounding a grounded module
// changes nothing and writes no history.
func GroundModule(ctx context.Context, env *Env, input GroundModuleInput) (*GroundModuleOutput, error) {
	return changeGrounding(ctx, env, input, true)
}

// UngroundModule withdraws a module's grounding. Ungrounding an ungrounded
// module changes nothing and writes no history.
func UngroundModule(ctx context.Context, env *Env, input GroundModuleInput) (*GroundModuleOutput, error) {
	return changeGrounding(ctx, env, input, false)
}

func changeGrounding(ctx context.Context, env *Env, input GroundModuleInput, target bool) (*GroundModuleOutput, error) {
	if strings.TrimSpace(input.ModuleID) == "" {
		return nil, errors.NewInvalidRequest("module_id is required")
	}
	if input.Confidence != nil && (*input.Confidence < 0 || *input.Confidence > 1) {
		return nil, errors.NewInvalidRequest("confidence must be between 0 and 1")
	}
	source := input.Source
	if source == "" {
		source = module.SourceManual
	}
	if source != module.SourceManual && source != module.SourceAutomatic {
		return nil, errors.NewInvalidRequest("source must be one of: manual, automatic")
	}

	projectID := project(input.ProjectID)
	now := env.now()
	out := &GroundModuleOutput{}

	// The state check and the write share one transaction so concurrent
	// toggles of the same module serialize on the write lock.
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		m, err := db.GetModule(ctx, tx, projectID, input.ModuleID)
		if err != nil {
			return err
		}
		if target && m.ModuleType == module.TypeRetired {
			return errors.NewInvalidState("module", m.ID, module.TypeRetired, "ground")
		}
		out.Changed, err = setGrounding(ctx, tx, m, groundingChange{
			Target:     target,
			Reason:     cleanOptionalString(input.Reason),
			Source:     source,
			ActorID:    input.ActorID,
			Confidence: input.Confidence,
		}, now)
		if err != nil {
			return err
		}
		out.Module = *m
		if !out.Changed {
			out.GroundingState, _, err = db.GetDocumentGrounding(ctx, tx, m.DocumentID)
			return err
		}
		out.GroundingState, err = recomputeDocumentGrounding(ctx, tx, m.DocumentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		op := audit.OpModuleUnground
		if target {
			op = audit.OpModuleGround
		}
		details := map[string]any{"source": source, "grounding_state": out.GroundingState}
		if r := cleanOptionalString(input.Reason); r != nil {
			details["reason"] = *r
		}
		env.emit(ctx, audit.Event{
			Operation:  op,
			ProjectID:  projectID,
			ActorID:    input.ActorID,
			DocumentID: &out.Module.DocumentID,
			ModuleID:   &out.Module.ID,
			Details:    details,
		})
	}
	return out, nil
}

// ModuleHistoryInput addresses a module's history.
type ModuleHistoryInput struct {
	ProjectID string
	ModuleID  string
}

// ModuleHistoryOutput lists grounding history oldest first.
type ModuleHistoryOutput struct {
	ModuleID string                `json:"module_id"`
	Items    []module.HistoryEntry `json:"items"`
}

// ModuleHistory returns a module's append-only grounding history.
func ModuleHistory(ctx context.Context, env *Env, input ModuleHistoryInput) (*ModuleHistoryOutput, error) {
	m, err := db.GetModule(ctx, env.DB, project(input.ProjectID), input.ModuleID)
	if err != nil {
		return nil, err
	}
	items, err := db.ListHistory(ctx, env.DB, m.ID)
	if err != nil {
		return nil, err
	}
	return &ModuleHistoryOutput{ModuleID: m.ID, Items: items}, nil
}
