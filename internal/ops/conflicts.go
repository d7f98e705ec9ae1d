package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
	"github.com/hpungsan/strata/internal/oracle"
)

// DetectConflictsInput contains parameters for DetectConflicts.
type DetectConflictsInput struct {
	ProjectID  string
	DocumentID *string // scope; nil scans the whole project
	AllModules bool    // include ungrounded modules (default: grounded only)
	MaxModules int     // default and cap: config max_modules_per_scan
	ActorID    *string
}

// DetectConflictsOutput reports a detection run.
type DetectConflictsOutput struct {
	Conflicts []module.Conflict `json:"conflicts"`
	Created   int               `json:"created"`
	Updated   int               `json:"updated"`
	Skipped   int               `json:"skipped"`
	Summary   string            `json:"summary"`
	Usage     oracle.Usage      `json:"usage"`
	Truncated bool              `json:"truncated"`
}

// DetectConflicts hands at most MaxModules modules to the conflict oracle and
// stores its candidates. Storage is idempotent: a candidate matching an open or
// acknowledged conflict on the same (module, conflicting module, type) updates
// that conflict or is skipped.
func DetectConflicts(ctx context.Context, env *Env, input DetectConflictsInput) (*DetectConflictsOutput, error) {
	if env.Oracle == nil {
		return nil, errors.NewInternal(fmt.Errorf("no conflict oracle configured"))
	}
	projectID := project(input.ProjectID)
	cfg := env.config()

	maxModules := input.MaxModules
	if maxModules <= 0 || maxModules > cfg.MaxModulesPerScan {
		maxModules = cfg.MaxModulesPerScan
	}

	docID := cleanOptionalString(input.DocumentID)
	if docID != nil {
		if _, err := db.GetDocument(ctx, env.DB, projectID, *docID); err != nil {
			return nil, err
		}
	}
	mods, total, err := db.ListModules(ctx, env.DB, db.ModuleFilter{
		ProjectID:    projectID,
		DocumentID:   docID,
		GroundedOnly: !input.AllModules,
		Limit:        maxModules,
	})
	if err != nil {
		return nil, err
	}
	keys, err := db.ModuleKeys(ctx, env.DB, projectID, nil)
	if err != nil {
		return nil, err
	}

	detection, err := env.Oracle.Detect(ctx, oracle.Scope{
		ProjectID:  projectID,
		DocumentID: docID,
		Modules:    mods,
		KnownKeys:  keys,
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	env.logger().Debug("conflict detection finished",
		zap.String("project_id", projectID),
		zap.String("oracle", env.Oracle.Name()),
		zap.Int("modules", len(mods)),
		zap.Int("candidates", len(detection.Candidates)),
	)

	out, created, err := storeConflicts(ctx, env, projectID, env.Oracle.Name(), detection.Candidates)
	if err != nil {
		return nil, err
	}
	out.Summary = detection.Summary
	out.Usage = detection.Usage
	out.Truncated = total > len(mods)

	for _, c := range created {
		env.emit(ctx, audit.Event{
			Operation:  audit.OpConflictDetect,
			ProjectID:  projectID,
			ActorID:    input.ActorID,
			ModuleID:   &c.ModuleID,
			ConflictID: &c.ID,
			Details: map[string]any{
				"conflict_type": string(c.ConflictType),
				"severity":      string(c.Severity),
				"detected_by":   c.DetectedBy,
			},
		})
	}
	return out, nil
}

// storeConflicts persists candidates in one transaction and returns the
// conflicts it created.
func storeConflicts(ctx context.Context, env *Env, projectID, detectedBy string, candidates []oracle.Candidate) (*DetectConflictsOutput, []module.Conflict, error) {
	out := &DetectConflictsOutput{Conflicts: []module.Conflict{}}
	var created []module.Conflict
	now := env.now()

	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		for _, cand := range candidates {
			if !cand.ConflictType.Valid() || !cand.Severity.Valid() || cand.ModuleID == "" {
				env.logger().Warn("dropping malformed conflict candidate",
					zap.String("module_id", cand.ModuleID),
					zap.String("conflict_type", string(cand.ConflictType)),
					zap.String("severity", string(cand.Severity)),
				)
				out.Skipped++
				continue
			}
			if _, err := db.GetModule(ctx, tx, projectID, cand.ModuleID); err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					out.Skipped++
					continue
				}
				return err
			}

			existing, err := db.FindActiveConflict(ctx, tx, cand.ModuleID, cand.ConflictingModuleID, cand.ConflictType)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.Severity == cand.Severity && existing.Description == cand.Description {
					out.Skipped++
					out.Conflicts = append(out.Conflicts, *existing)
					continue
				}
				existing.Severity = cand.Severity
				existing.Description = cand.Description
				existing.DetectedBy = detectedBy
				if cand.ConflictingDocID != nil {
					existing.ConflictingDocID = cand.ConflictingDocID
				}
				existing.UpdatedAt = now
				if err := db.UpdateConflict(ctx, tx, existing); err != nil {
					return err
				}
				out.Updated++
				out.Conflicts = append(out.Conflicts, *existing)
				continue
			}

			c := module.Conflict{
				ID:                  newID(),
				ProjectID:           projectID,
				ModuleID:            cand.ModuleID,
				ConflictingModuleID: cand.ConflictingModuleID,
				ConflictingDocID:    cand.ConflictingDocID,
				ConflictType:        cand.ConflictType,
				Severity:            cand.Severity,
				Description:         cand.Description,
				Status:              module.ConflictOpen,
				DetectedBy:          detectedBy,
				DetectedAt:          now,
				UpdatedAt:           now,
			}
			if err := db.InsertConflict(ctx, tx, &c); err != nil {
				return err
			}
			out.Created++
			out.Conflicts = append(out.Conflicts, c)
			created = append(created, c)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, created, nil
}

// ListConflictsInput contains parameters for ListConflicts.
type ListConflictsInput struct {
	ProjectID  string
	Status     *string
	Severity   *string
	ModuleID   *string
	DocumentID *string
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListConflictsOutput contains a page of conflicts, newest first.
type ListConflictsOutput struct {
	Items      []module.Conflict `json:"items"`
	Pagination Pagination        `json:"pagination"`
}

// ListConflicts returns conflicts matching the filters.
func ListConflicts(ctx context.Context, env *Env, input ListConflictsInput) (*ListConflictsOutput, error) {
	f := db.ConflictFilter{
		ProjectID:  project(input.ProjectID),
		ModuleID:   cleanOptionalString(input.ModuleID),
		DocumentID: cleanOptionalString(input.DocumentID),
	}
	if s := cleanOptionalString(input.Status); s != nil {
		st := module.ConflictStatus(*s)
		switch st {
		case module.ConflictOpen, module.ConflictAcknowledged, module.ConflictResolved, module.ConflictIgnored:
		default:
			return nil, errors.NewInvalidRequest("status must be one of: open, acknowledged, resolved, ignored")
		}
		f.Status = &st
	}
	if s := cleanOptionalString(input.Severity); s != nil {
		sev := module.Severity(*s)
		if !sev.Valid() {
			return nil, errors.NewInvalidRequest("severity must be one of: critical, high, medium, low")
		}
		f.Severity = &sev
	}
	f.Limit, f.Offset = page(input.Limit, input.Offset)

	items, total, err := db.ListConflicts(ctx, env.DB, f)
	if err != nil {
		return nil, err
	}
	return &ListConflictsOutput{
		Items:      items,
		Pagination: paginate(f.Limit, f.Offset, len(items), total),
	}, nil
}

// GetConflictInput addresses a single conflict.
type GetConflictInput struct {
	ProjectID  string
	ConflictID string
}

// ConflictOutput is a conflict with the modules it references.
type ConflictOutput struct {
	Conflict          module.Conflict `json:"conflict"`
	Module            *module.Module  `json:"module,omitempty"`
	ConflictingModule *module.Module  `json:"conflicting_module,omitempty"`
}

// GetConflict retrieves a conflict and its modules. A conflicting module that
// has since been deleted is omitted.
func GetConflict(ctx context.Context, env *Env, input GetConflictInput) (*ConflictOutput, error) {
	projectID := project(input.ProjectID)
	c, err := db.GetConflict(ctx, env.DB, projectID, input.ConflictID)
	if err != nil {
		return nil, err
	}
	out := &ConflictOutput{Conflict: *c}
	if out.Module, err = db.GetModule(ctx, env.DB, projectID, c.ModuleID); err != nil {
		return nil, err
	}
	if out.ConflictingModule, err = optionalModule(ctx, env.DB, projectID, c.ConflictingModuleID); err != nil {
		return nil, err
	}
	return out, nil
}

func optionalModule(ctx context.Context, q db.Querier, projectID string, id *string) (*module.Module, error) {
	if id == nil {
		return nil, nil
	}
	m, err := db.GetModule(ctx, q, projectID, *id)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// ConflictActionInput addresses a conflict for a status change.
type ConflictActionInput struct {
	ProjectID  string
	ConflictID string
	Note       *string
	ActorID    *string
}

// AcknowledgeConflict moves an open conflict to acknowledged.
func AcknowledgeConflict(ctx context.Context, env *Env, input ConflictActionInput) (*ConflictOutput, error) {
	return transitionConflict(ctx, env, input, module.ConflictAcknowledged, audit.OpConflictAcknowledge)
}

// IgnoreConflict dismisses an open or acknowledged conflict without changing
// any module.
func IgnoreConflict(ctx context.Context, env *Env, input ConflictActionInput) (*ConflictOutput, error) {
	return transitionConflict(ctx, env, input, module.ConflictIgnored, audit.OpConflictIgnore)
}

func transitionConflict(ctx context.Context, env *Env, input ConflictActionInput, to module.ConflictStatus, op string) (*ConflictOutput, error) {
	projectID := project(input.ProjectID)
	now := env.now()

	var c *module.Conflict
	err := db.WithTx(ctx, env.DB, func(tx *sql.Tx) error {
		var err error
		c, err = db.GetConflict(ctx, tx, projectID, input.ConflictID)
		if err != nil {
			return err
		}
		if !c.Status.Active() {
			return errors.NewImmutableState("conflict", c.ID, string(c.Status))
		}
		if to == module.ConflictAcknowledged && c.Status != module.ConflictOpen {
			return errors.NewInvalidState("conflict", c.ID, string(c.Status), "acknowledge")
		}

		c.Status = to
		c.UpdatedAt = now
		if note := cleanOptionalString(input.Note); note != nil {
			c.ResolutionNote = note
		}
		if to == module.ConflictIgnored {
			c.ResolvedAt = &now
			c.ResolvedBy = cleanOptionalString(input.ActorID)
		}
		return db.UpdateConflict(ctx, tx, c)
	})
	if err != nil {
		return nil, err
	}

	env.emit(ctx, audit.Event{
		Operation:  op,
		ProjectID:  projectID,
		ActorID:    input.ActorID,
		ModuleID:   &c.ModuleID,
		ConflictID: &c.ID,
		Details:    map[string]any{"status": string(c.Status)},
	})
	return &ConflictOutput{Conflict: *c}, nil
}

// SuggestResolutionOutput is the advisor's answer for a conflict.
type SuggestResolutionOutput struct {
	ConflictID string `json:"conflict_id"`
	oracle.Advice
}

// SuggestResolution asks the resolution advisor for strategies. It never writes.
func SuggestResolution(ctx context.Context, env *Env, input GetConflictInput) (*SuggestResolutionOutput, error) {
	if env.Advisor == nil {
		return nil, errors.NewInternal(fmt.Errorf("no resolution advisor configured"))
	}
	got, err := GetConflict(ctx, env, input)
	if err != nil {
		return nil, err
	}
	if !got.Conflict.Status.Active() {
		return nil, errors.NewImmutableState("conflict", got.Conflict.ID, string(got.Conflict.Status))
	}

	advice, err := env.Advisor.Suggest(ctx, oracle.AdviceRequest{
		Conflict:    got.Conflict,
		Module:      *got.Module,
		Conflicting: got.ConflictingModule,
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	return &SuggestResolutionOutput{ConflictID: got.Conflict.ID, Advice: *advice}, nil
}

// ListAuditEventsInput contains parameters for ListAuditEvents.
type ListAuditEventsInput struct {
	ProjectID  string
	Operation  *string
	DocumentID *string
	ModuleID   *string
	ConflictID *string
	Limit      int // default: 20, max: 100
	Offset     int
}

// ListAuditEventsOutput contains a page of audit events, newest first.
type ListAuditEventsOutput struct {
	Items      []audit.Event `json:"items"`
	Pagination Pagination    `json:"pagination"`
}

// ListAuditEvents reads back events written by the SQL audit sink.
func ListAuditEvents(ctx context.Context, env *Env, input ListAuditEventsInput) (*ListAuditEventsOutput, error) {
	limit, offset := page(input.Limit, input.Offset)
	op := cleanOptionalString(input.Operation)
	if op != nil {
		*op = strings.ToLower(*op)
	}
	items, total, err := db.ListAuditEvents(ctx, env.DB, db.AuditFilter{
		ProjectID:  project(input.ProjectID),
		Operation:  op,
		DocumentID: cleanOptionalString(input.DocumentID),
		ModuleID:   cleanOptionalString(input.ModuleID),
		ConflictID: cleanOptionalString(input.ConflictID),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, err
	}
	return &ListAuditEventsOutput{
		Items:      items,
		Pagination: paginate(limit, offset, len(items), total),
	}, nil
}
