package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
)

const conflictColumns = `
	id, project_id, module_id, conflicting_module_id, conflicting_doc_id,
	conflict_type, severity, description, status, detected_by, detected_at, updated_at,
	resolved_at, resolved_by, resolution_note, resolution_strategy`

// ConflictFilter selects conflicts for listing.
type ConflictFilter struct {
	ProjectID  string
	Status     *module.ConflictStatus
	Severity   *module.Severity
	ModuleID   *string
	DocumentID *string
	Limit      int
	Offset     int
}

// InsertConflict stores a new conflict. A second active conflict for the same
// (module, conflicting module, type) violates idx_module_conflicts_active.
func InsertConflict(ctx context.Context, q Querier, c *module.Conflict) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO module_conflicts (`+conflictColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ProjectID, c.ModuleID, toNullString(c.ConflictingModuleID), toNullString(c.ConflictingDocID),
		string(c.ConflictType), string(c.Severity), c.Description, string(c.Status), c.DetectedBy, c.DetectedAt, c.UpdatedAt,
		toNullInt(c.ResolvedAt), toNullString(c.ResolvedBy), toNullString(c.ResolutionNote), strategyString(c.ResolutionStrategy),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("conflict", c.ModuleID+"/"+string(c.ConflictType))
		}
		return errors.NewStorage(err)
	}
	return nil
}

// UpdateConflict writes every mutable field of a conflict.
func UpdateConflict(ctx context.Context, q Querier, c *module.Conflict) error {
	res, err := q.ExecContext(ctx, `
		UPDATE module_conflicts SET
			conflicting_doc_id = ?, severity = ?, description = ?, status = ?, detected_by = ?, updated_at = ?,
			resolved_at = ?, resolved_by = ?, resolution_note = ?, resolution_strategy = ?
		WHERE id = ?`,
		toNullString(c.ConflictingDocID), string(c.Severity), c.Description, string(c.Status), c.DetectedBy, c.UpdatedAt,
		toNullInt(c.ResolvedAt), toNullString(c.ResolvedBy), toNullString(c.ResolutionNote), strategyString(c.ResolutionStrategy),
		c.ID,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n == 0 {
		return errors.NewNotFound("conflict", c.ID)
	}
	return nil
}

// GetConflict retrieves a conflict by id within a project.
func GetConflict(ctx context.Context, q Querier, projectID, id string) (*module.Conflict, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM module_conflicts WHERE id = ? AND project_id = ?`, id, projectID)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("conflict", id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return c, nil
}

// FindActiveConflict returns the open or acknowledged conflict for the triple,
// or nil when there is none.
func FindActiveConflict(ctx context.Context, q Querier, moduleID string, conflictingModuleID *string, t module.ConflictType) (*module.Conflict, error) {
	other := ""
	if conflictingModuleID != nil {
		other = *conflictingModuleID
	}
	row := q.QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM module_conflicts
		WHERE module_id = ? AND COALESCE(conflicting_module_id, '') = ? AND conflict_type = ?
		  AND status IN ('open', 'acknowledged')`,
		moduleID, other, string(t),
	)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return c, nil
}

// ListConflicts returns a page of conflicts, newest first, plus the total count.
func ListConflicts(ctx context.Context, q Querier, f ConflictFilter) ([]module.Conflict, int, error) {
	where := ` WHERE project_id = ?`
	args := []any{f.ProjectID}
	if f.Status != nil {
		where += ` AND status = ?`
		args = append(args, string(*f.Status))
	}
	if f.Severity != nil {
		where += ` AND severity = ?`
		args = append(args, string(*f.Severity))
	}
	if f.ModuleID != nil {
		where += ` AND (module_id = ? OR conflicting_module_id = ?)`
		args = append(args, *f.ModuleID, *f.ModuleID)
	}
	if f.DocumentID != nil {
		where += ` AND module_id IN (SELECT id FROM modules WHERE document_id = ?)`
		args = append(args, *f.DocumentID)
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM module_conflicts`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStorage(err)
	}

	query := `SELECT ` + conflictColumns + ` FROM module_conflicts` + where + ` ORDER BY detected_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	defer rows.Close()

	conflicts := make([]module.Conflict, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, 0, errors.NewStorage(err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	return conflicts, total, nil
}

func strategyString(s *module.Strategy) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

func scanConflict(s scanner) (*module.Conflict, error) {
	var (
		c           module.Conflict
		otherModule sql.NullString
		otherDoc    sql.NullString
		ctype       string
		severity    string
		status      string
		resolvedAt  sql.NullInt64
		resolvedBy  sql.NullString
		note        sql.NullString
		strategy    sql.NullString
	)
	err := s.Scan(
		&c.ID, &c.ProjectID, &c.ModuleID, &otherModule, &otherDoc,
		&ctype, &severity, &c.Description, &status, &c.DetectedBy, &c.DetectedAt, &c.UpdatedAt,
		&resolvedAt, &resolvedBy, &note, &strategy,
	)
	if err != nil {
		return nil, err
	}
	c.ConflictingModuleID = fromNullString(otherModule)
	c.ConflictingDocID = fromNullString(otherDoc)
	c.ConflictType = module.ConflictType(ctype)
	c.Severity = module.Severity(severity)
	c.Status = module.ConflictStatus(status)
	c.ResolvedAt = fromNullInt(resolvedAt)
	c.ResolvedBy = fromNullString(resolvedBy)
	c.ResolutionNote = fromNullString(note)
	if strategy.Valid {
		st := module.Strategy(strategy.String)
		c.ResolutionStrategy = &st
	}
	return &c, nil
}
