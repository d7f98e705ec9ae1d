package db

import (
	"context"
	"database/sql"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/module"
)

const moduleColumns = `
	id, document_id, project_id, module_key, title, content, content_hash,
	start_line, end_line, ord, module_type, tags_json, depends_on_json,
	is_grounded, grounded_at, grounding_source, confidence_score, created_at, updated_at`

// ModuleFilter selects modules for listing and detection scans.
type ModuleFilter struct {
	ProjectID    string
	DocumentID   *string
	GroundedOnly bool

	// IncludeRetired also returns modules whose section was removed.
	IncludeRetired bool

	Limit  int // 0 = no limit
	Offset int
}

// InsertModule stores a new module.
func InsertModule(ctx context.Context, q Querier, m *module.Module) error {
	tags, err := toJSONList(m.Tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	deps, err := toJSONList(m.DependsOn)
	if err != nil {
		return errors.NewInternal(err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO modules (`+moduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.DocumentID, m.ProjectID, m.ModuleKey, m.Title, m.Content, m.ContentHash,
		m.StartLine, m.EndLine, m.Order, m.ModuleType, tags, deps,
		boolInt(m.IsGrounded), toNullInt(m.GroundedAt), toNullString(m.GroundingSource), toNullFloat(m.ConfidenceScore),
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("module", m.ModuleKey)
		}
		return errors.NewStorage(err)
	}
	return nil
}

// UpdateModule writes every mutable field of a module.
func UpdateModule(ctx context.Context, q Querier, m *module.Module) error {
	tags, err := toJSONList(m.Tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	deps, err := toJSONList(m.DependsOn)
	if err != nil {
		return errors.NewInternal(err)
	}

	res, err := q.ExecContext(ctx, `
		UPDATE modules SET
			module_key = ?, title = ?, content = ?, content_hash = ?,
			start_line = ?, end_line = ?, ord = ?, module_type = ?, tags_json = ?, depends_on_json = ?,
			is_grounded = ?, grounded_at = ?, grounding_source = ?, confidence_score = ?, updated_at = ?
		WHERE id = ?`,
		m.ModuleKey, m.Title, m.Content, m.ContentHash,
		m.StartLine, m.EndLine, m.Order, m.ModuleType, tags, deps,
		boolInt(m.IsGrounded), toNullInt(m.GroundedAt), toNullString(m.GroundingSource), toNullFloat(m.ConfidenceScore), m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists("module", m.ModuleKey)
		}
		return errors.NewStorage(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewStorage(err)
	}
	if n == 0 {
		return errors.NewNotFound("module", m.ID)
	}
	return nil
}

// GetModule retrieves a module by id within a project.
func GetModule(ctx context.Context, q Querier, projectID, id string) (*module.Module, error) {
	row := q.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ? AND project_id = ?`, id, projectID)
	m, err := scanModule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("module", id)
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return m, nil
}

// ListModules returns modules matching f ordered by document and position.
func ListModules(ctx context.Context, q Querier, f ModuleFilter) ([]module.Module, int, error) {
	where := ` WHERE project_id = ?`
	args := []any{f.ProjectID}
	if f.DocumentID != nil {
		where += ` AND document_id = ?`
		args = append(args, *f.DocumentID)
	}
	if f.GroundedOnly {
		where += ` AND is_grounded = 1`
	}
	if !f.IncludeRetired {
		where += ` AND module_type <> '` + module.TypeRetired + `'`
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM modules`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStorage(err)
	}

	query := `SELECT ` + moduleColumns + ` FROM modules` + where + ` ORDER BY document_id, ord, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	defer rows.Close()

	mods := make([]module.Module, 0)
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, 0, errors.NewStorage(err)
		}
		mods = append(mods, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	return mods, total, nil
}

// ModuleGroundedFlags returns the is_grounded flag of every live module in a
// document. Retired modules do not count.
func ModuleGroundedFlags(ctx context.Context, q Querier, documentID string) ([]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT is_grounded FROM modules WHERE document_id = ? AND module_type <> ?`,
		documentID, module.TypeRetired)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	flags := make([]bool, 0)
	for rows.Next() {
		var g int
		if err := rows.Scan(&g); err != nil {
			return nil, errors.NewStorage(err)
		}
		flags = append(flags, g == 1)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return flags, nil
}

func scanModule(s scanner) (*module.Module, error) {
	var (
		m          module.Module
		tagsJSON   sql.NullString
		depsJSON   sql.NullString
		grounded   int
		groundedAt sql.NullInt64
		source     sql.NullString
		confidence sql.NullFloat64
	)
	err := s.Scan(
		&m.ID, &m.DocumentID, &m.ProjectID, &m.ModuleKey, &m.Title, &m.Content, &m.ContentHash,
		&m.StartLine, &m.EndLine, &m.Order, &m.ModuleType, &tagsJSON, &depsJSON,
		&grounded, &groundedAt, &source, &confidence, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if m.Tags, err = fromJSONList(tagsJSON); err != nil {
		return nil, err
	}
	if m.DependsOn, err = fromJSONList(depsJSON); err != nil {
		return nil, err
	}
	m.IsGrounded = grounded == 1
	m.GroundedAt = fromNullInt(groundedAt)
	m.GroundingSource = fromNullString(source)
	m.ConfidenceScore = fromNullFloat(confidence)
	return &m, nil
}

// InsertHistory appends a grounding history record. History is never updated.
func InsertHistory(ctx context.Context, q Querier, h *module.HistoryEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO module_grounding_history (
			id, module_id, action, previous_state, new_state, reason, source,
			actor_id, content_before, content_after, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.ModuleID, h.Action, boolInt(h.PreviousState), boolInt(h.NewState), toNullString(h.Reason), h.Source,
		toNullString(h.ActorID), toNullString(h.ContentBefore), toNullString(h.ContentAfter), toNullFloat(h.Confidence), h.CreatedAt,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// ListHistory returns a module's grounding history in insertion order.
func ListHistory(ctx context.Context, q Querier, moduleID string) ([]module.HistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, module_id, action, previous_state, new_state, reason, source,
			actor_id, content_before, content_after, confidence, created_at
		FROM module_grounding_history
		WHERE module_id = ?
		ORDER BY created_at ASC, id ASC`, moduleID)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	entries := make([]module.HistoryEntry, 0)
	for rows.Next() {
		var (
			h          module.HistoryEntry
			prev, next int
			reason     sql.NullString
			actor      sql.NullString
			before     sql.NullString
			after      sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&h.ID, &h.ModuleID, &h.Action, &prev, &next, &reason, &h.Source,
			&actor, &before, &after, &confidence, &h.CreatedAt); err != nil {
			return nil, errors.NewStorage(err)
		}
		h.PreviousState = prev == 1
		h.NewState = next == 1
		h.Reason = fromNullString(reason)
		h.ActorID = fromNullString(actor)
		h.ContentBefore = fromNullString(before)
		h.ContentAfter = fromNullString(after)
		h.Confidence = fromNullFloat(confidence)
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return entries, nil
}

// ModuleKeys returns the distinct module keys of a project, or of one document
// when documentID is set.
func ModuleKeys(ctx context.Context, q Querier, projectID string, documentID *string) ([]string, error) {
	query := `SELECT DISTINCT module_key FROM modules WHERE project_id = ?`
	args := []any{projectID}
	if documentID != nil {
		query += ` AND document_id = ?`
		args = append(args, *documentID)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY module_key`, args...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.NewStorage(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return keys, nil
}
