package db

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/errors"
)

// AuditSink writes audit events to the audit_log table.
type AuditSink struct {
	db *sql.DB
}

// NewAuditSink returns a sink backed by database.
func NewAuditSink(database *sql.DB) *AuditSink {
	return &AuditSink{db: database}
}

// Record implements audit.Sink.
func (s *AuditSink) Record(ctx context.Context, ev audit.Event) error {
	return InsertAuditEvent(ctx, s.db, &ev)
}

// InsertAuditEvent appends an event. The id is generated when empty.
func InsertAuditEvent(ctx context.Context, q Querier, ev *audit.Event) error {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	var details sql.NullString
	if len(ev.Details) > 0 {
		data, err := json.Marshal(ev.Details)
		if err != nil {
			return errors.NewInternal(err)
		}
		details = sql.NullString{String: string(data), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (id, operation, project_id, actor_id, document_id, module_id, conflict_id, details_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Operation, ev.ProjectID, toNullString(ev.ActorID), toNullString(ev.DocumentID),
		toNullString(ev.ModuleID), toNullString(ev.ConflictID), details, ev.CreatedAt,
	)
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// AuditFilter selects audit events.
type AuditFilter struct {
	ProjectID  string
	Operation  *string
	DocumentID *string
	ModuleID   *string
	ConflictID *string
	Limit      int
	Offset     int
}

// ListAuditEvents returns events matching f, newest first, plus the total count.
func ListAuditEvents(ctx context.Context, q Querier, f AuditFilter) ([]audit.Event, int, error) {
	where := ` WHERE project_id = ?`
	args := []any{f.ProjectID}
	for _, c := range []struct {
		col string
		val *string
	}{
		{"operation", f.Operation},
		{"document_id", f.DocumentID},
		{"module_id", f.ModuleID},
		{"conflict_id", f.ConflictID},
	} {
		if c.val != nil {
			where += ` AND ` + c.col + ` = ?`
			args = append(args, *c.val)
		}
	}

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log`+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewStorage(err)
	}

	query := `SELECT id, operation, project_id, actor_id, document_id, module_id, conflict_id, details_json, created_at
		FROM audit_log` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	defer rows.Close()

	events := make([]audit.Event, 0)
	for rows.Next() {
		var (
			ev                           audit.Event
			actor, doc, mod, conf, extra sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Operation, &ev.ProjectID, &actor, &doc, &mod, &conf, &extra, &ev.CreatedAt); err != nil {
			return nil, 0, errors.NewStorage(err)
		}
		ev.ActorID = fromNullString(actor)
		ev.DocumentID = fromNullString(doc)
		ev.ModuleID = fromNullString(mod)
		ev.ConflictID = fromNullString(conf)
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &ev.Details); err != nil {
				return nil, 0, errors.NewInternal(err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewStorage(err)
	}
	return events, total, nil
}
