// Package audit defines the structured events emitted for every state
// transition and the sink they are written to. Sink failures never fail the
// operation that emitted the event.
package audit

import (
	"context"

	"go.uber.org/zap"
)

// Operations.
const (
	OpDocumentCreate      = "document_create"
	OpDocumentDelete      = "document_delete"
	OpRevisionCreate      = "revision_create"
	OpRevisionPropose     = "revision_propose"
	OpRevisionApprove     = "revision_approve"
	OpRevisionConflict    = "revision_conflict"
	OpRevisionReject      = "revision_reject"
	OpRevisionRebase      = "revision_rebase"
	OpModuleCreate        = "module_create"
	OpModuleUpdate        = "module_update"
	OpModuleGround        = "module_ground"
	OpModuleUnground      = "module_unground"
	OpModuleExtract       = "module_extract"
	OpConflictDetect      = "conflict_detect"
	OpConflictAcknowledge = "conflict_acknowledge"
	OpConflictIgnore      = "conflict_ignore"
	OpConflictResolve     = "conflict_resolve"
)

// Event is one audit record.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Operation  string         `json:"operation"`
	ProjectID  string         `json:"project_id"`
	ActorID    *string        `json:"actor_id,omitempty"`
	DocumentID *string        `json:"document_id,omitempty"`
	ModuleID   *string        `json:"module_id,omitempty"`
	ConflictID *string        `json:"conflict_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

// Sink is an append-only destination for events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Emit writes ev to sink. Errors are logged and swallowed.
func Emit(ctx context.Context, sink Sink, log *zap.Logger, ev Event) {
	if sink == nil {
		return
	}
	if err := sink.Record(ctx, ev); err != nil {
		if log == nil {
			return
		}
		log.Warn("audit event dropped",
			zap.String("operation", ev.Operation),
			zap.String("project_id", ev.ProjectID),
			zap.Stringp("document_id", ev.DocumentID),
			zap.Stringp("module_id", ev.ModuleID),
			zap.Stringp("conflict_id", ev.ConflictID),
			zap.Error(err),
		)
	}
}

// LogSink writes events to a zap logger at debug level.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink that logs through log.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

// Record logs ev. It never fails.
func (s *LogSink) Record(_ context.Context, ev Event) error {
	s.log.Debug("audit",
		zap.String("operation", ev.Operation),
		zap.String("project_id", ev.ProjectID),
		zap.Stringp("actor_id", ev.ActorID),
		zap.Stringp("document_id", ev.DocumentID),
		zap.Stringp("module_id", ev.ModuleID),
		zap.Stringp("conflict_id", ev.ConflictID),
		zap.Any("details", ev.Details),
	)
	return nil
}

// Tee fans an event out to several sinks; the first error is returned after all
// sinks have been tried.
type Tee []Sink

// Record writes ev to every sink.
func (t Tee) Record(ctx context.Context, ev Event) error {
	var first error
	for _, s := range t {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
