package ops

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/oracle"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxBatchItems    = 100
)

// DefaultProject is used when a caller does not name a project.
const DefaultProject = "default"

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Env carries the collaborators every operation needs.
type Env struct {
	DB      *sql.DB
	Cfg     *config.Config
	Audit   audit.Sink
	Log     *zap.Logger
	Oracle  oracle.ConflictOracle
	Advisor oracle.ResolutionAdvisor

	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// NewEnv wires the default collaborators: the SQL audit sink and the heuristic
// oracle. A nil logger becomes a no-op logger.
func NewEnv(database *sql.DB, cfg *config.Config, log *zap.Logger) *Env {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := oracle.NewHeuristic()
	return &Env{
		DB:      database,
		Cfg:     cfg,
		Audit:   db.NewAuditSink(database),
		Log:     log,
		Oracle:  h,
		Advisor: h,
		Now:     time.Now,
	}
}

func (e *Env) now() int64 {
	if e.Now == nil {
		return time.Now().Unix()
	}
	return e.Now().Unix()
}

func (e *Env) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Env) config() *config.Config {
	if e.Cfg == nil {
		return config.DefaultConfig()
	}
	return e.Cfg
}

// emit records an audit event. It must be called after the operation's
// transaction has finished.
func (e *Env) emit(ctx context.Context, ev audit.Event) {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = e.now()
	}
	audit.Emit(ctx, e.Audit, e.logger(), ev)
}

// newID returns a fresh ULID string.
func newID() string {
	return ulid.Make().String()
}

// project defaults an empty project id.
func project(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultProject
	}
	return id
}

// page applies limit defaults and bounds.
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

func paginate(limit, offset, n, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+n < total,
		Total:   total,
	}
}

// cleanOptionalString trims s and maps blank to nil.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func ptr[T any](v T) *T {
	return &v
}
