package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/hpungsan/strata/internal/audit"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/revision"
)

func TestInit(t *testing.T) {
	tmpDir := t.TempDir()

	db, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(tmpDir, "strata.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	tables := []string{
		"documents",
		"revisions",
		"revision_diffs",
		"document_versions",
		"modules",
		"module_grounding_history",
		"module_conflicts",
		"audit_log",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestInit_CreatesDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "nested", "path", ".strata")

	db, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestUserVersion(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	version, err := GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after Init = %d, want %d", version, CurrentSchemaVersion)
	}

	if err := SetUserVersion(db, 99); err != nil {
		t.Fatalf("SetUserVersion() error = %v", err)
	}
	version, err = GetUserVersion(db)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != 99 {
		t.Errorf("user_version = %d, want 99", version)
	}
}

func TestInit_MigrationIdempotent(t *testing.T) {
	tmpDir := t.TempDir()

	db1, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	db1.Close()

	db2, err := Init(tmpDir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer db2.Close()

	version, err := GetUserVersion(db2)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after second Init = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_SchemaIndexes(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()

	indexes := []string{
		"idx_documents_project_path",
		"idx_revisions_document",
		"idx_revisions_one_main",
		"idx_document_versions_number",
		"idx_modules_document_key",
		"idx_modules_project_grounded",
		"idx_grounding_history_module",
		"idx_module_conflicts_active",
		"idx_module_conflicts_project",
		"idx_audit_log_project",
	}
	for _, idx := range indexes {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", idx, err)
		}
	}
}

func seedDocument(t *testing.T, q Querier, projectID, path string) *revision.Document {
	t.Helper()
	d := &revision.Document{
		ID:             "doc-" + path,
		ProjectID:      projectID,
		Path:           path,
		Content:        "Hello.",
		GroundingState: "ungrounded",
		CreatedAt:      1,
		UpdatedAt:      1,
	}
	if err := InsertDocument(context.Background(), q, d); err != nil {
		t.Fatalf("InsertDocument() error = %v", err)
	}
	return d
}

func seedRevision(t *testing.T, q Querier, d *revision.Document, id string, isMain bool) *revision.Revision {
	t.Helper()
	r := &revision.Revision{
		ID:         id,
		DocumentID: d.ID,
		ProjectID:  d.ProjectID,
		Title:      id,
		Content:    "Hello.",
		Status:     revision.StatusDraft,
		IsMain:     isMain,
		AuthorType: revision.AuthorUser,
		CreatedAt:  2,
	}
	if err := InsertRevision(context.Background(), q, r); err != nil {
		t.Fatalf("InsertRevision(%s) error = %v", id, err)
	}
	return r
}

func TestDocuments_PathUniquePerProject(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	seedDocument(t, db, "alpha", "guide.md")

	dup := &revision.Document{ID: "other", ProjectID: "alpha", Path: "guide.md", GroundingState: "ungrounded"}
	if err := InsertDocument(ctx, db, dup); !errors.Is(err, errors.ErrAlreadyExists) {
		t.Errorf("duplicate path error = %v, want ALREADY_EXISTS", err)
	}

	other := &revision.Document{ID: "other", ProjectID: "beta", Path: "guide.md", GroundingState: "ungrounded"}
	if err := InsertDocument(ctx, db, other); err != nil {
		t.Errorf("same path in another project: %v", err)
	}

	if _, err := GetDocument(ctx, db, "beta", "doc-guide.md"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("cross-project GetDocument error = %v, want NOT_FOUND", err)
	}
}

func TestSetDocumentMain_VersionCheck(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	d := seedDocument(t, db, "alpha", "guide.md")

	ok, err := SetDocumentMain(ctx, db, d.ID, 0, "rev-1", "New.", 5)
	if err != nil || !ok {
		t.Fatalf("SetDocumentMain(v0) = %v, %v; want true, nil", ok, err)
	}
	ok, err = SetDocumentMain(ctx, db, d.ID, 0, "rev-2", "Stale.", 6)
	if err != nil {
		t.Fatalf("SetDocumentMain(stale) error = %v", err)
	}
	if ok {
		t.Error("SetDocumentMain with stale version succeeded")
	}

	got, err := GetDocument(ctx, db, "alpha", d.ID)
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if got.Content != "New." || got.Version != 1 {
		t.Errorf("document = %q v%d, want %q v1", got.Content, got.Version, "New.")
	}
}

func TestRevisions_OneMainPerDocument(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	d := seedDocument(t, db, "alpha", "guide.md")
	seedRevision(t, db, d, "rev-1", true)
	second := seedRevision(t, db, d, "rev-2", false)

	second.IsMain = true
	second.Status = revision.StatusApproved
	if err := UpdateRevisionState(ctx, db, second); !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("second main error = %v, want CONFLICT", err)
	}

	if err := DemoteMain(ctx, db, d.ID); err != nil {
		t.Fatalf("DemoteMain() error = %v", err)
	}
	if err := UpdateRevisionState(ctx, db, second); err != nil {
		t.Fatalf("UpdateRevisionState after demote: %v", err)
	}

	n, err := CountMainRevisions(ctx, db, d.ID)
	if err != nil {
		t.Fatalf("CountMainRevisions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("main revisions = %d, want 1", n)
	}
}

func TestDeleteDocument_Cascades(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	d := seedDocument(t, db, "alpha", "guide.md")
	seedRevision(t, db, d, "rev-1", true)

	if err := DeleteDocument(ctx, db, "alpha", d.ID); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if err := DeleteDocument(ctx, db, "alpha", d.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("second delete error = %v, want NOT_FOUND", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM revisions WHERE document_id = ?", d.ID).Scan(&count); err != nil {
		t.Fatalf("count revisions: %v", err)
	}
	if count != 0 {
		t.Errorf("revisions after delete = %d, want 0", count)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()
	ctx := context.Background()

	want := errors.NewInvalidRequest("stop")
	err = WithTx(ctx, database, func(tx *sql.Tx) error {
		seedDocument(t, tx, "alpha", "guide.md")
		return want
	})
	if err != want {
		t.Fatalf("WithTx() error = %v, want %v", err, want)
	}

	if _, err := GetDocumentByPath(ctx, database, "alpha", "guide.md"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("document after rollback: err = %v, want NOT_FOUND", err)
	}
}

func TestAuditSink(t *testing.T) {
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	sink := NewAuditSink(db)
	docID := "doc-1"
	events := []audit.Event{
		{Operation: "revision.create", ProjectID: "alpha", DocumentID: &docID, CreatedAt: 10},
		{Operation: "revision.approve", ProjectID: "alpha", DocumentID: &docID, Details: map[string]any{"version": 1}, CreatedAt: 20},
		{Operation: "revision.create", ProjectID: "beta", CreatedAt: 30},
	}
	for _, ev := range events {
		if err := sink.Record(ctx, ev); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, total, err := ListAuditEvents(ctx, db, AuditFilter{ProjectID: "alpha"})
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Fatalf("alpha events = %d (total %d), want 2", len(got), total)
	}
	if got[0].Operation != "revision.approve" {
		t.Errorf("newest event = %s, want revision.approve", got[0].Operation)
	}
	if got[0].ID == "" {
		t.Error("event id not generated")
	}
	if got[0].Details["version"] != float64(1) {
		t.Errorf("details = %v, want version 1", got[0].Details)
	}

	op := "revision.create"
	got, total, err = ListAuditEvents(ctx, db, AuditFilter{ProjectID: "alpha", Operation: &op})
	if err != nil {
		t.Fatalf("ListAuditEvents(op) error = %v", err)
	}
	if total != 1 || len(got) != 1 {
		t.Errorf("filtered events = %d (total %d), want 1", len(got), total)
	}
}
