package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/strata/internal/module"
)

func strategyNames() []string {
	out := make([]string, len(module.Strategies))
	for i, s := range module.Strategies {
		out[i] = string(s)
	}
	return out
}

var projectParam = mcp.WithString("project_id",
	mcp.Description("Project scope (default: \"default\")"),
)

var createRevisionToolDef = mcp.NewTool("create_revision",
	mcp.WithDescription("Create a revision of a document. Pass based_on with the revision you edited so stale edits are caught. Set propose to submit it for review right away."),
	projectParam,
	mcp.WithString("document_id", mcp.Required(), mcp.Description("Document to revise")),
	mcp.WithString("title", mcp.Required(), mcp.Description("Short summary of the change")),
	mcp.WithString("content", mcp.Required(), mcp.Description("Full new document content")),
	mcp.WithString("description", mcp.Description("Longer explanation of the change")),
	mcp.WithString("based_on", mcp.Description("Revision id this edit started from, normally the document's main revision")),
	mcp.WithBoolean("propose", mcp.Description("Submit for review immediately")),
	mcp.WithString("author_id", mcp.Description("Agent identity")),
	mcp.WithString("source_client", mcp.Description("Calling client tag (default from config)")),
)

var proposeRevisionToolDef = mcp.NewTool("propose_revision",
	mcp.WithDescription("Submit a draft revision for review. The result status is conflicted when the document moved on since based_on."),
	projectParam,
	mcp.WithString("revision_id", mcp.Required(), mcp.Description("Draft revision")),
	mcp.WithString("author_id", mcp.Description("Agent identity")),
)

var getRevisionStatusToolDef = mcp.NewTool("get_revision_status",
	mcp.WithDescription("Read a revision's review state: status, whether it is main, and any conflict reason."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("revision_id", mcp.Required(), mcp.Description("Revision to inspect")),
)

var listRevisionsToolDef = mcp.NewTool("list_revisions",
	mcp.WithDescription("List a document's revisions, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("document_id", mcp.Required(), mcp.Description("Document")),
	mcp.WithString("status", mcp.Description("Filter by status"),
		mcp.Enum("draft", "proposed", "approved", "rejected", "conflicted")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var getRevisionDiffToolDef = mcp.NewTool("get_revision_diff",
	mcp.WithDescription("Get the diff stored when a revision was created against its base: unified text, stats and hunks."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("revision_id", mcp.Required(), mcp.Description("Revision")),
	mcp.WithBoolean("include_lines", mcp.Description("Include per-line diff")),
	mcp.WithBoolean("include_body", mcp.Description("Include hunk bodies")),
)

var rebaseRevisionToolDef = mcp.NewTool("rebase_revision",
	mcp.WithDescription("Re-create a proposed or conflicted revision on top of the current main revision. The old revision is rejected."),
	projectParam,
	mcp.WithString("revision_id", mcp.Required(), mcp.Description("Revision to rebase")),
	mcp.WithString("content", mcp.Description("Replacement content, e.g. after reconciling with the new main")),
	mcp.WithString("author_id", mcp.Description("Agent identity")),
)

var getDocumentToolDef = mcp.NewTool("get_document",
	mcp.WithDescription("Get a document by id or path, including its main revision id (use it as based_on)."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("id", mcp.Description("Document id")),
	mcp.WithString("path", mcp.Description("Document path")),
)

var listModulesToolDef = mcp.NewTool("list_modules",
	mcp.WithDescription("List knowledge modules. Use grounded_only to get only content accepted as authoritative."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("document_id", mcp.Description("Restrict to one document")),
	mcp.WithBoolean("grounded_only", mcp.Description("Only grounded modules")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var groundModuleToolDef = mcp.NewTool("ground_module",
	mcp.WithDescription("Mark a module grounded (authoritative) or ungrounded. Repeating the current state is a no-op."),
	projectParam,
	mcp.WithString("module_id", mcp.Required(), mcp.Description("Module")),
	mcp.WithBoolean("grounded", mcp.Description("Target state (default true)")),
	mcp.WithString("reason", mcp.Description("Why")),
	mcp.WithNumber("confidence", mcp.Description("Confidence 0..1"), mcp.Min(0), mcp.Max(1)),
	mcp.WithString("actor_id", mcp.Description("Agent identity")),
)

var listConflictsToolDef = mcp.NewTool("list_conflicts",
	mcp.WithDescription("List detected conflicts between modules."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("status", mcp.Description("Filter by status"),
		mcp.Enum("open", "acknowledged", "resolved", "ignored")),
	mcp.WithString("severity", mcp.Description("Filter by severity"),
		mcp.Enum("critical", "high", "medium", "low")),
	mcp.WithString("module_id", mcp.Description("Conflicts involving this module")),
	mcp.WithString("document_id", mcp.Description("Conflicts anchored in this document")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var detectConflictsToolDef = mcp.NewTool("detect_conflicts",
	mcp.WithDescription("Scan modules for contradictions, overlaps, version skew and missing dependencies. Results are stored; repeated scans do not duplicate conflicts."),
	projectParam,
	mcp.WithString("document_id", mcp.Description("Restrict the scan to one document")),
	mcp.WithBoolean("all_modules", mcp.Description("Include ungrounded modules")),
	mcp.WithNumber("max_modules", mcp.Description("Scan at most this many modules (capped by config)")),
	mcp.WithString("actor_id", mcp.Description("Agent identity")),
)

var suggestResolutionToolDef = mcp.NewTool("suggest_resolution",
	mcp.WithDescription("Suggest resolution strategies for an open conflict. Never modifies anything."),
	mcp.WithReadOnlyHintAnnotation(true),
	projectParam,
	mcp.WithString("conflict_id", mcp.Required(), mcp.Description("Conflict")),
)

var resolveConflictToolDef = mcp.NewTool("resolve_conflict",
	mcp.WithDescription("Resolve an open conflict by applying one strategy to the modules involved."),
	mcp.WithDestructiveHintAnnotation(true),
	projectParam,
	mcp.WithString("conflict_id", mcp.Required(), mcp.Description("Conflict")),
	mcp.WithString("strategy", mcp.Required(), mcp.Description("Resolution strategy"), mcp.Enum(strategyNames()...)),
	mcp.WithString("custom_content", mcp.Description("Replacement content; required for clarify")),
	mcp.WithString("deprecate_target", mcp.Description("Module deprecate ungrounds"), mcp.Enum("anchor", "conflicting")),
	mcp.WithString("note", mcp.Description("Resolution note")),
	mcp.WithString("actor_id", mcp.Description("Agent identity")),
)
