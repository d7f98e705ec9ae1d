package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/strata/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"document", "revision", "module", "conflict"}

// toolEntry pairs a tool definition with the entity type it acts on and a
// handler factory.
type toolEntry struct {
	typ     string
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"create_revision": {
		typ:     "revision",
		def:     createRevisionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreateRevision },
	},
	"propose_revision": {
		typ:     "revision",
		def:     proposeRevisionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProposeRevision },
	},
	"get_revision_status": {
		typ:     "revision",
		def:     getRevisionStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetRevisionStatus },
	},
	"list_revisions": {
		typ:     "revision",
		def:     listRevisionsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListRevisions },
	},
	"get_revision_diff": {
		typ:     "revision",
		def:     getRevisionDiffToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetRevisionDiff },
	},
	"rebase_revision": {
		typ:     "revision",
		def:     rebaseRevisionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRebaseRevision },
	},
	"get_document": {
		typ:     "document",
		def:     getDocumentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetDocument },
	},
	"list_modules": {
		typ:     "module",
		def:     listModulesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListModules },
	},
	"ground_module": {
		typ:     "module",
		def:     groundModuleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGroundModule },
	},
	"list_conflicts": {
		typ:     "conflict",
		def:     listConflictsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListConflicts },
	},
	"detect_conflicts": {
		typ:     "conflict",
		def:     detectConflictsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDetectConflicts },
	},
	"suggest_resolution": {
		typ:     "conflict",
		def:     suggestResolutionToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSuggestResolution },
	},
	"resolve_conflict": {
		typ:     "conflict",
		def:     resolveConflictToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleResolveConflict },
	},
}

// AllToolNames returns all valid tool names, sorted.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool returns the entity type a tool acts on, or "" for unknown tools.
func GetTypeForTool(toolName string) string {
	return toolRegistry[toolName].typ
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name, entry := range toolRegistry {
		if typeSet[entry.typ] {
			tools = append(tools, name)
		}
	}
	sort.Strings(tools)
	return tools
}

// NewServer creates a new MCP server with Strata tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"strata",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)
	cfg := h.config()

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	s := NewServer(env, version)
	return server.ServeStdio(s)
}
