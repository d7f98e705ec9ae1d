package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/ops"
)

// setupTestEnv creates a temporary database and environment for testing.
func setupTestEnv(t *testing.T) *ops.Env {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return ops.NewEnv(database, config.DefaultConfig(), zap.NewNop())
}

// runCLI runs the app with stdin fed from a closed pipe and returns stdout.
func runCLI(t *testing.T, env *ops.Env, stdin string, args ...string) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	oldStdin := os.Stdin
	stdinR, stdinW, _ := os.Pipe()
	os.Stdin = stdinR
	go func() {
		_, _ = stdinW.WriteString(stdin)
		stdinW.Close()
	}()

	err := newCLIApp(env).Run(append([]string{"strata"}, args...))

	os.Stdin = oldStdin
	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

// mustRunJSON runs a command that must succeed and decodes its JSON output.
func mustRunJSON(t *testing.T, env *ops.Env, stdin string, args ...string) map[string]any {
	t.Helper()
	out, err := runCLI(t, env, stdin, args...)
	if err != nil {
		t.Fatalf("strata %s failed: %v", strings.Join(args, " "), err)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	return m
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single item", input: "foo", expected: []string{"foo"}},
		{name: "multiple items", input: "foo,bar,baz", expected: []string{"foo", "bar", "baz"}},
		{name: "items with spaces", input: " foo , bar ", expected: []string{"foo", "bar"}},
		{name: "empty items skipped", input: "foo,,bar,", expected: []string{"foo", "bar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseList(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("parseList(%q) = %v, want %v", tt.input, result, tt.expected)
			}
			for i := range result {
				if result[i] != tt.expected[i] {
					t.Errorf("parseList(%q)[%d] = %q, want %q", tt.input, i, result[i], tt.expected[i])
				}
			}
		})
	}
}

func TestCLIDocumentAndRevisionFlow(t *testing.T) {
	env := setupTestEnv(t)

	doc := mustRunJSON(t, env, "", "doc", "create", "--path", "docs/guide.md", "--title", "Guide")
	docID := doc["document"].(map[string]any)["id"].(string)

	rev := mustRunJSON(t, env, "# Guide\nStep one.\n",
		"--actor", "alice", "rev", "create", "--doc", docID, "--title", "initial", "--propose")
	revision := rev["revision"].(map[string]any)
	if revision["status"] != "proposed" {
		t.Errorf("status = %v, want proposed", revision["status"])
	}
	if revision["author_id"] != "alice" {
		t.Errorf("author_id = %v, want alice", revision["author_id"])
	}
	firstID := revision["id"].(string)

	approved := mustRunJSON(t, env, "", "--actor", "bob", "rev", "approve", firstID)
	if approved["document"].(map[string]any)["content"] != "# Guide\nStep one.\n" {
		t.Errorf("document content = %q", approved["document"].(map[string]any)["content"])
	}

	next := mustRunJSON(t, env, "# Guide\nStep one.\nStep two.\n",
		"rev", "create", "--doc", docID, "--title", "more", "--based-on", firstID)
	nextID := next["revision"].(map[string]any)["id"].(string)

	unified, err := runCLI(t, env, "", "rev", "diff", "-u", nextID)
	if err != nil {
		t.Fatalf("rev diff failed: %v", err)
	}
	if !strings.Contains(unified, "+Step two.") {
		t.Errorf("unified diff missing added line:\n%s", unified)
	}

	status := mustRunJSON(t, env, "", "rev", "status", nextID)
	if status["status"] != "draft" {
		t.Errorf("status = %v, want draft", status["status"])
	}

	rejected := mustRunJSON(t, env, "", "rev", "reject", "--reason", "later", nextID)
	if rejected["revision"].(map[string]any)["status"] != "rejected" {
		t.Errorf("reject status = %v", rejected["revision"].(map[string]any)["status"])
	}

	list := mustRunJSON(t, env, "", "rev", "list", "--doc", docID, "--status", "approved")
	if total := list["pagination"].(map[string]any)["total"]; total != float64(1) {
		t.Errorf("approved revisions = %v, want 1", total)
	}

	versions := mustRunJSON(t, env, "", "doc", "versions", docID)
	if items := versions["items"].([]any); len(items) != 1 {
		t.Errorf("versions = %d, want 1", len(items))
	}

	events := mustRunJSON(t, env, "", "audit", "--operation", "revision_approve")
	items := events["items"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["actor_id"] != "bob" {
		t.Errorf("approve events = %v", items)
	}
}

func TestCLIModuleAndConflictFlow(t *testing.T) {
	env := setupTestEnv(t)

	docA := mustRunJSON(t, env, "", "doc", "create", "--path", "docs/a.md")["document"].(map[string]any)["id"].(string)
	docB := mustRunJSON(t, env, "", "doc", "create", "--path", "docs/b.md")["document"].(map[string]any)["id"].(string)

	m1 := mustRunJSON(t, env, "## Auth\nTokens are JWTs signed with RS256 and verified on every request.",
		"module", "create", "--doc", docA, "--title", "Auth", "--tags", "security")
	m2 := mustRunJSON(t, env, "## Auth\nSessions use opaque cookies kept in server memory.",
		"module", "create", "--doc", docB, "--title", "Auth")
	id1 := m1["module"].(map[string]any)["id"].(string)
	id2 := m2["module"].(map[string]any)["id"].(string)

	single := mustRunJSON(t, env, "", "module", "ground", "--reason", "reviewed", "--confidence", "0.9", id1)
	if single["changed"] != true {
		t.Errorf("ground changed = %v, want true", single["changed"])
	}

	// A batch with a missing id prints the per-item results and fails.
	out, err := runCLI(t, env, "", "module", "ground", id1, id2, "01MISSING")
	if err == nil {
		t.Fatal("expected partial failure error")
	}
	var batch map[string]any
	if err := json.Unmarshal([]byte(out), &batch); err != nil {
		t.Fatalf("failed to parse batch output: %v\n%s", err, out)
	}
	if batch["changed"] != float64(1) || batch["skipped"] != float64(1) || batch["failed"] != float64(1) {
		t.Errorf("batch = changed %v skipped %v failed %v, want 1/1/1", batch["changed"], batch["skipped"], batch["failed"])
	}

	history := mustRunJSON(t, env, "", "module", "history", id1)
	if items := history["items"].([]any); len(items) != 1 {
		t.Errorf("history entries = %d, want 1", len(items))
	}

	det := mustRunJSON(t, env, "", "conflict", "detect")
	if det["created"] != float64(1) {
		t.Fatalf("created = %v, want 1", det["created"])
	}
	conflictID := det["conflicts"].([]any)[0].(map[string]any)["id"].(string)

	mustRunJSON(t, env, "", "conflict", "suggest", conflictID)

	res := mustRunJSON(t, env, "## Auth\nSessions use opaque cookies; API clients use JWTs.",
		"--actor", "carol", "conflict", "resolve", "--strategy", "clarify", "--note", "both are true", conflictID)
	if res["success"] != true {
		t.Errorf("resolve success = %v", res["success"])
	}

	open := mustRunJSON(t, env, "", "conflict", "list", "--status", "open")
	if total := open["pagination"].(map[string]any)["total"]; total != float64(0) {
		t.Errorf("open conflicts = %v, want 0", total)
	}

	grounded := mustRunJSON(t, env, "", "module", "list", "--grounded-only")
	if total := grounded["pagination"].(map[string]any)["total"]; total != float64(2) {
		t.Errorf("grounded modules = %v, want 2", total)
	}
}

func TestCLIErrorHandling(t *testing.T) {
	env := setupTestEnv(t)

	t.Run("get unknown document returns error", func(t *testing.T) {
		if _, err := runCLI(t, env, "", "doc", "get", "01NOPE"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("approve without id returns error", func(t *testing.T) {
		if _, err := runCLI(t, env, "", "rev", "approve"); err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("resolve with unknown strategy returns error", func(t *testing.T) {
		_, err := runCLI(t, env, "", "conflict", "resolve", "--strategy", "teleport", "01X")
		if err == nil || !strings.Contains(err.Error(), "INVALID_REQUEST") {
			t.Errorf("error = %v, want INVALID_REQUEST", err)
		}
	})

	t.Run("revision create needs content", func(t *testing.T) {
		docID := mustRunJSON(t, env, "", "doc", "create", "--path", "x.md")["document"].(map[string]any)["id"].(string)
		if _, err := runCLI(t, env, "", "rev", "create", "--doc", docID, "--title", "t"); err == nil {
			t.Error("expected error for empty content, got nil")
		}
	})
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"strata"}, expected: false},
		{name: "doc command", args: []string{"strata", "doc", "list"}, expected: true},
		{name: "serve command", args: []string{"strata", "serve"}, expected: true},
		{name: "global flag before command", args: []string{"strata", "--project", "p1", "conflict", "list"}, expected: true},
		{name: "help flag", args: []string{"strata", "--help"}, expected: true},
		{name: "version flag", args: []string{"strata", "-v"}, expected: true},
		{name: "unknown command", args: []string{"strata", "unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()
			os.Args = tt.args

			if got := isCLIMode(); got != tt.expected {
				t.Errorf("isCLIMode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		args     []string
		expected bool
	}{
		{args: []string{"strata"}, expected: false},
		{args: []string{"strata", "--help"}, expected: true},
		{args: []string{"strata", "help"}, expected: true},
		{args: []string{"strata", "--version"}, expected: true},
		{args: []string{"strata", "doc"}, expected: false},
	}

	for _, tt := range tests {
		oldArgs := os.Args
		os.Args = tt.args
		got := isHelpOrVersion()
		os.Args = oldArgs
		if got != tt.expected {
			t.Errorf("isHelpOrVersion(%v) = %v, want %v", tt.args, got, tt.expected)
		}
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug"); err != nil {
		t.Errorf("newLogger(debug) failed: %v", err)
	}
	if _, err := newLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	feed := func(t *testing.T, content string) {
		t.Helper()
		r, w, err := os.Pipe()
		if err != nil {
			t.Fatalf("Failed to create pipe: %v", err)
		}
		go func() {
			_, _ = w.WriteString(content)
			w.Close()
		}()
		oldStdin := os.Stdin
		os.Stdin = r
		t.Cleanup(func() { os.Stdin = oldStdin })
	}

	t.Run("within limit", func(t *testing.T) {
		feed(t, "small content\n")
		result, err := readStdin(1000)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "small content\n" {
			t.Errorf("expected content preserved, got %q", result)
		}
	})

	t.Run("exceeds limit", func(t *testing.T) {
		feed(t, strings.Repeat("x", 100))
		if _, err := readStdin(50); err == nil {
			t.Error("expected error for content exceeding limit, got nil")
		}
	})
}
