package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.MaxModulesPerScan != def.MaxModulesPerScan {
		t.Fatalf("MaxModulesPerScan = %d, want %d", cfg.MaxModulesPerScan, def.MaxModulesPerScan)
	}
	if cfg.ExtractHeadingLevel != 2 {
		t.Errorf("ExtractHeadingLevel = %d, want 2", cfg.ExtractHeadingLevel)
	}
	if cfg.SourceClient != "mcp" {
		t.Errorf("SourceClient = %q, want %q", cfg.SourceClient, "mcp")
	}
	if cfg.RequireBaseRevision {
		t.Error("RequireBaseRevision should default to false")
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	data := `{"max_modules_per_scan": 10, "require_base_revision": true, "log_level": "debug"}`
	if err := os.WriteFile(configPath, []byte(data), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxModulesPerScan != 10 {
		t.Errorf("MaxModulesPerScan = %d, want 10", cfg.MaxModulesPerScan)
	}
	if !cfg.RequireBaseRevision {
		t.Error("RequireBaseRevision = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	// Untouched keys keep defaults
	if cfg.BatchConcurrency != 4 {
		t.Errorf("BatchConcurrency = %d, want 4", cfg.BatchConcurrency)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"max_modules_per_scan": 80, "disabled_tools": ["resolve_conflict"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	strataDir := filepath.Join(repoRoot, ".strata")
	if err := os.MkdirAll(strataDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"max_modules_per_scan": 20, "disabled_tools": ["detect_conflicts", "resolve_conflict"]}`
	if err := os.WriteFile(filepath.Join(strataDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	nested := filepath.Join(repoRoot, "docs", "guides")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.MaxModulesPerScan != 20 {
		t.Errorf("MaxModulesPerScan = %d, want 20 (repo override)", cfg.MaxModulesPerScan)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools = %v, want 2 deduplicated entries", cfg.DisabledTools)
	}
	if cfg.DisabledTools[0] != "resolve_conflict" || cfg.DisabledTools[1] != "detect_conflicts" {
		t.Errorf("DisabledTools = %v", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_NoRepoConfig(t *testing.T) {
	globalDir := t.TempDir()
	startDir := t.TempDir()

	cfg, err := LoadWithRepo(globalDir, startDir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.MaxModulesPerScan != 50 {
		t.Errorf("MaxModulesPerScan = %d, want default 50", cfg.MaxModulesPerScan)
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if got := FindRepoConfig(t.TempDir()); got != "" {
		t.Errorf("FindRepoConfig() = %q, want empty", got)
	}
	if got := FindRepoConfig(""); got != "" {
		t.Errorf("FindRepoConfig(\"\") = %q, want empty", got)
	}
}

func TestMerge_BooleanAndStrings(t *testing.T) {
	base := &Config{LogLevel: "info", SourceClient: "mcp", RequireBaseRevision: true}
	overlay := &Config{LogLevel: "  ", SourceClient: "cursor"}

	got := Merge(base, overlay)

	if got.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info (blank overlay ignored)", got.LogLevel)
	}
	if got.SourceClient != "cursor" {
		t.Errorf("SourceClient = %q, want cursor", got.SourceClient)
	}
	if !got.RequireBaseRevision {
		t.Error("RequireBaseRevision should stay true from base")
	}
	if got.DisabledTypes != nil {
		t.Errorf("DisabledTypes = %v, want nil", got.DisabledTypes)
	}
}
