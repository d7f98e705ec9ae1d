package module

import (
	"strings"
	"testing"
)

func TestContentHash(t *testing.T) {
	h1 := ContentHash("hello")
	h2 := ContentHash("hello")
	h3 := ContentHash("hello!")

	if len(h1) != HashLength {
		t.Errorf("len = %d, want %d", len(h1), HashLength)
	}
	if h1 != h2 {
		t.Error("hash should be stable")
	}
	if h1 == h3 {
		t.Error("different content should hash differently")
	}
}

func TestAggregateState(t *testing.T) {
	tests := []struct {
		name string
		in   []bool
		want string
	}{
		{"no modules", nil, StateUngrounded},
		{"all grounded", []bool{true, true, true}, StateGrounded},
		{"none grounded", []bool{false, false}, StateUngrounded},
		{"some grounded", []bool{true, false, true}, StatePartial},
		{"single grounded", []bool{true}, StateGrounded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AggregateState(tt.in); got != tt.want {
				t.Errorf("AggregateState(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Rate Limits (v2)":   "rate-limits-v2",
		"  Getting   Started ": "getting-started",
		"API / Auth":         "api-auth",
		"!!!":                "section",
		"Überblick":            "überblick",
	}
	for in, want := range tests {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" api ", "", "api", "v2"})
	if len(got) != 2 || got[0] != "api" || got[1] != "v2" {
		t.Errorf("NormalizeTags = %v, want [api v2]", got)
	}
	if NormalizeTags([]string{"  "}) != nil {
		t.Error("all-blank tags should normalize to nil")
	}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(string(s))
		if err != nil {
			t.Errorf("ParseStrategy(%q) error: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseStrategy(%q) = %q", s, got)
		}
	}
	if _, err := ParseStrategy("rewrite"); err == nil {
		t.Error("unknown strategy should fail")
	}
}

func TestConflictStatus_Active(t *testing.T) {
	if !ConflictOpen.Active() || !ConflictAcknowledged.Active() {
		t.Error("open and acknowledged are active")
	}
	if ConflictResolved.Active() || ConflictIgnored.Active() {
		t.Error("resolved and ignored are terminal")
	}
}

const guide = `Intro line.

# Guide

Welcome.

## Install

Run make.

` + "```sh" + `
# not a heading
` + "```" + `

### Details
Deep detail.

## Install
Second install section.
`

func TestExtract(t *testing.T) {
	sections := Extract(guide, 2)

	if len(sections) != 4 {
		for _, s := range sections {
			t.Logf("%+v", s)
		}
		t.Fatalf("len(sections) = %d, want 4", len(sections))
	}

	pre := sections[0]
	if pre.Key != "preamble" || pre.ModuleType != TypePreamble {
		t.Errorf("first section = %+v, want preamble", pre)
	}
	if pre.StartLine != 1 || pre.EndLine != 1 || pre.Content != "Intro line." {
		t.Errorf("preamble lines/content = %d-%d %q", pre.StartLine, pre.EndLine, pre.Content)
	}

	g := sections[1]
	if g.Key != "guide" || g.Title != "Guide" || g.Level != 1 {
		t.Errorf("guide section = %+v", g)
	}
	if g.StartLine != 3 || g.EndLine != 5 {
		t.Errorf("guide lines = %d-%d, want 3-5", g.StartLine, g.EndLine)
	}

	inst := sections[2]
	if inst.Key != "install" {
		t.Errorf("install key = %q", inst.Key)
	}
	// Level 3 heading and the fenced "# not a heading" stay inside install
	if !strings.Contains(inst.Content, "# not a heading") || !strings.Contains(inst.Content, "### Details") {
		t.Errorf("install content missing nested parts:\n%s", inst.Content)
	}
	if inst.StartLine != 7 || inst.EndLine != 16 {
		t.Errorf("install lines = %d-%d, want 7-16", inst.StartLine, inst.EndLine)
	}

	dup := sections[3]
	if dup.Key != "install-2" {
		t.Errorf("duplicate heading key = %q, want install-2", dup.Key)
	}
	if dup.Order != 3 {
		t.Errorf("Order = %d, want 3", dup.Order)
	}
	if dup.Content != "## Install\nSecond install section." {
		t.Errorf("dup content = %q", dup.Content)
	}
}

func TestExtract_NoHeadings(t *testing.T) {
	sections := Extract("just text\nmore text\n", 2)
	if len(sections) != 1 {
		t.Fatalf("len(sections) = %d, want 1", len(sections))
	}
	if sections[0].ModuleType != TypePreamble || sections[0].EndLine != 2 {
		t.Errorf("section = %+v", sections[0])
	}
}

func TestExtract_Empty(t *testing.T) {
	if sections := Extract("", 2); len(sections) != 0 {
		t.Errorf("Extract(\"\") = %v, want empty", sections)
	}
	if sections := Extract("\n\n  \n", 2); len(sections) != 0 {
		t.Errorf("Extract(blank) = %v, want empty", sections)
	}
}

func TestExtract_InlineMarkupInHeading(t *testing.T) {
	sections := Extract("## The `retry` *policy*\nbody\n", 2)
	if len(sections) != 1 {
		t.Fatalf("len(sections) = %d, want 1", len(sections))
	}
	if sections[0].Title != "The retry policy" {
		t.Errorf("Title = %q, want %q", sections[0].Title, "The retry policy")
	}
	if sections[0].Key != "the-retry-policy" {
		t.Errorf("Key = %q", sections[0].Key)
	}
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("# Hi\n\ntext")
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if !strings.Contains(html, "<h1>Hi</h1>") {
		t.Errorf("html = %q", html)
	}
}
