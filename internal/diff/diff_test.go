package diff

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLineDiff_NoChanges(t *testing.T) {
	r := LineDiff("a\nb\n", "a\nb\n")

	if r.HasChanges {
		t.Error("HasChanges = true, want false")
	}
	if len(r.OriginalLines) != 2 || len(r.ModifiedLines) != 2 {
		t.Fatalf("lines = %d/%d, want 2/2", len(r.OriginalLines), len(r.ModifiedLines))
	}
	for _, l := range r.ModifiedLines {
		if l.Type != Unchanged {
			t.Errorf("line %d type = %s, want unchanged", l.LineNumber, l.Type)
		}
	}
}

func TestLineDiff_NumbersPerSide(t *testing.T) {
	r := LineDiff("one\ntwo\nthree\n", "one\n2\nthree\nfour\n")

	wantOrig := []Line{
		{Type: Unchanged, Content: "one", LineNumber: 1},
		{Type: Removed, Content: "two", LineNumber: 2},
		{Type: Unchanged, Content: "three", LineNumber: 3},
	}
	wantMod := []Line{
		{Type: Unchanged, Content: "one", LineNumber: 1},
		{Type: Added, Content: "2", LineNumber: 2},
		{Type: Unchanged, Content: "three", LineNumber: 3},
		{Type: Added, Content: "four", LineNumber: 4},
	}

	if d := cmp.Diff(wantOrig, r.OriginalLines); d != "" {
		t.Errorf("OriginalLines mismatch (-want +got):\n%s", d)
	}
	if d := cmp.Diff(wantMod, r.ModifiedLines); d != "" {
		t.Errorf("ModifiedLines mismatch (-want +got):\n%s", d)
	}
	if !r.HasChanges {
		t.Error("HasChanges = false, want true")
	}
}

func TestLineDiff_TrailingNewlineDropped(t *testing.T) {
	r := LineDiff("", "x\n")

	if len(r.ModifiedLines) != 1 {
		t.Fatalf("ModifiedLines = %v, want one line", r.ModifiedLines)
	}
	if r.ModifiedLines[0].Content != "x" {
		t.Errorf("Content = %q, want %q", r.ModifiedLines[0].Content, "x")
	}
}

func TestLineDiff_RoundTrip(t *testing.T) {
	cases := []struct{ a, b string }{
		{"", ""},
		{"", "hello"},
		{"hello", ""},
		{"a\nb\nc\n", "a\nc\nd\n"},
		{"a\nb", "a\nb\n"},
		{"line\n\n\nend", "line\n\nend\n\n"},
		{"\n", "\n\n"},
		{"# Title\n\nBody text.\n", "# Title\n\nBody text, revised.\n\n## More\n"},
	}

	for _, c := range cases {
		r := LineDiff(c.a, c.b)
		if got := r.Modified(); got != c.b {
			t.Errorf("Modified() for %q -> %q = %q", c.a, c.b, got)
		}
		if got := r.Original(); got != c.a {
			t.Errorf("Original() for %q -> %q = %q", c.a, c.b, got)
		}
	}
}

func TestLineDiff_TrailingNewlineOnlyChange(t *testing.T) {
	r := LineDiff("a", "a\n")
	if !r.HasChanges {
		t.Error("HasChanges = false, want true when only the trailing newline differs")
	}
}

func TestWordDiff(t *testing.T) {
	parts := WordDiff("the quick brown fox", "the slow brown fox")

	want := []Part{
		{Type: Unchanged, Value: "the "},
		{Type: Removed, Value: "quick"},
		{Type: Added, Value: "slow"},
		{Type: Unchanged, Value: " brown fox"},
	}
	if d := cmp.Diff(want, parts); d != "" {
		t.Errorf("WordDiff mismatch (-want +got):\n%s", d)
	}
}

func TestWordDiff_Empty(t *testing.T) {
	if parts := WordDiff("", ""); len(parts) != 0 {
		t.Errorf("WordDiff(\"\", \"\") = %v, want empty", parts)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("", ""); got != 1.0 {
		t.Errorf("Similarity(\"\", \"\") = %v, want 1.0", got)
	}
	if got := Similarity("same text", "same text"); got != 1.0 {
		t.Errorf("Similarity(A, A) = %v, want 1.0", got)
	}
	if got := Similarity("abc", ""); got != 0 {
		t.Errorf("Similarity(abc, \"\") = %v, want 0", got)
	}
	// "abcd" vs "abxd": 3 unchanged, 1 removed, 1 added -> 3/5
	if got := Similarity("abcd", "abxd"); got != 0.6 {
		t.Errorf("Similarity(abcd, abxd) = %v, want 0.6", got)
	}
}

func TestSimilarity_Deterministic(t *testing.T) {
	a := strings.Repeat("The API returns JSON. ", 30)
	b := strings.Repeat("The API returns XML. ", 30)

	first := Similarity(a, b)
	for i := 0; i < 5; i++ {
		if got := Similarity(a, b); got != first {
			t.Fatalf("Similarity changed between calls: %v != %v", got, first)
		}
	}
	if first <= 0 || first >= 1 {
		t.Errorf("Similarity = %v, want strictly between 0 and 1", first)
	}
}

func TestDiffStats(t *testing.T) {
	r := LineDiff("a\nb\nc\n", "a\nx\nc\nd\n")
	got := DiffStats(r)
	want := Stats{LinesAdded: 2, LinesRemoved: 1, LinesUnchanged: 2}

	if got != want {
		t.Errorf("DiffStats = %+v, want %+v", got, want)
	}
}

func TestUnified_NoHeaders(t *testing.T) {
	out, err := Unified("a\nb\nc\n", "a\nB\nc\n", Label{})
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}

	want := "@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n"
	if out != want {
		t.Errorf("Unified =\n%q\nwant\n%q", out, want)
	}
}

func TestUnified_WithHeaders(t *testing.T) {
	out, err := Unified("a\n", "b\n", Label{FromFile: "rev/01A", ToFile: "rev/01B"})
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	if !strings.HasPrefix(out, "--- rev/01A\n+++ rev/01B\n@@") {
		t.Errorf("Unified missing headers:\n%s", out)
	}
}

func TestUnified_Identical(t *testing.T) {
	out, err := Unified("same\n", "same\n", Label{})
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	if out != "" {
		t.Errorf("Unified = %q, want empty", out)
	}
}

func TestUnified_Deterministic(t *testing.T) {
	a := "one\ntwo\nthree\nfour\nfive\n"
	b := "one\n2\nthree\nfour\nfive\nsix\n"

	first, err := Unified(a, b, Label{})
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}
	second, _ := Unified(a, b, Label{})
	if first != second {
		t.Error("Unified output differs between identical calls")
	}
}

func TestParseHunks(t *testing.T) {
	unified, err := Unified("a\nb\nc\n", "a\nB\nc\nd\n", Label{FromFile: "x", ToFile: "y"})
	if err != nil {
		t.Fatalf("Unified failed: %v", err)
	}

	hunks, err := ParseHunks(unified, false)
	if err != nil {
		t.Fatalf("ParseHunks failed: %v", err)
	}
	if len(hunks) != 1 {
		t.Fatalf("len(hunks) = %d, want 1", len(hunks))
	}

	h := hunks[0]
	if h.OrigStart != 1 || h.OrigLines != 3 || h.NewStart != 1 || h.NewLines != 4 {
		t.Errorf("hunk header = %+v", h)
	}
	if h.Added != 2 || h.Removed != 1 {
		t.Errorf("Added/Removed = %d/%d, want 2/1", h.Added, h.Removed)
	}
	if h.Body != "" {
		t.Error("Body should be omitted when includeBody is false")
	}
}

func TestParseHunks_Empty(t *testing.T) {
	hunks, err := ParseHunks("", true)
	if err != nil {
		t.Fatalf("ParseHunks failed: %v", err)
	}
	if len(hunks) != 0 {
		t.Errorf("len(hunks) = %d, want 0", len(hunks))
	}
}
