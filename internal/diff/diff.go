// Package diff computes line, word and character level differences between two
// content snapshots. Every function is pure: equal inputs always produce
// byte-identical outputs, because results are persisted and compared later.
package diff

import (
	"regexp"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// ChangeType tags a line or word part.
type ChangeType string

const (
	Added     ChangeType = "added"
	Removed   ChangeType = "removed"
	Unchanged ChangeType = "unchanged"
)

// Line is one line of a side of a line diff.
// LineNumber is 1-based and counted independently per side.
type Line struct {
	Type       ChangeType `json:"type"`
	Content    string     `json:"content"`
	LineNumber int        `json:"line_number"`
}

// LineResult is the output of LineDiff.
// OriginalLines holds removed and unchanged lines, ModifiedLines holds added and
// unchanged lines.
type LineResult struct {
	OriginalLines []Line `json:"original_lines"`
	ModifiedLines []Line `json:"modified_lines"`
	HasChanges    bool   `json:"has_changes"`

	// Trailing newline flags let Original/Modified rebuild the exact input.
	OriginalTrailingNewline bool `json:"original_trailing_newline,omitempty"`
	ModifiedTrailingNewline bool `json:"modified_trailing_newline,omitempty"`
}

// Part is one run of a word diff.
type Part struct {
	Type  ChangeType `json:"type"`
	Value string     `json:"value"`
}

// Stats are aggregate counts derived from a LineResult.
type Stats struct {
	LinesAdded     int `json:"lines_added"`
	LinesRemoved   int `json:"lines_removed"`
	LinesUnchanged int `json:"lines_unchanged"`
}

// LineDiff compares original and modified line by line.
func LineDiff(original, modified string) LineResult {
	a := splitLines(original)
	b := splitLines(modified)

	result := LineResult{
		OriginalLines:           []Line{},
		ModifiedLines:           []Line{},
		OriginalTrailingNewline: strings.HasSuffix(original, "\n"),
		ModifiedTrailingNewline: strings.HasSuffix(modified, "\n"),
	}

	origNum, modNum := 0, 0
	removed := func(lines []string) {
		for _, l := range lines {
			origNum++
			result.OriginalLines = append(result.OriginalLines, Line{Type: Removed, Content: l, LineNumber: origNum})
		}
	}
	added := func(lines []string) {
		for _, l := range lines {
			modNum++
			result.ModifiedLines = append(result.ModifiedLines, Line{Type: Added, Content: l, LineNumber: modNum})
		}
	}

	for _, op := range opcodes(a, b) {
		switch op.Tag {
		case 'e':
			for _, l := range a[op.I1:op.I2] {
				origNum++
				modNum++
				result.OriginalLines = append(result.OriginalLines, Line{Type: Unchanged, Content: l, LineNumber: origNum})
				result.ModifiedLines = append(result.ModifiedLines, Line{Type: Unchanged, Content: l, LineNumber: modNum})
			}
		case 'd':
			removed(a[op.I1:op.I2])
			result.HasChanges = true
		case 'i':
			added(b[op.J1:op.J2])
			result.HasChanges = true
		case 'r':
			removed(a[op.I1:op.I2])
			added(b[op.J1:op.J2])
			result.HasChanges = true
		}
	}
	if result.OriginalTrailingNewline != result.ModifiedTrailingNewline {
		result.HasChanges = true
	}

	return result
}

// Original rebuilds the original text from the non-added lines.
func (r LineResult) Original() string {
	return joinLines(r.OriginalLines, Added, r.OriginalTrailingNewline)
}

// Modified rebuilds the modified text from the non-removed lines.
func (r LineResult) Modified() string {
	return joinLines(r.ModifiedLines, Removed, r.ModifiedTrailingNewline)
}

func joinLines(lines []Line, skip ChangeType, trailingNewline bool) string {
	var sb strings.Builder
	n := 0
	for _, l := range lines {
		if l.Type == skip {
			continue
		}
		if n > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.Content)
		n++
	}
	if trailingNewline {
		sb.WriteByte('\n')
	}
	return sb.String()
}

// wordPattern splits text into alternating runs of whitespace and non-whitespace.
var wordPattern = regexp.MustCompile(`\s+|\S+`)

// WordDiff compares original and modified word by word for inline rendering.
// Adjacent tokens of the same type are merged into a single part.
func WordDiff(original, modified string) []Part {
	a := wordPattern.FindAllString(original, -1)
	b := wordPattern.FindAllString(modified, -1)

	parts := make([]Part, 0)
	emit := func(t ChangeType, tokens []string) {
		if len(tokens) == 0 {
			return
		}
		v := strings.Join(tokens, "")
		if n := len(parts); n > 0 && parts[n-1].Type == t {
			parts[n-1].Value += v
			return
		}
		parts = append(parts, Part{Type: t, Value: v})
	}

	for _, op := range opcodes(a, b) {
		switch op.Tag {
		case 'e':
			emit(Unchanged, a[op.I1:op.I2])
		case 'd':
			emit(Removed, a[op.I1:op.I2])
		case 'i':
			emit(Added, b[op.J1:op.J2])
		case 'r':
			emit(Removed, a[op.I1:op.I2])
			emit(Added, b[op.J1:op.J2])
		}
	}
	return parts
}

// Similarity returns unchangedChars / totalChars over a character level diff,
// where totalChars counts unchanged, removed and added characters.
// Two empty strings are fully similar.
func Similarity(a, b string) float64 {
	ac := runes(a)
	bc := runes(b)

	var unchanged, total int
	for _, op := range opcodes(ac, bc) {
		switch op.Tag {
		case 'e':
			unchanged += op.I2 - op.I1
			total += op.I2 - op.I1
		case 'd':
			total += op.I2 - op.I1
		case 'i':
			total += op.J2 - op.J1
		case 'r':
			total += (op.I2 - op.I1) + (op.J2 - op.J1)
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(unchanged) / float64(total)
}

// DiffStats counts lines by tag.
func DiffStats(r LineResult) Stats {
	var s Stats
	for _, l := range r.OriginalLines {
		if l.Type == Removed {
			s.LinesRemoved++
		}
	}
	for _, l := range r.ModifiedLines {
		switch l.Type {
		case Added:
			s.LinesAdded++
		case Unchanged:
			s.LinesUnchanged++
		}
	}
	return s
}

// splitLines splits on "\n" and drops the empty segment a trailing newline leaves.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

// opcodes runs the sequence matcher with the popularity heuristic disabled so
// results depend only on the inputs.
func opcodes(a, b []string) []difflib.OpCode {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	return m.GetOpCodes()
}
