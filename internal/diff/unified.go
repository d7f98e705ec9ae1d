package diff

import (
	"bytes"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// UnifiedContext is the number of context lines around each hunk.
const UnifiedContext = 3

// Label carries the optional file header metadata of a unified diff.
// With an empty label the output starts directly at the first "@@" hunk header.
type Label struct {
	FromFile string
	ToFile   string
	FromDate string
	ToDate   string
}

// Unified renders a unified diff of original and modified.
// Identical inputs produce an empty string.
func Unified(original, modified string, label Label) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminated(splitLines(original)),
		B:        terminated(splitLines(modified)),
		FromFile: label.FromFile,
		ToFile:   label.ToFile,
		FromDate: label.FromDate,
		ToDate:   label.ToDate,
		Context:  UnifiedContext,
	})
}

func terminated(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

// Hunk summarizes one hunk of a stored unified diff.
type Hunk struct {
	OrigStart int    `json:"orig_start"`
	OrigLines int    `json:"orig_lines"`
	NewStart  int    `json:"new_start"`
	NewLines  int    `json:"new_lines"`
	Added     int    `json:"added"`
	Removed   int    `json:"removed"`
	Body      string `json:"body,omitempty"`
}

// ParseHunks reads the hunks of a unified diff produced by Unified.
// File headers, if present, are skipped.
func ParseHunks(unified string, includeBody bool) ([]Hunk, error) {
	if strings.TrimSpace(unified) == "" {
		return []Hunk{}, nil
	}
	if idx := strings.Index(unified, "@@"); idx > 0 {
		unified = unified[idx:]
	}

	parsed, err := godiff.ParseHunks([]byte(unified))
	if err != nil {
		return nil, err
	}

	hunks := make([]Hunk, 0, len(parsed))
	for _, h := range parsed {
		out := Hunk{
			OrigStart: int(h.OrigStartLine),
			OrigLines: int(h.OrigLines),
			NewStart:  int(h.NewStartLine),
			NewLines:  int(h.NewLines),
		}
		for _, line := range bytes.Split(h.Body, []byte("\n")) {
			if len(line) == 0 {
				continue
			}
			switch line[0] {
			case '+':
				out.Added++
			case '-':
				out.Removed++
			}
		}
		if includeBody {
			out.Body = string(h.Body)
		}
		hunks = append(hunks, out)
	}
	return hunks, nil
}
