package module

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdown is shared; goldmark parsers are safe for concurrent use.
var markdown = goldmark.New()

// Section is a module candidate produced by Extract.
type Section struct {
	Key        string
	Title      string
	Content    string
	StartLine  int
	EndLine    int
	Order      int
	Level      int
	ModuleType string
}

// Extract splits markdown content into sections at top-level headings whose
// level is at most maxLevel. Headings nested in lists, quotes or code blocks
// never start a section. Text before the first heading becomes a preamble
// section when it is not blank. Line numbers are 1-based and inclusive.
func Extract(content string, maxLevel int) []Section {
	if maxLevel < 1 || maxLevel > 6 {
		maxLevel = 2
	}
	src := []byte(content)
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	type heading struct {
		line  int
		level int
		title string
	}
	var headings []heading

	doc := markdown.Parser().Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level > maxLevel || h.Lines().Len() == 0 {
			continue
		}
		offset := h.Lines().At(0).Start
		headings = append(headings, heading{
			line:  1 + bytes.Count(src[:offset], []byte("\n")),
			level: h.Level,
			title: headingText(h, src),
		})
	}

	sections := make([]Section, 0, len(headings)+1)
	keys := make(map[string]int)
	add := func(s Section) {
		// Trim trailing blank lines so EndLine points at real content
		for s.EndLine > s.StartLine && strings.TrimSpace(lines[s.EndLine-1]) == "" {
			s.EndLine--
		}
		s.Content = strings.Join(lines[s.StartLine-1:s.EndLine], "\n")
		base := s.Key
		keys[base]++
		if n := keys[base]; n > 1 {
			s.Key = fmt.Sprintf("%s-%d", base, n)
		}
		s.Order = len(sections)
		sections = append(sections, s)
	}

	firstHeading := len(lines) + 1
	if len(headings) > 0 {
		firstHeading = headings[0].line
	}
	if firstHeading > 1 {
		pre := strings.Join(lines[:firstHeading-1], "\n")
		if strings.TrimSpace(pre) != "" {
			add(Section{
				Key:        "preamble",
				Title:      "Preamble",
				StartLine:  1,
				EndLine:    firstHeading - 1,
				ModuleType: TypePreamble,
			})
		}
	}

	for i, h := range headings {
		end := len(lines)
		if i+1 < len(headings) {
			end = headings[i+1].line - 1
		}
		add(Section{
			Key:        Slug(h.title),
			Title:      h.title,
			StartLine:  h.line,
			EndLine:    end,
			Level:      h.level,
			ModuleType: TypeSection,
		})
	}

	return sections
}

// headingText collects the plain text of a heading's inline children.
func headingText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// RenderHTML converts markdown content to HTML.
func RenderHTML(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
