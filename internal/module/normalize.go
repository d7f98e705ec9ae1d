package module

import (
	"math"
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// slugStrip removes everything that is not a letter, digit, space or hyphen.
var slugStrip = regexp.MustCompile(`[^\p{L}\p{N}\s-]+`)

// Normalize trims, lowercases and collapses internal whitespace.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// Slug turns a heading into a module key: "Rate Limits (v2)" -> "rate-limits-v2".
func Slug(s string) string {
	s = slugStrip.ReplaceAllString(Normalize(s), "")
	s = whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "-")
	if s == "" {
		return "section"
	}
	return s
}

// EstimateTokens estimates token count using a word-based heuristic (1.3x words).
func EstimateTokens(text string) int {
	words := strings.Fields(strings.TrimSpace(text))
	return int(math.Ceil(float64(len(words)) * 1.3))
}

// NormalizeTags trims, drops empties and deduplicates while keeping order.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
