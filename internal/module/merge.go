package module

import (
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// MergeContent returns a followed by every non-blank line of b that a does not
// already contain. Lines are compared after trimming surrounding whitespace.
func MergeContent(a, b string) string {
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, l := range strings.Split(a, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			seen.Add(t)
		}
	}

	var extra []string
	for _, l := range strings.Split(b, "\n") {
		t := strings.TrimSpace(l)
		if t == "" || seen.Contains(t) {
			continue
		}
		seen.Add(t)
		extra = append(extra, l)
	}
	if len(extra) == 0 {
		return a
	}
	return strings.TrimRight(a, "\n") + "\n\n" + strings.Join(extra, "\n")
}

// PartitionShared splits the lines of a into those that also occur in b and
// those that do not. Blank lines stay with the remainder; the first line of a
// (its heading) always stays with the remainder.
func PartitionShared(a, b string) (shared, rest []string) {
	other := mapset.NewThreadUnsafeSet[string]()
	for _, l := range strings.Split(b, "\n") {
		if t := strings.TrimSpace(l); t != "" {
			other.Add(t)
		}
	}
	for i, l := range strings.Split(a, "\n") {
		t := strings.TrimSpace(l)
		if i > 0 && t != "" && other.Contains(t) {
			shared = append(shared, l)
			continue
		}
		rest = append(rest, l)
	}
	return shared, rest
}

// MergeTags returns the sorted union of a, b and extra.
func MergeTags(a, b []string, extra ...string) []string {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, group := range [][]string{a, b, extra} {
		for _, t := range group {
			if t = strings.TrimSpace(t); t != "" {
				set.Add(t)
			}
		}
	}
	out := set.ToSlice()
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
