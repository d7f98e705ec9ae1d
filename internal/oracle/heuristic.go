package oracle

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/hpungsan/strata/internal/diff"
	"github.com/hpungsan/strata/internal/module"
)

// Thresholds used by Heuristic.
const (
	// ContentThreshold: same-key modules below this similarity disagree.
	ContentThreshold = 0.9
	// ScopeThreshold: differently keyed modules at or above this similarity overlap.
	ScopeThreshold = 0.8
	// HighSeverityBelow: content conflicts below this similarity are high severity.
	HighSeverityBelow = 0.5
)

// HeuristicName is stored as detected_by for heuristic detections.
const HeuristicName = "heuristic"

var versionPattern = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`)

// Heuristic is a deterministic ConflictOracle and ResolutionAdvisor built on
// character similarity. It never calls out of process.
type Heuristic struct{}

// NewHeuristic returns the default oracle.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Name implements ConflictOracle.
func (h *Heuristic) Name() string { return HeuristicName }

// Detect compares every pair of modules in scope. Modules in the same document
// are only checked for overlapping scope; same-key modules in different
// documents are checked for version and content disagreement.
func (h *Heuristic) Detect(ctx context.Context, scope Scope) (*Detection, error) {
	mods := make([]module.Module, len(scope.Modules))
	copy(mods, scope.Modules)
	sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })

	out := &Detection{Candidates: make([]Candidate, 0)}
	out.Usage.ModulesScanned = len(mods)
	for _, m := range mods {
		out.Usage.TokensEstimated += module.EstimateTokens(m.Content)
	}

	for i := 0; i < len(mods); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := i + 1; j < len(mods); j++ {
			out.Usage.Comparisons++
			if c, ok := comparePair(mods[i], mods[j]); ok {
				out.Candidates = append(out.Candidates, c)
			}
		}
	}

	known := make(map[string]bool, len(scope.KnownKeys)+len(mods))
	for _, k := range scope.KnownKeys {
		known[k] = true
	}
	for _, m := range mods {
		known[m.ModuleKey] = true
	}
	for _, m := range mods {
		for _, dep := range m.DependsOn {
			if known[dep] {
				continue
			}
			out.Candidates = append(out.Candidates, Candidate{
				ConflictType: module.ConflictDependency,
				Severity:     module.SeverityMedium,
				ModuleID:     m.ID,
				Description:  fmt.Sprintf("module %q depends on %q, which does not exist", m.ModuleKey, dep),
			})
		}
	}

	out.Summary = fmt.Sprintf("scanned %d modules (%d comparisons), found %d candidate conflicts",
		out.Usage.ModulesScanned, out.Usage.Comparisons, len(out.Candidates))
	return out, nil
}

// comparePair anchors a candidate on the newer module (larger ULID).
func comparePair(older, newer module.Module) (Candidate, bool) {
	if older.ContentHash == newer.ContentHash && older.ContentHash != "" {
		if older.DocumentID == newer.DocumentID {
			return Candidate{}, false
		}
		if older.ModuleKey == newer.ModuleKey {
			return Candidate{}, false
		}
	}

	c := Candidate{
		ModuleID:            newer.ID,
		ConflictingModuleID: &older.ID,
	}
	if older.DocumentID != newer.DocumentID {
		doc := older.DocumentID
		c.ConflictingDocID = &doc
	}

	a := module.Normalize(body(older.Content))
	b := module.Normalize(body(newer.Content))

	if older.DocumentID != newer.DocumentID && older.ModuleKey == newer.ModuleKey {
		va := versions(older.Content)
		vb := versions(newer.Content)
		if len(va) > 0 && len(vb) > 0 && !sameSet(va, vb) {
			c.ConflictType = module.ConflictVersion
			c.Severity = module.SeverityMedium
			c.Description = fmt.Sprintf("module %q references versions %s while %q in another document references %s",
				newer.ModuleKey, strings.Join(vb, ", "), older.ModuleKey, strings.Join(va, ", "))
			return c, true
		}

		sim := diff.Similarity(a, b)
		if sim >= ContentThreshold {
			return Candidate{}, false
		}
		c.ConflictType = module.ConflictContent
		c.Severity = module.SeverityMedium
		if sim < HighSeverityBelow {
			c.Severity = module.SeverityHigh
		}
		c.Description = fmt.Sprintf("module %q disagrees with the module of the same key in another document (similarity %.2f)",
			newer.ModuleKey, sim)
		return c, true
	}

	if a == "" || b == "" {
		return Candidate{}, false
	}
	sim := diff.Similarity(a, b)
	if sim < ScopeThreshold {
		return Candidate{}, false
	}
	c.ConflictType = module.ConflictScope
	c.Severity = module.SeverityLow
	c.Description = fmt.Sprintf("modules %q and %q cover overlapping content (similarity %.2f)",
		newer.ModuleKey, older.ModuleKey, sim)
	return c, true
}

// body drops a leading markdown heading line.
func body(content string) string {
	if strings.HasPrefix(content, "#") {
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			return content[i+1:]
		}
		return ""
	}
	return content
}

func versions(content string) []string {
	found := versionPattern.FindAllString(content, -1)
	set := make(map[string]bool, len(found))
	out := make([]string, 0, len(found))
	for _, v := range found {
		v = strings.TrimPrefix(v, "v")
		if !set[v] {
			set[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Suggest implements ResolutionAdvisor.
func (h *Heuristic) Suggest(ctx context.Context, req AdviceRequest) (*Advice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sim := 0.0
	if req.Conflicting != nil {
		sim = diff.Similarity(req.Module.Content, req.Conflicting.Content)
	}

	advice := &Advice{}
	add := func(s module.Strategy, desc string, confidence float64, content *string) {
		advice.Suggestions = append(advice.Suggestions, Suggestion{
			Strategy: s, Description: desc, Confidence: confidence, Content: content,
		})
	}

	switch req.Conflict.ConflictType {
	case module.ConflictContent:
		if req.Conflicting != nil {
			merged := module.MergeContent(req.Module.Content, req.Conflicting.Content)
			if sim >= HighSeverityBelow {
				add(module.StrategyMerge, "Combine both modules; the texts mostly agree", 0.8, &merged)
				add(module.StrategyReplace, "Adopt the other module's text", 0.5, nil)
			} else {
				add(module.StrategyReplace, "Adopt the other module's text; the texts diverge too far to merge", 0.7, nil)
				add(module.StrategyMerge, "Combine both modules", 0.4, &merged)
			}
		}
		add(module.StrategyClarify, "Rewrite this module to state which statement applies", 0.3, nil)
		advice.Reasoning = fmt.Sprintf("same-key modules disagree (similarity %.2f)", sim)
	case module.ConflictScope:
		add(module.StrategySplitScope, "Move the shared text into its own module", 0.7, nil)
		add(module.StrategyClarify, "Narrow this module's wording", 0.4, nil)
		add(module.StrategyDeprecate, "Unground the redundant module", 0.3, nil)
		advice.Reasoning = fmt.Sprintf("modules overlap (similarity %.2f)", sim)
	case module.ConflictVersion:
		add(module.StrategyVersionBoth, "Keep both and tag each with its version context", 0.8, nil)
		add(module.StrategyDeprecate, "Unground the outdated module", 0.4, nil)
		add(module.StrategyReplace, "Adopt the other module's text", 0.3, nil)
		advice.Reasoning = "modules describe different versions of the same subject"
	case module.ConflictDependency:
		add(module.StrategyClarify, "Fix the dependency reference in the module text", 0.6, nil)
		add(module.StrategyDeprecate, "Unground the module until the dependency exists", 0.4, nil)
		advice.Reasoning = "module references a dependency that does not exist"
	default:
		add(module.StrategyClarify, "Rewrite the module to remove the ambiguity", 0.3, nil)
		advice.Reasoning = "unrecognized conflict type"
	}

	advice.RecommendedStrategy = advice.Suggestions[0].Strategy
	return advice, nil
}
