package module

import "fmt"

// ConflictType classifies a detected inconsistency.
type ConflictType string

const (
	ConflictContent    ConflictType = "content"
	ConflictScope      ConflictType = "scope"
	ConflictVersion    ConflictType = "version"
	ConflictDependency ConflictType = "dependency"
)

// Valid reports whether t is a known conflict type.
func (t ConflictType) Valid() bool {
	switch t {
	case ConflictContent, ConflictScope, ConflictVersion, ConflictDependency:
		return true
	}
	return false
}

// Severity ranks a conflict.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ConflictStatus is the lifecycle state of a conflict. It only moves forward:
// open -> acknowledged -> resolved|ignored.
type ConflictStatus string

const (
	ConflictOpen         ConflictStatus = "open"
	ConflictAcknowledged ConflictStatus = "acknowledged"
	ConflictResolved     ConflictStatus = "resolved"
	ConflictIgnored      ConflictStatus = "ignored"
)

// Active reports whether the conflict still awaits a decision.
func (s ConflictStatus) Active() bool {
	return s == ConflictOpen || s == ConflictAcknowledged
}

// Conflict is a detected inconsistency anchored to one module.
type Conflict struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"project_id"`
	ModuleID            string         `json:"module_id"`
	ConflictingModuleID *string        `json:"conflicting_module_id,omitempty"`
	ConflictingDocID    *string        `json:"conflicting_doc_id,omitempty"`
	ConflictType        ConflictType   `json:"conflict_type"`
	Severity            Severity       `json:"severity"`
	Description         string         `json:"description"`
	Status              ConflictStatus `json:"status"`
	DetectedBy          string         `json:"detected_by"`
	DetectedAt          int64          `json:"detected_at"`
	UpdatedAt           int64          `json:"updated_at"`
	ResolvedAt          *int64         `json:"resolved_at,omitempty"`
	ResolvedBy          *string        `json:"resolved_by,omitempty"`
	ResolutionNote      *string        `json:"resolution_note,omitempty"`
	ResolutionStrategy  *Strategy      `json:"resolution_strategy,omitempty"`
}

// Strategy is a closed set of resolution operations.
type Strategy string

const (
	StrategyMerge       Strategy = "merge"
	StrategyReplace     Strategy = "replace"
	StrategyDeprecate   Strategy = "deprecate"
	StrategyClarify     Strategy = "clarify"
	StrategySplitScope  Strategy = "split_scope"
	StrategyVersionBoth Strategy = "version_both"
)

// Strategies lists every strategy in a stable order.
var Strategies = []Strategy{
	StrategyMerge,
	StrategyReplace,
	StrategyDeprecate,
	StrategyClarify,
	StrategySplitScope,
	StrategyVersionBoth,
}

// ParseStrategy validates s against the closed strategy set.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown resolution strategy %q (want one of %v)", s, Strategies)
}
