// Package oracle defines the collaborators that find semantic conflicts between
// modules and advise on how to resolve them. Production deployments plug in a
// model-backed implementation; Heuristic is the deterministic default.
package oracle

import (
	"context"

	"github.com/hpungsan/strata/internal/module"
)

// Scope is the set of modules handed to a detector in one call.
type Scope struct {
	ProjectID  string
	DocumentID *string
	Modules    []module.Module

	// KnownKeys are all module keys in the project, used to check dependsOn
	// references that point outside Modules.
	KnownKeys []string
}

// Candidate is a conflict proposed by a detector, not yet stored.
type Candidate struct {
	ConflictType        module.ConflictType `json:"conflict_type"`
	Severity            module.Severity     `json:"severity"`
	ModuleID            string              `json:"module_id"`
	ConflictingModuleID *string             `json:"conflicting_module_id,omitempty"`
	ConflictingDocID    *string             `json:"conflicting_doc_id,omitempty"`
	Description         string              `json:"description"`
}

// Usage reports what a detection call cost.
type Usage struct {
	ModulesScanned  int `json:"modules_scanned"`
	Comparisons     int `json:"comparisons"`
	TokensEstimated int `json:"tokens_estimated"`
}

// Detection is the result of one ConflictOracle call.
type Detection struct {
	Candidates []Candidate `json:"candidates"`
	Summary    string      `json:"summary"`
	Usage      Usage       `json:"usage"`
}

// ConflictOracle finds conflicts among a scope of modules.
type ConflictOracle interface {
	// Name identifies the detector; stored as detected_by.
	Name() string
	Detect(ctx context.Context, scope Scope) (*Detection, error)
}

// AdviceRequest carries a conflict and the modules it references.
type AdviceRequest struct {
	Conflict    module.Conflict
	Module      module.Module
	Conflicting *module.Module
}

// Suggestion is one candidate resolution.
type Suggestion struct {
	Strategy    module.Strategy `json:"strategy"`
	Description string          `json:"description"`
	Content     *string         `json:"content,omitempty"`
	Confidence  float64         `json:"confidence"`
}

// Advice is the result of a ResolutionAdvisor call.
type Advice struct {
	Suggestions         []Suggestion    `json:"suggestions"`
	RecommendedStrategy module.Strategy `json:"recommended_strategy"`
	Reasoning           string          `json:"reasoning"`
}

// ResolutionAdvisor proposes strategies for a stored conflict.
type ResolutionAdvisor interface {
	Suggest(ctx context.Context, req AdviceRequest) (*Advice, error)
}
