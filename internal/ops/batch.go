package ops

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/strata/internal/errors"
)

// BatchItemResult is the outcome of one item of a batch operation.
type BatchItemResult struct {
	ID      string `json:"id"`
	Changed bool   `json:"changed"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// runBatch applies fn to every id with at most limit items in flight. Items are
// independent: a failing item never stops the others, and items that already
// committed stay committed when ctx is cancelled. Items not started before
// cancellation are reported as failed with the context error.
func runBatch(ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) (bool, error)) []BatchItemResult {
	if limit <= 0 {
		limit = 1
	}
	results := make([]BatchItemResult, len(ids))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		results[i].ID = id
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			changed, err := fn(ctx, id)
			if err != nil {
				results[i].Error = publicMessage(err)
				if sErr, ok := errors.As(err); ok {
					results[i].Code = string(sErr.Code)
				}
				return nil
			}
			results[i].Changed = changed
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// publicMessage hides storage and internal details from batch results.
func publicMessage(err error) string {
	if errors.Internal(err) {
		if sErr, ok := errors.As(err); ok {
			return strings.ToLower(string(sErr.Code))
		}
		return "internal error"
	}
	return err.Error()
}

// validateBatchIDs trims, deduplicates and bounds a batch.
func validateBatchIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.NewInvalidRequest("at least one id is required")
	}
	if len(out) > MaxBatchItems {
		return nil, errors.NewInvalidRequest("too many ids in one batch")
	}
	return out, nil
}

// BatchGroundInput contains parameters for BatchGround.
type BatchGroundInput struct {
	ProjectID  string
	ModuleIDs  []string
	Grounded   bool // target state
	Reason     *string
	Confidence *float64
	Source     string
	ActorID    *string
}

// BatchGroundOutput reports a batch grounding run.
type BatchGroundOutput struct {
	Changed int               `json:"changed"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Results []BatchItemResult `json:"results"`
}

// BatchGround applies GroundModule or UngroundModule to each module
// independently. Modules already in the target state are skipped. When any
// item fails the full output is returned together with a PARTIAL_FAILURE error.
func BatchGround(ctx context.Context, env *Env, input BatchGroundInput) (*BatchGroundOutput, error) {
	ids, err := validateBatchIDs(input.ModuleIDs)
	if err != nil {
		return nil, err
	}

	results := runBatch(ctx, ids, env.config().BatchConcurrency, func(ctx context.Context, id string) (bool, error) {
		out, err := changeGrounding(ctx, env, GroundModuleInput{
			ProjectID:  input.ProjectID,
			ModuleID:   id,
			Reason:     input.Reason,
			Confidence: input.Confidence,
			Source:     input.Source,
			ActorID:    input.ActorID,
		}, input.Grounded)
		if err != nil {
			return false, err
		}
		return out.Changed, nil
	})

	out := &BatchGroundOutput{Results: results}
	for _, r := range results {
		switch {
		case r.Error != "":
			out.Failed++
		case r.Changed:
			out.Changed++
		default:
			out.Skipped++
		}
	}
	if out.Failed > 0 {
		return out, errors.NewPartialFailure(out.Changed+out.Skipped, out.Failed, results)
	}
	return out, nil
}
