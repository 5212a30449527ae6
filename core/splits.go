package core

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// ReplaceSplits swaps a project's active revenue split set. The percentage
// entries, placeholders included, must sum to 100 within ±0.01 before
// anything is persisted. Owner only.
func (e *Engine) ReplaceSplits(ctx context.Context, actor Actor, projectID string, inputs []SplitInput) ([]RevenueSplit, error) {
	startedAt := e.now()
	fields := map[string]any{
		"project_id": projectID,
		"actor_id":   actor.ID,
		"splits":     len(inputs),
	}

	splits, err := e.replaceSplits(ctx, actor, projectID, inputs)
	e.observeOperation(ctx, startedAt, "splits_replace", err, fields)
	if err != nil {
		return nil, e.mapError(err)
	}
	return splits, nil
}

func (e *Engine) replaceSplits(ctx context.Context, actor Actor, projectID string, inputs []SplitInput) ([]RevenueSplit, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("core: project id is required")
	}
	if err := e.requireOwner(ctx, projectID, actor); err != nil {
		return nil, err
	}

	now := e.now()
	var totalBP int64
	splits := make([]RevenueSplit, 0, len(inputs))
	for i, input := range inputs {
		bp := int64(math.Round(input.Percent * 100))
		if bp < 0 || bp > percentDenominatorBP {
			return nil, fmt.Errorf("core: split %d percentage %s%% out of range", i, formatBP(bp))
		}
		recipientID := strings.TrimSpace(input.RecipientID)
		label := strings.TrimSpace(input.Label)
		if recipientID == "" && label == "" {
			return nil, fmt.Errorf("core: split %d needs a recipient or a placeholder label", i)
		}
		if bp == 0 {
			return nil, fmt.Errorf("%w: split %d carries no percentage", ErrPercentageModelRequired, i)
		}
		totalBP += bp
		splits = append(splits, RevenueSplit{
			ID:          uuid.NewString(),
			ProjectID:   projectID,
			RecipientID: recipientID,
			Label:       label,
			PercentBP:   bp,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	if len(splits) == 0 {
		return nil, ErrPercentageModelRequired
	}
	if delta := totalBP - percentDenominatorBP; delta > splitSumToleranceBP || delta < -splitSumToleranceBP {
		return nil, fmt.Errorf("%w: got %s%%", ErrSplitSumInvalid, formatBP(totalBP))
	}

	return e.splitStore.Replace(ctx, projectID, splits)
}

// ActiveSplits lists a project's current split set.
func (e *Engine) ActiveSplits(ctx context.Context, projectID string) ([]RevenueSplit, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, e.mapError(fmt.Errorf("core: project id is required"))
	}
	splits, err := e.splitStore.ListActive(ctx, projectID)
	if err != nil {
		return nil, e.mapError(err)
	}
	return splits, nil
}
