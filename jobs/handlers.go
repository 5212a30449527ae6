package jobs

import (
	"context"
	"time"

	"github.com/goliatone/go-settlement/core"
)

// PayoutExecuteDefinition binds the payout.execute job type to the engine.
// The bounds match the settlement pipeline's needs: up to ten attempts with
// a minute per run, and at most five parallel provider calls per runner.
func PayoutExecuteDefinition(engine *core.Engine) Definition {
	return Definition{
		Type: core.JobTypePayoutExecute,
		Policy: Policy{
			MaxAttempts:      10,
			Timeout:          60 * time.Second,
			ConcurrencyLimit: 5,
		},
		Schema: []Field{
			{Name: "batch_id", Kind: FieldKindString},
			{Name: "escrow_id", Kind: FieldKindString},
		},
		Handler: func(ctx context.Context, job core.Job) error {
			batchID, _ := job.Payload["batch_id"].(string)
			return engine.ExecutePayoutBatch(ctx, batchID)
		},
	}
}

// DefaultRegistry returns a registry with the settlement job types wired.
func DefaultRegistry(engine *core.Engine) (*Registry, error) {
	registry := NewRegistry()
	if err := registry.Register(PayoutExecuteDefinition(engine)); err != nil {
		return nil, err
	}
	return registry, nil
}
