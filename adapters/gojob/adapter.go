package gojob

import (
	"context"
	"fmt"
	"strings"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-settlement/core"
)

// EnqueuerAdapter bridges the engine's queue port onto a go-job enqueuer.
// The durable job row stays authoritative in the job store; the queue
// message is only the wake-up signal, keyed by the job id so duplicate
// signals for the same job collapse.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, jobID string, jobType string, payload map[string]any) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	jobType = strings.TrimSpace(jobType)
	if jobID == "" || jobType == "" {
		return fmt.Errorf("gojob: job id and type are required")
	}
	_, err := a.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
		JobID:          jobType,
		Parameters:     withJobID(payload, jobID),
		IdempotencyKey: jobID,
	})
	return err
}

func withJobID(payload map[string]any, jobID string) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		out[key] = value
	}
	out["job_id"] = jobID
	return out
}

var _ core.JobQueuePort = (*EnqueuerAdapter)(nil)
