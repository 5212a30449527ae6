package core

import (
	"context"
	"fmt"
	"strings"
)

// GetJob returns one job by id.
func (e *Engine) GetJob(ctx context.Context, id string) (Job, error) {
	if strings.TrimSpace(id) == "" {
		return Job{}, e.mapError(fmt.Errorf("%w: empty job id", ErrJobNotFound))
	}
	job, err := e.jobStore.Get(ctx, id)
	if err != nil {
		return Job{}, e.mapError(err)
	}
	return job, nil
}

// RequeueFromDLQ returns a dead-lettered job to the queue with a fresh
// attempt budget. This is the manual operator path out of dlq.
func (e *Engine) RequeueFromDLQ(ctx context.Context, id string) (Job, error) {
	startedAt := e.now()
	fields := map[string]any{"job_id": id}

	job, err := e.jobStore.RequeueFromDLQ(ctx, id)
	e.observeOperation(ctx, startedAt, "job_requeue_dlq", err, fields)
	if err != nil {
		return Job{}, e.mapError(err)
	}
	if err := e.jobQueue.Enqueue(ctx, job.ID, job.Type, job.Payload); err != nil {
		e.logError(ctx, "job queue signal failed", map[string]any{
			"job_id":   job.ID,
			"job_type": job.Type,
			"error":    err.Error(),
		})
	}
	return job, nil
}

// JobStore exposes the engine's job store to the runner, which leases and
// finalizes jobs out of band of the synchronous operations.
func (e *Engine) Jobs() JobStore {
	if e == nil {
		return nil
	}
	return e.jobStore
}
