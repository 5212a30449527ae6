package jobs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-settlement/core"
)

// RunnerConfig bounds the lease loop. Backoff is exponential with full
// jitter: the delay before attempt n is uniform in [0, min(cap, initial*2^(n-1))].
type RunnerConfig struct {
	PollInterval   time.Duration
	LeaseDuration  time.Duration
	BatchSize      int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:   time.Second,
		LeaseDuration:  30 * time.Second,
		BatchSize:      20,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// Runner leases queued jobs and dispatches them to the registered handlers.
// Leases are exclusive and expiring: a job claimed by a worker that crashes
// returns to queued once the lease runs out. Any number of runners may poll
// the same store concurrently.
type Runner struct {
	store    core.JobStore
	registry *Registry
	config   RunnerConfig
	logger   glog.Logger
	now      func() time.Time
	jitter   func(max time.Duration) time.Duration
}

func NewRunner(store core.JobStore, registry *Registry, config RunnerConfig, logger glog.Logger) (*Runner, error) {
	if store == nil {
		return nil, fmt.Errorf("jobs: job store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("jobs: registry is required")
	}
	defaults := DefaultRunnerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaults.LeaseDuration
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &Runner{
		store:    store,
		registry: registry,
		config:   config,
		logger:   glog.Ensure(logger),
		now: func() time.Time {
			return time.Now().UTC()
		},
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}, nil
}

// Run polls until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("job poll failed", "error", err)
			}
		}
	}
}

// RunStats reports one poll's outcomes.
type RunStats struct {
	Leased       int
	Succeeded    int
	Retried      int
	DeadLettered int
}

// RunOnce leases and executes one batch per registered job type. Handlers of
// one type run in parallel up to the type's concurrency limit, each bounded
// by the type's timeout.
func (r *Runner) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	var firstErr error
	for _, jobType := range r.registry.Types() {
		def, err := r.registry.Definition(jobType)
		if err != nil {
			continue
		}
		typeStats, err := r.runType(ctx, def)
		stats.Leased += typeStats.Leased
		stats.Succeeded += typeStats.Succeeded
		stats.Retried += typeStats.Retried
		stats.DeadLettered += typeStats.DeadLettered
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return stats, firstErr
}

func (r *Runner) runType(ctx context.Context, def Definition) (RunStats, error) {
	now := r.now()
	leased, err := r.store.Lease(ctx, def.Type, now, now.Add(r.config.LeaseDuration), r.config.BatchSize)
	if err != nil {
		return RunStats{}, err
	}
	stats := RunStats{Leased: len(leased)}
	if len(leased) == 0 {
		return stats, nil
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, def.Policy.ConcurrencyLimit)
	)
	for _, job := range leased {
		job := job
		wg.Add(1)
		semaphore <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()
			outcome := r.executeOne(ctx, def, job)
			mu.Lock()
			switch outcome {
			case outcomeSucceeded:
				stats.Succeeded++
			case outcomeRetried:
				stats.Retried++
			case outcomeDeadLettered:
				stats.DeadLettered++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return stats, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeDeadLettered
)

func (r *Runner) executeOne(ctx context.Context, def Definition, job core.Job) outcome {
	// Every retry redelivers the same payload, so a schema failure is
	// permanent; the job goes straight to the dead letter queue.
	if err := r.registry.ValidatePayload(job.Type, job.Payload); err != nil {
		if dlqErr := r.store.MoveToDLQ(ctx, job.ID, err.Error()); dlqErr != nil {
			r.logger.Error("job dead-letter failed", "job_id", job.ID, "error", dlqErr)
		}
		r.logger.Error("job dead-lettered",
			"job_id", job.ID, "job_type", job.Type, "attempts", job.Attempts, "error", err)
		return outcomeDeadLettered
	}

	runCtx, cancel := context.WithTimeout(ctx, def.Policy.Timeout)
	err := def.Handler(runCtx, job)
	cancel()

	if err == nil {
		if markErr := r.store.MarkSucceeded(ctx, job.ID); markErr != nil {
			r.logger.Error("job finalize failed", "job_id", job.ID, "error", markErr)
		}
		return outcomeSucceeded
	}

	attempts := job.Attempts + 1
	maxAttempts := def.Policy.MaxAttempts
	if job.MaxAttempts > 0 {
		maxAttempts = job.MaxAttempts
	}
	if attempts >= maxAttempts {
		if dlqErr := r.store.MoveToDLQ(ctx, job.ID, err.Error()); dlqErr != nil {
			r.logger.Error("job dead-letter failed", "job_id", job.ID, "error", dlqErr)
		}
		r.logger.Error("job dead-lettered",
			"job_id", job.ID, "job_type", job.Type, "attempts", attempts, "error", err)
		return outcomeDeadLettered
	}

	nextRunAt := r.now().Add(r.backoffDelay(attempts))
	if requeueErr := r.store.Requeue(ctx, job.ID, attempts, nextRunAt, err.Error()); requeueErr != nil {
		r.logger.Error("job requeue failed", "job_id", job.ID, "error", requeueErr)
	}
	r.logger.Info("job retried",
		"job_id", job.ID, "job_type", job.Type, "attempts", attempts, "next_run_at", nextRunAt, "error", err)
	return outcomeRetried
}

func (r *Runner) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	ceiling := time.Duration(float64(r.config.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if ceiling <= 0 || ceiling > r.config.MaxBackoff {
		ceiling = r.config.MaxBackoff
	}
	return r.jitter(ceiling)
}
