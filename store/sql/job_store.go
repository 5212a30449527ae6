package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-settlement/core"
)

type JobStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
}

func NewJobStore(db *bun.DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	return &JobStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *JobStore) Enqueue(ctx context.Context, job core.Job) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	job.Type = strings.TrimSpace(job.Type)
	if job.Type == "" {
		return core.Job{}, fmt.Errorf("sqlstore: job type is required")
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = core.JobStatusQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	record := newJobRecord(job)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Job{}, fmt.Errorf("%w: id %q", core.ErrJobNotFound, id)
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

// Lease claims up to limit runnable jobs of one type. Each claim is a
// conditional single-row update, so concurrent runners polling the same
// store never execute the same job instance twice. An expired lease makes a
// crashed worker's job claimable again.
func (s *JobStore) Lease(ctx context.Context, jobType string, now time.Time, leaseUntil time.Time, limit int) ([]core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, fmt.Errorf("sqlstore: job type is required")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	leaseUntil = leaseUntil.UTC()

	var candidates []*jobRecord
	err := s.db.NewSelect().
		Model(&candidates).
		Column("id").
		Where("?TableAlias.type = ?", jobType).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
					return q.
						Where("?TableAlias.status = ?", string(core.JobStatusQueued)).
						Where("(?TableAlias.next_run_at IS NULL OR ?TableAlias.next_run_at <= ?)", now)
				}).
				WhereOr("(?TableAlias.status = ? AND ?TableAlias.lease_expires_at <= ?)",
					string(core.JobStatusLeased), now)
		}).
		Order("priority DESC", "created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	leased := make([]core.Job, 0, len(candidates))
	for _, candidate := range candidates {
		result, updateErr := s.db.NewUpdate().
			Model((*jobRecord)(nil)).
			Set("status = ?", string(core.JobStatusLeased)).
			Set("lease_expires_at = ?", leaseUntil).
			Set("updated_at = ?", now).
			Where("id = ?", candidate.ID).
			WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
				return q.
					Where("(status = ? AND (next_run_at IS NULL OR next_run_at <= ?))",
						string(core.JobStatusQueued), now).
					WhereOr("(status = ? AND lease_expires_at <= ?)",
						string(core.JobStatusLeased), now)
			}).
			Exec(ctx)
		if updateErr != nil {
			return nil, updateErr
		}
		affected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return nil, affectedErr
		}
		if affected == 0 {
			continue
		}
		job, getErr := s.Get(ctx, candidate.ID)
		if getErr != nil {
			return nil, getErr
		}
		leased = append(leased, job)
	}
	return leased, nil
}

func (s *JobStore) MarkSucceeded(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	return s.finalize(ctx, id, core.JobStatusSucceeded, "")
}

func (s *JobStore) Requeue(ctx context.Context, id string, attempts int, nextRunAt time.Time, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusQueued)).
		Set("attempts = ?", attempts).
		Set("next_run_at = ?", nextRunAt.UTC()).
		Set("lease_expires_at = NULL").
		Set("last_error = ?", strings.TrimSpace(lastError)).
		Set("updated_at = ?", now).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusLeased)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func (s *JobStore) MoveToDLQ(ctx context.Context, id string, lastError string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	return s.finalize(ctx, id, core.JobStatusDLQ, lastError)
}

// RequeueFromDLQ is the manual operator path: the job returns to queued
// with a fresh attempt budget.
func (s *JobStore) RequeueFromDLQ(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusQueued)).
		Set("attempts = 0").
		Set("next_run_at = NULL").
		Set("lease_expires_at = NULL").
		Set("last_error = ''").
		Set("updated_at = ?", now).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusDLQ)).
		Exec(ctx)
	if err != nil {
		return core.Job{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Job{}, err
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return core.Job{}, getErr
		}
		return core.Job{}, fmt.Errorf(
			"%w: job %s is %s, not dlq", core.ErrInvalidJobStatusTransition, id, current.Status,
		)
	}
	return s.Get(ctx, id)
}

func (s *JobStore) finalize(ctx context.Context, id string, to core.JobStatus, lastError string) error {
	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(to)).
		Set("lease_expires_at = NULL").
		Set("last_error = ?", strings.TrimSpace(lastError)).
		Set("updated_at = ?", now).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status = ?", string(core.JobStatusLeased)).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

func requireAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: job %s is not leased", core.ErrInvalidJobStatusTransition, id)
	}
	return nil
}

var _ core.JobStore = (*JobStore)(nil)
