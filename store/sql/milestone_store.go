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

type MilestoneStore struct {
	db   *bun.DB
	repo repository.Repository[*milestoneRecord]
}

func NewMilestoneStore(db *bun.DB) (*MilestoneStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*milestoneRecord](db, milestoneHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid milestone repository wiring: %w", err)
		}
	}
	return &MilestoneStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *MilestoneStore) Create(ctx context.Context, milestone core.Milestone) (core.Milestone, error) {
	if s == nil || s.db == nil {
		return core.Milestone{}, fmt.Errorf("sqlstore: milestone store is not configured")
	}
	if strings.TrimSpace(milestone.ID) == "" {
		milestone.ID = uuid.NewString()
	}
	if milestone.Version <= 0 {
		milestone.Version = 1
	}
	now := time.Now().UTC()
	if milestone.CreatedAt.IsZero() {
		milestone.CreatedAt = now
	}
	milestone.UpdatedAt = now

	record := newMilestoneRecord(milestone)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Milestone{}, err
	}
	return record.toDomain(), nil
}

func (s *MilestoneStore) Get(ctx context.Context, id string) (core.Milestone, error) {
	if s == nil || s.db == nil {
		return core.Milestone{}, fmt.Errorf("sqlstore: milestone store is not configured")
	}
	record := &milestoneRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Milestone{}, fmt.Errorf("%w: id %q", core.ErrMilestoneNotFound, id)
		}
		return core.Milestone{}, err
	}
	return record.toDomain(), nil
}

// Update writes the milestone only if the stored version still equals
// expectedVersion. A stale version fails without writing, which serializes
// concurrent transitions against the same milestone.
func (s *MilestoneStore) Update(ctx context.Context, milestone core.Milestone, expectedVersion int) (core.Milestone, error) {
	if s == nil || s.db == nil {
		return core.Milestone{}, fmt.Errorf("sqlstore: milestone store is not configured")
	}
	milestone.ID = strings.TrimSpace(milestone.ID)
	if milestone.ID == "" {
		return core.Milestone{}, fmt.Errorf("sqlstore: milestone id is required")
	}

	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*milestoneRecord)(nil)).
		Set("status = ?", string(milestone.Status)).
		Set("escrow_id = ?", milestone.EscrowID).
		Set("dispute_reason = ?", milestone.DisputeReason).
		Set("pre_dispute_status = ?", string(milestone.PreDispute)).
		Set("version = ?", expectedVersion+1).
		Set("updated_at = ?", now).
		Where("id = ?", milestone.ID).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return core.Milestone{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Milestone{}, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, milestone.ID); getErr != nil {
			return core.Milestone{}, getErr
		}
		return core.Milestone{}, fmt.Errorf(
			"%w: milestone %s expected version %d", core.ErrStaleVersion, milestone.ID, expectedVersion,
		)
	}
	return s.Get(ctx, milestone.ID)
}

var _ core.MilestoneStore = (*MilestoneStore)(nil)
