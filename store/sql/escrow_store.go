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

type EscrowStore struct {
	db   *bun.DB
	repo repository.Repository[*escrowRecord]
}

func NewEscrowStore(db *bun.DB) (*EscrowStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*escrowRecord](db, escrowHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid escrow repository wiring: %w", err)
		}
	}
	return &EscrowStore{
		db:   db,
		repo: repo,
	}, nil
}

// Create inserts a new escrow while enforcing at most one active escrow per
// milestone. The in-transaction check and the partial unique index cover the
// same invariant; the index wins under concurrency.
func (s *EscrowStore) Create(ctx context.Context, escrow core.Escrow) (core.Escrow, error) {
	if s == nil || s.db == nil {
		return core.Escrow{}, fmt.Errorf("sqlstore: escrow store is not configured")
	}
	escrow.MilestoneID = strings.TrimSpace(escrow.MilestoneID)
	if escrow.MilestoneID == "" {
		return core.Escrow{}, fmt.Errorf("sqlstore: milestone id is required")
	}
	if strings.TrimSpace(escrow.ID) == "" {
		escrow.ID = uuid.NewString()
	}
	if escrow.Status == "" {
		escrow.Status = core.EscrowStatusLocked
	}
	now := time.Now().UTC()
	if escrow.CreatedAt.IsZero() {
		escrow.CreatedAt = now
	}
	escrow.UpdatedAt = now

	record := newEscrowRecord(escrow)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, existsErr := tx.NewSelect().
			Model((*escrowRecord)(nil)).
			Where("?TableAlias.milestone_id = ?", escrow.MilestoneID).
			Where("?TableAlias.status IN (?)", bun.In(activeEscrowStatuses())).
			Exists(ctx)
		if existsErr != nil {
			return existsErr
		}
		if exists {
			return fmt.Errorf("%w: milestone %s", core.ErrEscrowAlreadyActive, escrow.MilestoneID)
		}
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			if isUniqueViolation(insertErr) {
				return fmt.Errorf("%w: milestone %s", core.ErrEscrowAlreadyActive, escrow.MilestoneID)
			}
			return insertErr
		}
		return nil
	})
	if err != nil {
		return core.Escrow{}, err
	}
	return record.toDomain(), nil
}

func (s *EscrowStore) Get(ctx context.Context, id string) (core.Escrow, error) {
	if s == nil || s.db == nil {
		return core.Escrow{}, fmt.Errorf("sqlstore: escrow store is not configured")
	}
	record := &escrowRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Escrow{}, fmt.Errorf("%w: id %q", core.ErrEscrowNotFound, id)
		}
		return core.Escrow{}, err
	}
	return record.toDomain(), nil
}

func (s *EscrowStore) FindActiveByMilestone(ctx context.Context, milestoneID string) (core.Escrow, bool, error) {
	if s == nil || s.db == nil {
		return core.Escrow{}, false, fmt.Errorf("sqlstore: escrow store is not configured")
	}
	record := &escrowRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.milestone_id = ?", strings.TrimSpace(milestoneID)).
		Where("?TableAlias.status IN (?)", bun.In(activeEscrowStatuses())).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Escrow{}, false, nil
		}
		return core.Escrow{}, false, err
	}
	return record.toDomain(), true, nil
}

// UpdateStatusIf is the conditional mutation behind every ledger transition:
// the write lands only while the current status is one of from.
func (s *EscrowStore) UpdateStatusIf(ctx context.Context, id string, from []core.EscrowStatus, to core.EscrowStatus) (core.Escrow, error) {
	if s == nil || s.db == nil {
		return core.Escrow{}, fmt.Errorf("sqlstore: escrow store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" || len(from) == 0 {
		return core.Escrow{}, fmt.Errorf("sqlstore: escrow id and source statuses are required")
	}
	fromValues := make([]string, 0, len(from))
	for _, status := range from {
		fromValues = append(fromValues, string(status))
	}

	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*escrowRecord)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(fromValues)).
		Exec(ctx)
	if err != nil {
		return core.Escrow{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Escrow{}, err
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return core.Escrow{}, getErr
		}
		return core.Escrow{}, fmt.Errorf(
			"%w: escrow %s is %s, wanted one of %s",
			core.ErrInvalidEscrowStatusTransition, id, current.Status, strings.Join(fromValues, ", "),
		)
	}
	return s.Get(ctx, id)
}

func activeEscrowStatuses() []string {
	return []string{
		string(core.EscrowStatusLocked),
		string(core.EscrowStatusHeld),
	}
}

var _ core.EscrowStore = (*EscrowStore)(nil)
