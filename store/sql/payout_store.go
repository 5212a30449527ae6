package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-settlement/core"
)

type PayoutStore struct {
	db *bun.DB
}

func NewPayoutStore(db *bun.DB) (*PayoutStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &PayoutStore{db: db}, nil
}

// CreateBatch inserts the batch with its items in one transaction. The
// unique constraint on escrow_id makes the check-and-create atomic: a
// concurrent or repeated schedule for the same escrow fails with
// ErrAlreadyScheduled, never merges.
func (s *PayoutStore) CreateBatch(ctx context.Context, batch core.PayoutBatch) (core.PayoutBatch, error) {
	if s == nil || s.db == nil {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	batch.EscrowID = strings.TrimSpace(batch.EscrowID)
	if batch.EscrowID == "" {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: escrow id is required")
	}
	if len(batch.Items) == 0 {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: batch needs at least one item")
	}
	if strings.TrimSpace(batch.ID) == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = core.PayoutBatchStatusScheduled
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := newPayoutBatchRecord(batch)
		if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
			if isUniqueViolation(insertErr) {
				return fmt.Errorf("%w: escrow %s", core.ErrAlreadyScheduled, batch.EscrowID)
			}
			return insertErr
		}
		for i := range batch.Items {
			item := &batch.Items[i]
			if strings.TrimSpace(item.ID) == "" {
				item.ID = uuid.NewString()
			}
			item.BatchID = batch.ID
			if item.Status == "" {
				item.Status = core.PayoutItemStatusScheduled
			}
			if item.CreatedAt.IsZero() {
				item.CreatedAt = now
			}
			item.UpdatedAt = now
			if _, insertErr := tx.NewInsert().Model(newPayoutItemRecord(*item)).Exec(ctx); insertErr != nil {
				return insertErr
			}
		}
		return nil
	})
	if err != nil {
		return core.PayoutBatch{}, err
	}
	return batch, nil
}

func (s *PayoutStore) GetBatch(ctx context.Context, id string) (core.PayoutBatch, error) {
	if s == nil || s.db == nil {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	record := &payoutBatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.PayoutBatch{}, fmt.Errorf("%w: id %q", core.ErrPayoutBatchNotFound, id)
		}
		return core.PayoutBatch{}, err
	}
	batch := record.toDomain()
	items, err := s.ListItems(ctx, batch.ID)
	if err != nil {
		return core.PayoutBatch{}, err
	}
	batch.Items = items
	return batch, nil
}

func (s *PayoutStore) GetBatchByEscrow(ctx context.Context, escrowID string) (core.PayoutBatch, error) {
	if s == nil || s.db == nil {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	record := &payoutBatchRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.escrow_id = ?", strings.TrimSpace(escrowID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.PayoutBatch{}, fmt.Errorf("%w: escrow %q", core.ErrPayoutBatchNotFound, escrowID)
		}
		return core.PayoutBatch{}, err
	}
	batch := record.toDomain()
	items, err := s.ListItems(ctx, batch.ID)
	if err != nil {
		return core.PayoutBatch{}, err
	}
	batch.Items = items
	return batch, nil
}

func (s *PayoutStore) UpdateBatchStatusIf(ctx context.Context, id string, from []core.PayoutBatchStatus, to core.PayoutBatchStatus) (core.PayoutBatch, error) {
	if s == nil || s.db == nil {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" || len(from) == 0 {
		return core.PayoutBatch{}, fmt.Errorf("sqlstore: batch id and source statuses are required")
	}
	fromValues := make([]string, 0, len(from))
	for _, status := range from {
		fromValues = append(fromValues, string(status))
	}

	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*payoutBatchRecord)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(fromValues)).
		Exec(ctx)
	if err != nil {
		return core.PayoutBatch{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.PayoutBatch{}, err
	}
	if affected == 0 {
		current, getErr := s.GetBatch(ctx, id)
		if getErr != nil {
			return core.PayoutBatch{}, getErr
		}
		return core.PayoutBatch{}, fmt.Errorf(
			"%w: batch %s is %s, wanted one of %s",
			core.ErrInvalidPayoutBatchStatusTransition, id, current.Status, strings.Join(fromValues, ", "),
		)
	}
	return s.GetBatch(ctx, id)
}

func (s *PayoutStore) UpdateItem(ctx context.Context, item core.PayoutItem) (core.PayoutItem, error) {
	if s == nil || s.db == nil {
		return core.PayoutItem{}, fmt.Errorf("sqlstore: payout store is not configured")
	}
	item.ID = strings.TrimSpace(item.ID)
	if item.ID == "" {
		return core.PayoutItem{}, fmt.Errorf("sqlstore: item id is required")
	}
	item.UpdatedAt = time.Now().UTC()

	if _, err := s.db.NewUpdate().
		Model((*payoutItemRecord)(nil)).
		Set("status = ?", string(item.Status)).
		Set("attempts = ?", item.Attempts).
		Set("provider_transfer_id = ?", item.ProviderTransferID).
		Set("last_error = ?", item.LastError).
		Set("updated_at = ?", item.UpdatedAt).
		Where("id = ?", item.ID).
		Exec(ctx); err != nil {
		return core.PayoutItem{}, err
	}
	return item, nil
}

func (s *PayoutStore) ListItems(ctx context.Context, batchID string) ([]core.PayoutItem, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: payout store is not configured")
	}
	var records []*payoutItemRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.batch_id = ?", strings.TrimSpace(batchID)).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]core.PayoutItem, 0, len(records))
	for _, record := range records {
		items = append(items, record.toDomain())
	}
	return items, nil
}

var _ core.PayoutStore = (*PayoutStore)(nil)
