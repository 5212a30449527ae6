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

type TransactionStore struct {
	db   *bun.DB
	repo repository.Repository[*transactionRecord]
}

func NewTransactionStore(db *bun.DB) (*TransactionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*transactionRecord](db, transactionHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid transaction repository wiring: %w", err)
		}
	}
	return &TransactionStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *TransactionStore) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	if strings.TrimSpace(tx.ID) == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Status == "" {
		tx.Status = core.TransactionStatusCreated
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now

	record := newTransactionRecord(tx)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Transaction{}, err
	}
	return record.toDomain(), nil
}

func (s *TransactionStore) Get(ctx context.Context, id string) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	record := &transactionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Transaction{}, fmt.Errorf("%w: id %q", core.ErrTransactionNotFound, id)
		}
		return core.Transaction{}, err
	}
	return record.toDomain(), nil
}

func (s *TransactionStore) GetByProviderIntent(ctx context.Context, providerID string, providerIntentID string) (core.Transaction, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	record := &transactionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider_id = ?", strings.ToLower(strings.TrimSpace(providerID))).
		Where("?TableAlias.provider_payment_intent_id = ?", strings.TrimSpace(providerIntentID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Transaction{}, fmt.Errorf(
				"%w: provider %q intent %q", core.ErrTransactionNotFound, providerID, providerIntentID,
			)
		}
		return core.Transaction{}, err
	}
	return record.toDomain(), nil
}

// MarkTerminalIf finalizes a transaction only while it is still created.
// updated=false means another delivery won the race; the caller treats the
// event as a duplicate.
func (s *TransactionStore) MarkTerminalIf(ctx context.Context, id string, to core.TransactionStatus, reason string) (core.Transaction, bool, error) {
	if s == nil || s.db == nil {
		return core.Transaction{}, false, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	id = strings.TrimSpace(id)
	if !to.Terminal() {
		return core.Transaction{}, false, fmt.Errorf(
			"%w: %s is not terminal", core.ErrInvalidTransactionStatusTransition, to,
		)
	}

	now := time.Now().UTC()
	result, err := s.db.NewUpdate().
		Model((*transactionRecord)(nil)).
		Set("status = ?", string(to)).
		Set("failure_reason = ?", strings.TrimSpace(reason)).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", string(core.TransactionStatusCreated)).
		Exec(ctx)
	if err != nil {
		return core.Transaction{}, false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return core.Transaction{}, false, err
	}

	tx, err := s.Get(ctx, id)
	if err != nil {
		return core.Transaction{}, false, err
	}
	return tx, affected > 0, nil
}

var _ core.TransactionStore = (*TransactionStore)(nil)
