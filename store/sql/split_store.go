package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-settlement/core"
)

type SplitStore struct {
	db *bun.DB
}

func NewSplitStore(db *bun.DB) (*SplitStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &SplitStore{db: db}, nil
}

// Replace swaps the whole split set for the project in one transaction, so
// readers never observe a partially applied configuration.
func (s *SplitStore) Replace(ctx context.Context, projectID string, splits []core.RevenueSplit) ([]core.RevenueSplit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: split store is not configured")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("sqlstore: project id is required")
	}

	now := time.Now().UTC()
	replaced := make([]core.RevenueSplit, 0, len(splits))
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, deleteErr := tx.NewDelete().
			Model((*revenueSplitRecord)(nil)).
			Where("project_id = ?", projectID).
			Exec(ctx); deleteErr != nil {
			return deleteErr
		}
		for _, split := range splits {
			split.ProjectID = projectID
			if strings.TrimSpace(split.ID) == "" {
				split.ID = uuid.NewString()
			}
			if split.CreatedAt.IsZero() {
				split.CreatedAt = now
			}
			split.UpdatedAt = now
			if _, insertErr := tx.NewInsert().Model(newRevenueSplitRecord(split)).Exec(ctx); insertErr != nil {
				return insertErr
			}
			replaced = append(replaced, split)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *SplitStore) ListActive(ctx context.Context, projectID string) ([]core.RevenueSplit, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: split store is not configured")
	}
	var records []*revenueSplitRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.project_id = ?", strings.TrimSpace(projectID)).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	splits := make([]core.RevenueSplit, 0, len(records))
	for _, record := range records {
		splits = append(splits, record.toDomain())
	}
	return splits, nil
}

var _ core.SplitStore = (*SplitStore)(nil)
