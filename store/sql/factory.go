package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-settlement/core"
)

type RepositoryFactory struct {
	db *bun.DB

	milestoneStore       *MilestoneStore
	escrowStore          *EscrowStore
	transactionStore     *TransactionStore
	payoutStore          *PayoutStore
	splitStore           *SplitStore
	jobStore             *JobStore
	webhookDeliveryStore *WebhookDeliveryStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.milestoneStore != nil && f.escrowStore != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) MilestoneStore() core.MilestoneStore {
	if f == nil {
		return nil
	}
	return f.milestoneStore
}

func (f *RepositoryFactory) EscrowStore() core.EscrowStore {
	if f == nil {
		return nil
	}
	return f.escrowStore
}

func (f *RepositoryFactory) TransactionStore() core.TransactionStore {
	if f == nil {
		return nil
	}
	return f.transactionStore
}

func (f *RepositoryFactory) PayoutStore() core.PayoutStore {
	if f == nil {
		return nil
	}
	return f.payoutStore
}

func (f *RepositoryFactory) SplitStore() core.SplitStore {
	if f == nil {
		return nil
	}
	return f.splitStore
}

func (f *RepositoryFactory) JobStore() core.JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) WebhookDeliveryStore() *WebhookDeliveryStore {
	if f == nil {
		return nil
	}
	return f.webhookDeliveryStore
}

func (f *RepositoryFactory) initStores() error {
	milestoneStore, err := NewMilestoneStore(f.db)
	if err != nil {
		return err
	}
	f.milestoneStore = milestoneStore
	escrowStore, err := NewEscrowStore(f.db)
	if err != nil {
		return err
	}
	f.escrowStore = escrowStore
	transactionStore, err := NewTransactionStore(f.db)
	if err != nil {
		return err
	}
	f.transactionStore = transactionStore
	payoutStore, err := NewPayoutStore(f.db)
	if err != nil {
		return err
	}
	f.payoutStore = payoutStore
	splitStore, err := NewSplitStore(f.db)
	if err != nil {
		return err
	}
	f.splitStore = splitStore
	jobStore, err := NewJobStore(f.db)
	if err != nil {
		return err
	}
	f.jobStore = jobStore
	webhookDeliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.webhookDeliveryStore = webhookDeliveryStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
