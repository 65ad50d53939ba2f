package sqlstore

import (
	"fmt"

	"github.com/contractlane/go-webhooks/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	idempotencyStore   *IdempotencyKeyStore
	dispatchLogStore   *DispatchLogStore
	trackingEventStore *TrackingEventStore
	messageStatusStore *MessageStatusStore
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
	if f.idempotencyStore != nil && f.dispatchLogStore != nil {
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

func (f *RepositoryFactory) IdempotencyStore() core.IdempotencyStore {
	if f == nil {
		return nil
	}
	return f.idempotencyStore
}

func (f *RepositoryFactory) DispatchLog() core.DispatchLog {
	if f == nil {
		return nil
	}
	return f.dispatchLogStore
}

func (f *RepositoryFactory) TrackingLog() core.TrackingLog {
	if f == nil {
		return nil
	}
	return f.trackingEventStore
}

func (f *RepositoryFactory) MessageStatusStore() core.MessageStatusStore {
	if f == nil {
		return nil
	}
	return f.messageStatusStore
}

func (f *RepositoryFactory) initStores() error {
	dispatchRepo := repository.NewRepository[*dispatchLogRecord](f.db, dispatchLogHandlers())
	if validator, ok := dispatchRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid dispatch log repository wiring: %w", err)
		}
	}

	trackingRepo := repository.NewRepository[*trackingEventRecord](f.db, trackingEventHandlers())
	if validator, ok := trackingRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid tracking event repository wiring: %w", err)
		}
	}

	f.idempotencyStore = NewIdempotencyKeyStore(f.db)
	f.dispatchLogStore = NewDispatchLogStore(f.db)
	f.trackingEventStore = NewTrackingEventStore(f.db)
	f.messageStatusStore = NewMessageStatusStore(f.db)
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
