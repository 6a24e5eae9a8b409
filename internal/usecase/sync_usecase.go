package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/replication"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
)

// SyncUsecase is the host-facing side of replication.
type SyncUsecase interface {
	CreateCollectionsFromCanonical(ctx context.Context, collections map[string]models.Schema) error
	EnqueueCanonicalChanges(ctx context.Context, collection string, changes []models.Document) error
	FinishedSyncingDocsFromCanonical(ctx context.Context) error
	CheckpointStatus(collection string) (models.ReplicationStatus, error)
	Status() []models.ReplicationStatus
}

type syncUsecase struct {
	store        store.Store
	manager      *replication.Manager
	personas     PersonaUsecase
	deletedField string
}

func NewSyncUsecase(st store.Store, manager *replication.Manager, personas PersonaUsecase, deletedField string) SyncUsecase {
	return &syncUsecase{
		store:        st,
		manager:      manager,
		personas:     personas,
		deletedField: deletedField,
	}
}

// CreateCollectionsFromCanonical registers the collections, starts their
// replication and waits for the initial sync.
func (uc *syncUsecase) CreateCollectionsFromCanonical(ctx context.Context, collections map[string]models.Schema) error {
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schema := collections[name]
		if schema.DeletedField == "" {
			schema.DeletedField = uc.deletedField
		}
		if err := uc.store.CreateCollection(ctx, name, schema); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		if _, err := uc.manager.Register(name, schema); err != nil {
			return fmt.Errorf("register collection %s: %w", name, err)
		}
	}
	log.Infow(ctx, "Collections created", "collections", names)

	uc.manager.StartAll()
	if err := uc.manager.AwaitInSync(ctx); err != nil {
		return fmt.Errorf("await initial sync: %w", err)
	}
	return nil
}

func (uc *syncUsecase) EnqueueCanonicalChanges(ctx context.Context, collection string, changes []models.Document) error {
	if err := uc.manager.Enqueue(ctx, collection, changes); err != nil {
		return fmt.Errorf("enqueue %s: %w", collection, err)
	}
	log.Debugw(ctx, "Canonical changes enqueued", "collection", collection, "count", len(changes))
	return nil
}

// FinishedSyncingDocsFromCanonical runs a last pass over every collection
// and marks the bots online.
func (uc *syncUsecase) FinishedSyncingDocsFromCanonical(ctx context.Context) error {
	uc.manager.ResyncAll()
	if err := uc.manager.AwaitInSync(ctx); err != nil {
		return fmt.Errorf("await sync: %w", err)
	}
	if err := uc.personas.RefreshOnline(ctx); err != nil {
		return fmt.Errorf("refresh personas: %w", err)
	}
	return nil
}

func (uc *syncUsecase) CheckpointStatus(collection string) (models.ReplicationStatus, error) {
	c, err := uc.manager.Get(collection)
	if err != nil {
		return models.ReplicationStatus{}, err
	}
	return c.Status(), nil
}

func (uc *syncUsecase) Status() []models.ReplicationStatus {
	return uc.manager.Status()
}
