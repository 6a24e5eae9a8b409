package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/replication"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu        sync.Mutex
	delivered map[string][]models.Document
}

func (r *recordingTransport) DeliverChanges(_ context.Context, collection string, docs []models.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.delivered == nil {
		r.delivered = map[string][]models.Document{}
	}
	r.delivered[collection] = append(r.delivered[collection], docs...)
	return nil
}

func (r *recordingTransport) ReportCheckpoint(context.Context, string, models.Checkpoint) error {
	return nil
}

func (r *recordingTransport) count(collection string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered[collection])
}

func TestSyncUsecase(t *testing.T) {
	t.Parallel()

	b := bus.New(64)
	t.Cleanup(b.Close)
	st := store.NewMemory(b)
	transport := &recordingTransport{}
	manager := replication.NewManager(replication.ManagerParams{
		Store:     st,
		Bus:       b,
		Transport: transport,
		Elector:   replication.NewLocalElection().Elector(),
		Options:   replication.Options{RetryTime: 10 * time.Millisecond, PollInterval: 10 * time.Millisecond},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = manager.Stop(ctx)
	})
	uc := NewSyncUsecase(st, manager, NewPersonaUsecase(st, "ext1"), "isDeleted")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, uc.CreateCollectionsFromCanonical(ctx, map[string]models.Schema{
		models.CollectionPersona: {},
		models.CollectionEvent:   {DeletedField: "deleted"},
	}))
	assert.True(t, st.HasCollection(models.CollectionPersona))
	assert.True(t, st.HasCollection(models.CollectionEvent))

	_, err := uc.CheckpointStatus(models.CollectionRoom)
	assert.ErrorIs(t, err, models.ErrUnknownCollection)

	require.NoError(t, uc.EnqueueCanonicalChanges(ctx, models.CollectionPersona, []models.Document{
		{"id": "b1", "personaType": "bot", "providedByExtension": "ext1", "online": false, "modifiedAt": 10},
		{"id": "u1", "personaType": "user", "modifiedAt": 11},
		{"id": "gone", "personaType": "bot", "isDeleted": true, "modifiedAt": 12},
	}))
	require.NoError(t, uc.FinishedSyncingDocsFromCanonical(ctx))

	status, err := uc.CheckpointStatus(models.CollectionPersona)
	require.NoError(t, err)
	assert.Equal(t, models.Checkpoint{ID: "gone", ModifiedAt: 12}, status.Checkpoint)
	assert.True(t, status.Leader)
	assert.Zero(t, status.Queued)

	b1, err := store.FindOneAs[models.Persona](ctx, st, models.CollectionPersona, store.ByID("b1"))
	require.NoError(t, err)
	assert.True(t, b1.Online)

	_, err = st.FindOne(ctx, models.CollectionPersona, store.ByID("gone"))
	assert.ErrorIs(t, err, models.ErrNotFound, "deleted documents are hidden")

	require.Eventually(t, func() bool {
		return transport.count(models.CollectionPersona) == 1
	}, 2*time.Second, 10*time.Millisecond, "the online flip is pushed back")

	err = uc.EnqueueCanonicalChanges(ctx, models.CollectionRoom, []models.Document{{"id": "r1"}})
	assert.ErrorIs(t, err, models.ErrUnknownCollection)
}
