package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/stretchr/testify/require"
)

var chatCollections = []string{
	models.CollectionEvent,
	models.CollectionPersona,
	models.CollectionRoom,
	models.CollectionCodeExtension,
}

func newChatStore(t *testing.T) (*store.Memory, *bus.Bus) {
	t.Helper()
	b := bus.New(64)
	t.Cleanup(b.Close)
	st := store.NewMemory(b)
	for _, name := range chatCollections {
		require.NoError(t, st.CreateCollection(t.Context(), name, models.Schema{DeletedField: "isDeleted"}))
	}
	return st, b
}

func insert(t *testing.T, st store.Store, collection string, v any) {
	t.Helper()
	doc, err := store.Encode(v)
	require.NoError(t, err)
	require.NoError(t, st.Insert(t.Context(), collection, doc))
}

type fakeCompleter struct {
	mu   sync.Mutex
	reqs []models.CompletionRequest
	resp *models.CompletionResponse
	err  error
}

func (f *fakeCompleter) Complete(_ context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.resp, f.err
}

func (f *fakeCompleter) requests() []models.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.CompletionRequest(nil), f.reqs...)
}

func replyWith(content string) *models.CompletionResponse {
	return &models.CompletionResponse{Choices: []models.CompletionChoice{{
		Message: models.CompletionMessage{Role: models.RoleAssistant, Content: content},
	}}}
}
