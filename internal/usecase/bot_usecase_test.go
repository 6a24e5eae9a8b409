package usecase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochMillis = int64(1_000_000)

type botFixture struct {
	store     *store.Memory
	completer *fakeCompleter
	bot       *botUsecase
}

func newBotFixture(t *testing.T, cfg BotConfig) *botFixture {
	t.Helper()
	st, b := newChatStore(t)
	completer := &fakeCompleter{resp: replyWith("hello from bot")}
	uc := NewBotUsecase(st, b, NewPersonaUsecase(st, ""), completer, cfg).(*botUsecase)
	uc.epoch = time.UnixMilli(epochMillis)
	uc.now = func() time.Time { return time.UnixMilli(epochMillis + 10_000) }

	insert(t, st, models.CollectionPersona, models.Persona{ID: "u1", PersonaType: models.PersonaTypeUser})
	insert(t, st, models.CollectionPersona, models.Persona{
		ID:                            "bot1",
		PersonaType:                   models.PersonaTypeBot,
		ModelOptions:                  []string{"gpt-4", "gpt-3.5-turbo"},
		CustomInstructionForContext:   "  Be brief. ",
		CustomInstructionForResponses: "Answer in English.",
	})
	insert(t, st, models.CollectionRoom, models.Room{ID: "r1", Participants: []string{"u1", "bot1"}})
	return &botFixture{store: st, completer: completer, bot: uc}
}

func (f *botFixture) event(t *testing.T, id, sender string, createdAt int64, content string) models.Document {
	t.Helper()
	doc, err := store.Encode(models.Event{
		ID: id, Content: content, Type: "message", Room: "r1", Sender: sender,
		CreatedAt: createdAt, ModifiedAt: createdAt,
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(t.Context(), models.CollectionEvent, doc))
	return doc
}

func (f *botFixture) events(t *testing.T) []*models.Event {
	t.Helper()
	events, err := store.FindAs[models.Event](t.Context(), f.store, models.CollectionEvent, store.Query{
		Sort: []store.SortField{{Field: "createdAt"}},
	})
	require.NoError(t, err)
	return events
}

func TestBotTriggerFilter(t *testing.T) {
	t.Parallel()

	t.Run("event before epoch", func(t *testing.T) {
		f := newBotFixture(t, BotConfig{})
		doc := f.event(t, "e1", "u1", epochMillis-1, "old")

		require.NoError(t, f.bot.HandleEvent(t.Context(), doc))
		assert.Empty(t, f.completer.requests())
		assert.Len(t, f.events(t), 1)
	})

	t.Run("event from a bot", func(t *testing.T) {
		f := newBotFixture(t, BotConfig{})
		doc := f.event(t, "e1", "bot1", epochMillis+1, "beep")

		require.NoError(t, f.bot.HandleEvent(t.Context(), doc))
		assert.Empty(t, f.completer.requests())
		assert.Len(t, f.events(t), 1)
	})

	t.Run("event from an unknown sender", func(t *testing.T) {
		f := newBotFixture(t, BotConfig{})
		doc := f.event(t, "e1", "ghost", epochMillis+1, "boo")

		require.NoError(t, f.bot.HandleEvent(t.Context(), doc))
		assert.Empty(t, f.completer.requests())
	})
}

func TestBotReply(t *testing.T) {
	t.Parallel()

	f := newBotFixture(t, BotConfig{Temperature: 0.7})
	doc := f.event(t, "e1", "u1", epochMillis+1, "hi there")

	require.NoError(t, f.bot.HandleEvent(t.Context(), doc))

	reqs := f.completer.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "gpt-4", req.Model)
	assert.Equal(t, "e1", req.TraceID)
	assert.InDelta(t, 0.7, req.Temperature, 0.0001)
	assert.Equal(t, []models.CompletionMessage{
		{Role: models.RoleSystem, Content: "Be brief.\n\nAnswer in English."},
		{Role: models.RoleUser, Content: "hi there"},
	}, req.Messages)

	events := f.events(t)
	require.Len(t, events, 2)
	reply := events[1]
	assert.Equal(t, "bot1", reply.Sender)
	assert.Equal(t, "r1", reply.Room)
	assert.Equal(t, "hello from bot", reply.Content)
	assert.Equal(t, "message", reply.Type)
	assert.Equal(t, epochMillis+10_000, reply.CreatedAt)
	assert.NotEmpty(t, reply.ID)
}

func TestBotHistory(t *testing.T) {
	t.Parallel()

	f := newBotFixture(t, BotConfig{HistoryLimit: 3})
	f.event(t, "h0", "u1", epochMillis-100, "too old")
	f.event(t, "h2", "bot1", epochMillis-20, "second")
	f.event(t, "h1", "u1", epochMillis-30, "first")
	f.event(t, "h3b", "u1", epochMillis-10, "third b")
	f.event(t, "h3a", "u1", epochMillis-10, "third a")
	trigger := f.event(t, "t", "u1", epochMillis+1, "question")

	require.NoError(t, f.bot.HandleEvent(t.Context(), trigger))

	reqs := f.completer.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []models.CompletionMessage{
		{Role: models.RoleSystem, Content: "Be brief.\n\nAnswer in English."},
		{Role: models.RoleAssistant, Content: "second"},
		{Role: models.RoleUser, Content: "third a"},
		{Role: models.RoleUser, Content: "third b"},
		{Role: models.RoleUser, Content: "question"},
	}, reqs[0].Messages)
}

func TestBotFailureBookkeeping(t *testing.T) {
	t.Parallel()

	f := newBotFixture(t, BotConfig{})
	f.completer.resp = nil
	f.completer.err = &models.CompletionError{StatusCode: 500, Code: "server_error", Message: "overloaded"}
	doc := f.event(t, "e1", "u1", epochMillis+1, "hi")

	require.NoError(t, f.bot.HandleEvent(t.Context(), doc))

	events := f.events(t)
	require.Len(t, events, 1, "no reply on failure")
	assert.Equal(t, []string{"server_error: overloaded"}, events[0].FailureMessages)
	assert.Equal(t, []string{"bot1"}, events[0].RetryablePersonaFailures)
	assert.Equal(t, epochMillis+10_000, events[0].ModifiedAt)

	t.Run("transport error", func(t *testing.T) {
		f.completer.err = errors.New("connection refused")
		require.NoError(t, f.bot.HandleEvent(t.Context(), doc))

		events := f.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, []string{"server_error: overloaded", "connection refused"}, events[0].FailureMessages)
		assert.Equal(t, []string{"bot1", "bot1"}, events[0].RetryablePersonaFailures)
	})

	t.Run("empty choices", func(t *testing.T) {
		f := newBotFixture(t, BotConfig{})
		f.completer.resp = &models.CompletionResponse{}
		doc := f.event(t, "e2", "u1", epochMillis+1, "hi")

		require.NoError(t, f.bot.HandleEvent(t.Context(), doc))
		events := f.events(t)
		require.Len(t, events, 1)
		assert.Len(t, events[0].FailureMessages, 1)
	})
}

func TestBotConcurrentFailures(t *testing.T) {
	t.Parallel()

	f := newBotFixture(t, BotConfig{})
	f.completer.resp = nil
	f.completer.err = errors.New("connection refused")
	doc := f.event(t, "e1", "u1", epochMillis+1, "hi")

	const handlers = 16
	var wg sync.WaitGroup
	for range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.bot.HandleEvent(t.Context(), doc))
		}()
	}
	wg.Wait()

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Len(t, events[0].FailureMessages, handlers)
	assert.Len(t, events[0].RetryablePersonaFailures, handlers)
	assert.Len(t, f.completer.requests(), handlers)
}

func TestBotPipelineLive(t *testing.T) {
	t.Parallel()

	f := newBotFixture(t, BotConfig{Workers: 2})
	f.bot.Start(t.Context())
	t.Cleanup(f.bot.Stop)

	f.event(t, "e1", "u1", epochMillis+1, "hi")

	require.Eventually(t, func() bool {
		return len(f.events(t)) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.completer.requests(), 1, "the bot reply does not trigger another completion")
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultSystemPrompt, systemPrompt(&models.Persona{}))
	assert.Equal(t, DefaultSystemPrompt, systemPrompt(&models.Persona{CustomInstructionForContext: "   "}))
	assert.Equal(t, "ctx", systemPrompt(&models.Persona{CustomInstructionForContext: " ctx "}))
	assert.Equal(t, "resp", systemPrompt(&models.Persona{CustomInstructionForResponses: "resp"}))
}
