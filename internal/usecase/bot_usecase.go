package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant."
	eventTypeMessage    = "message"

	fieldFailureMessages          = "failureMessages"
	fieldRetryablePersonaFailures = "retryablePersonaFailures"
)

// Completer is the completion service the bot talks to.
type Completer interface {
	Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error)
}

type BotConfig struct {
	Temperature  float64
	HistoryLimit int
	Workers      int
}

// BotUsecase answers user messages written to the event collection.
type BotUsecase interface {
	Start(ctx context.Context)
	Stop()
	HandleEvent(ctx context.Context, doc models.Document) error
}

type botUsecase struct {
	store     store.Store
	bus       *bus.Bus
	personas  PersonaUsecase
	completer Completer
	cfg       BotConfig
	epoch     time.Time
	now       func() time.Time

	mu     sync.Mutex
	pool   *workerpool.WorkerPool
	quit   chan struct{}
	exited chan struct{}
}

func NewBotUsecase(st store.Store, b *bus.Bus, personas PersonaUsecase, completer Completer, cfg BotConfig) BotUsecase {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &botUsecase{
		store:     st,
		bus:       b,
		personas:  personas,
		completer: completer,
		cfg:       cfg,
		epoch:     time.Now(),
		now:       time.Now,
	}
}

// Start subscribes to event inserts and handles each one on the worker
// pool, so a slow completion call never holds up the publisher.
func (uc *botUsecase) Start(ctx context.Context) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.pool != nil {
		return
	}
	events, unsubscribe := uc.bus.Subscribe(bus.ForCollection(models.CollectionEvent, bus.OpInsert))
	uc.pool = workerpool.New(uc.cfg.Workers)
	uc.quit = make(chan struct{})
	uc.exited = make(chan struct{})

	go uc.dispatch(ctx, events, unsubscribe, uc.pool, uc.quit, uc.exited)
	log.Infow(ctx, "Bot pipeline started", "workers", uc.cfg.Workers, "epoch", uc.epoch)
}

func (uc *botUsecase) dispatch(ctx context.Context, events <-chan bus.ChangeEvent, unsubscribe func(), pool *workerpool.WorkerPool, quit, exited chan struct{}) {
	defer close(exited)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case ev := <-events:
			pool.Submit(func() {
				uc.handle(ctx, ev.Document)
			})
		}
	}
}

// Stop stops taking new events and waits for running triggers.
func (uc *botUsecase) Stop() {
	uc.mu.Lock()
	pool, quit, exited := uc.pool, uc.quit, uc.exited
	uc.pool, uc.quit, uc.exited = nil, nil, nil
	uc.mu.Unlock()
	if pool == nil {
		return
	}
	close(quit)
	<-exited
	pool.StopWait()
}

func (uc *botUsecase) handle(ctx context.Context, doc models.Document) {
	ctx = logger.WithValues(ctx, "trace_id", doc.ID())
	defer func() {
		if r := recover(); r != nil {
			log.Errorw(ctx, "Recovered from panic in bot pipeline", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	if err := uc.HandleEvent(ctx, doc); err != nil {
		log.Errorw(ctx, "Failed to handle event", "event", doc.ID(), "error", err)
	}
}

// HandleEvent runs the pipeline for one inserted event. Skipped triggers
// return nil.
func (uc *botUsecase) HandleEvent(ctx context.Context, doc models.Document) error {
	event, err := store.Decode[models.Event](doc)
	if err != nil {
		return err
	}
	if event.CreatedAt < uc.epoch.UnixMilli() {
		log.Debugw(ctx, "Skipping event written before start", "event", event.ID)
		return nil
	}

	sender, err := uc.personas.GetPersona(ctx, event.Sender)
	if errors.Is(err, models.ErrNotFound) {
		log.Debugw(ctx, "Skipping event from unknown sender", "event", event.ID, "sender", event.Sender)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find sender %s: %w", event.Sender, err)
	}
	if !sender.IsUser() {
		return nil
	}

	bots, err := uc.personas.ResolveBotPersonas(ctx, event.Room)
	if err != nil {
		return fmt.Errorf("resolve bot personas: %w", err)
	}
	if len(bots) == 0 {
		log.Infow(ctx, "No bot persona available", "event", event.ID, "room", event.Room)
		return nil
	}
	bot := bots[0]

	history, err := uc.history(ctx, event)
	if err != nil {
		return err
	}

	messages := make([]models.CompletionMessage, 0, len(history)+2)
	messages = append(messages, models.CompletionMessage{Role: models.RoleSystem, Content: systemPrompt(bot)})
	messages = append(messages, history...)
	messages = append(messages, models.CompletionMessage{Role: models.RoleUser, Content: event.Content})

	req := models.CompletionRequest{
		Model:       bot.Model(),
		Temperature: uc.cfg.Temperature,
		Messages:    messages,
		TraceID:     event.ID,
	}
	log.Infow(ctx, "Requesting completion", "event", event.ID, "bot", bot.ID, "model", req.Model, "history", len(history))

	resp, err := uc.completer.Complete(ctx, req)
	if err == nil {
		if content, ok := resp.Content(); ok {
			return uc.reply(ctx, event, bot, content)
		}
		err = &models.CompletionError{Message: "malformed completion response: no choices"}
	}
	return uc.recordFailure(ctx, event, bot, err)
}

type historyEntry struct {
	id        string
	createdAt int64
	message   models.CompletionMessage
}

// history returns the latest messages of the room before the triggering
// one, oldest first.
func (uc *botUsecase) history(ctx context.Context, event *models.Event) ([]models.CompletionMessage, error) {
	events, err := store.FindAs[models.Event](ctx, uc.store, models.CollectionEvent, store.Query{
		Selector: map[string]any{"room": event.Room},
		Sort:     []store.SortField{{Field: "createdAt", Desc: true}},
		Limit:    uc.cfg.HistoryLimit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find history: %w", err)
	}

	roles := map[string]string{}
	entries := make([]historyEntry, 0, len(events))
	for _, e := range events {
		if e.ID == event.ID {
			continue
		}
		if len(entries) == uc.cfg.HistoryLimit {
			break
		}
		role, ok := roles[e.Sender]
		if !ok {
			role = models.RoleUser
			p, err := uc.personas.GetPersona(ctx, e.Sender)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("find persona %s: %w", e.Sender, err)
			}
			if p.IsBot() {
				role = models.RoleAssistant
			}
			roles[e.Sender] = role
		}
		entries = append(entries, historyEntry{
			id:        e.ID,
			createdAt: e.CreatedAt,
			message:   models.CompletionMessage{Role: role, Content: e.Content},
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].createdAt != entries[j].createdAt {
			return entries[i].createdAt < entries[j].createdAt
		}
		return entries[i].id < entries[j].id
	})
	return util.ConvertList(entries, func(e historyEntry) models.CompletionMessage {
		return e.message
	}), nil
}

func systemPrompt(bot *models.Persona) string {
	var parts []string
	for _, s := range []string{bot.CustomInstructionForContext, bot.CustomInstructionForResponses} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return DefaultSystemPrompt
	}
	return strings.Join(parts, "\n\n")
}

func (uc *botUsecase) reply(ctx context.Context, event *models.Event, bot *models.Persona, content string) error {
	now := uc.now().UnixMilli()
	doc, err := store.Encode(models.Event{
		ID:         uuid.NewString(),
		Content:    content,
		Type:       eventTypeMessage,
		Room:       event.Room,
		Sender:     bot.ID,
		CreatedAt:  now,
		ModifiedAt: now,
	})
	if err != nil {
		return err
	}
	if err := uc.store.Insert(ctx, models.CollectionEvent, doc); err != nil {
		return fmt.Errorf("insert reply: %w", err)
	}
	log.Infow(ctx, "Bot replied", "event", event.ID, "reply", doc.ID(), "bot", bot.ID)
	return nil
}

// recordFailure appends the error and the bot to the triggering event in a
// single update so concurrent appends are never lost.
func (uc *botUsecase) recordFailure(ctx context.Context, event *models.Event, bot *models.Persona, cause error) error {
	log.Warnw(ctx, "Completion failed", "event", event.ID, "bot", bot.ID, "error", cause)
	_, err := uc.store.Update(ctx, models.CollectionEvent, event.ID, store.Mutation{
		Set: map[string]any{models.FieldModifiedAt: uc.now().UnixMilli()},
		Push: map[string]any{
			fieldFailureMessages:          cause.Error(),
			fieldRetryablePersonaFailures: bot.ID,
		},
	})
	if err != nil {
		return fmt.Errorf("record failure on %s: %w", event.ID, err)
	}
	return nil
}
