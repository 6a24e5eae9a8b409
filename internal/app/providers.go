package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nguyentranbao-ct/chat-replica/internal/bus"
	"github.com/nguyentranbao-ct/chat-replica/internal/config"
	"github.com/nguyentranbao-ct/chat-replica/internal/replication"
	"github.com/nguyentranbao-ct/chat-replica/internal/repo/completion"
	"github.com/nguyentranbao-ct/chat-replica/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/chat-replica/internal/repo/redislock"
	"github.com/nguyentranbao-ct/chat-replica/internal/repo/transport"
	"github.com/nguyentranbao-ct/chat-replica/internal/store"
	"github.com/nguyentranbao-ct/chat-replica/internal/usecase"
	"go.uber.org/fx"
)

const connectTimeout = 10 * time.Second

func newBus(lc fx.Lifecycle, cfg *config.Config) *bus.Bus {
	b := bus.New(cfg.EventBus.Buffer)
	lc.Append(fx.StopHook(b.Close))
	return b
}

func newStore(lc fx.Lifecycle, cfg *config.Config, b *bus.Bus) (store.Store, error) {
	if cfg.Database.Driver != "mongo" {
		return store.NewMemory(b), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	db, err := mongodb.NewConnection(ctx, cfg.Database.URI, cfg.Database.Database)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}

	s := mongodb.NewDocumentStore(db, b)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return err
			}
			return s.LoadCollections(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return db.Close(ctx)
		},
	})
	return s, nil
}

func newElector(lc fx.Lifecycle, cfg *config.Config) (replication.Elector, error) {
	if cfg.Replication.Leader != "redis" {
		return replication.NewLocalElection().Elector(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	client, err := redislock.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("init redis client: %w", err)
	}
	lc.Append(fx.StopHook(client.Close))

	holder := cfg.Replication.InstanceID
	if holder == "" {
		holder = uuid.NewString()
	}
	return redislock.NewElector(client, holder, cfg.Replication.LeaseTTL), nil
}

func newTransport(lc fx.Lifecycle, cfg *config.Config) (replication.Transport, error) {
	switch cfg.Transport.Kind {
	case "kafka":
		producer, err := transport.NewKafkaProducer(cfg.Transport.KafkaBrokers)
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		t := transport.NewKafka(producer, cfg.Transport.KafkaTopic)
		lc.Append(fx.StopHook(t.Close))
		return t, nil
	case "http":
		return transport.NewHTTP(cfg.Transport.HTTPURL, cfg.Transport.HTTPTimeout), nil
	default:
		return transport.NewLog(), nil
	}
}

func newCompleter(cfg *config.Config) usecase.Completer {
	if cfg.Bot.Provider == "genkit" {
		return completion.NewGenkit(context.Background(), cfg.Bot.GoogleAIAPIKey, cfg.Bot.GenkitModel)
	}
	return completion.NewOpenAI(cfg.Bot.CompletionURL, cfg.Bot.APIKey, cfg.Bot.Timeout)
}

func newManager(lc fx.Lifecycle, cfg *config.Config, st store.Store, b *bus.Bus, t replication.Transport, el replication.Elector) (*replication.Manager, error) {
	conflict, err := replication.ConflictHandlerFor(cfg.Replication.ConflictPolicy)
	if err != nil {
		return nil, err
	}
	m := replication.NewManager(replication.ManagerParams{
		Store:     st,
		Bus:       b,
		Transport: t,
		Elector:   el,
		Options: replication.Options{
			PushBatchSize: cfg.Replication.PushBatchSize,
			PullBatchSize: cfg.Replication.PullBatchSize,
			RetryTime:     cfg.Replication.RetryTime,
			PollInterval:  cfg.Replication.PollInterval,
			QueueCapacity: cfg.Replication.QueueCapacity,
			LeaseRenewal:  cfg.Replication.LeaseTTL / 3,
			Conflict:      conflict,
		},
	})
	lc.Append(fx.StopHook(m.Stop))
	return m, nil
}

func newPersonaUsecase(cfg *config.Config, st store.Store) usecase.PersonaUsecase {
	return usecase.NewPersonaUsecase(st, cfg.Bot.ExtensionID)
}

func newBotUsecase(cfg *config.Config, st store.Store, b *bus.Bus, personas usecase.PersonaUsecase, completer usecase.Completer) usecase.BotUsecase {
	return usecase.NewBotUsecase(st, b, personas, completer, usecase.BotConfig{
		Temperature:  cfg.Bot.Temperature,
		HistoryLimit: cfg.Bot.HistoryLimit,
		Workers:      cfg.Bot.Workers,
	})
}

func newSyncUsecase(cfg *config.Config, st store.Store, m *replication.Manager, personas usecase.PersonaUsecase) usecase.SyncUsecase {
	return usecase.NewSyncUsecase(st, m, personas, cfg.Replication.DeletedField)
}
