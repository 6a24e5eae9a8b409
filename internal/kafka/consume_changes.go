package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nguyentranbao-ct/chat-replica/internal/config"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/internal/usecase"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewCanonicalChangesHandler enqueues every {collectionName, changes} record
// exactly like a host call to EnqueueCanonicalChanges. Records for a
// collection that is not created yet are retried after retryDelay.
func NewCanonicalChangesHandler(sync usecase.SyncUsecase, retryDelay time.Duration) Handler {
	validate := validator.New()
	return func(ctx context.Context, msg kafka.Message) error {
		var record models.CanonicalChanges
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			return status.Errorf(codes.InvalidArgument, "unmarshal canonical changes: %v", err)
		}
		if err := validate.Struct(record); err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid canonical changes: %v", err)
		}
		if len(record.Changes) == 0 {
			return nil
		}

		ctx = logger.WithValues(ctx, "collection", record.CollectionName)
		err := sync.EnqueueCanonicalChanges(ctx, record.CollectionName, record.Changes)
		if errors.Is(err, models.ErrUnknownCollection) {
			return Retry(err, retryDelay)
		}
		return err
	}
}

func NewCanonicalChangesConsumer(cfg *config.Config, sync usecase.SyncUsecase) (Consumer, error) {
	if !cfg.Kafka.Enabled {
		return &noopConsumer{}, nil
	}
	return newConsumer(consumerOptions{
		readerConf: kafka.ReaderConfig{
			Brokers:     cfg.Kafka.Brokers,
			GroupID:     cfg.Kafka.GroupID,
			Topic:       cfg.Kafka.Topic,
			StartOffset: kafka.FirstOffset,
		},
		numWorkers:     cfg.Kafka.Workers,
		consumeTimeout: cfg.Kafka.ConsumeTimeout,
		handler:        NewCanonicalChangesHandler(sync, cfg.Kafka.RetryDelay),
	})
}

// StartConsumeCanonicalChanges runs the canonical change feed for the life
// of the application. A consumer that fails is replaced after RetryDelay.
func StartConsumeCanonicalChanges(lc fx.Lifecycle, cfg *config.Config, sync usecase.SyncUsecase) error {
	if !cfg.Kafka.Enabled {
		log.Warnf(context.Background(), "Kafka consumer is disabled in configuration")
		return nil
	}
	feed := &changeFeed{
		newConsumer: func() (Consumer, error) { return NewCanonicalChangesConsumer(cfg, sync) },
		retryDelay:  cfg.Kafka.RetryDelay,
	}

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(exited)
				feed.run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-exited:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
	return nil
}

// changeFeed keeps one consumer running until ctx ends, building a fresh
// one whenever the previous consumer fails.
type changeFeed struct {
	newConsumer func() (Consumer, error)
	retryDelay  time.Duration
}

func (f *changeFeed) run(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		err := f.consume(ctx)
		if ctx.Err() != nil || err == nil {
			return
		}
		log.Errorw(ctx, "Kafka consumer failed, restarting", "attempt", attempt, "retry_delay", f.retryDelay, "error", err)

		timer := time.NewTimer(f.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (f *changeFeed) consume(ctx context.Context) error {
	consumer, err := f.newConsumer()
	if err != nil {
		return fmt.Errorf("new canonical changes consumer: %w", err)
	}
	err = consumer.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if stopErr := consumer.Stop(stopCtx); stopErr != nil {
		log.Warnw(ctx, "Failed to stop Kafka consumer", "error", stopErr)
	}
	return err
}
