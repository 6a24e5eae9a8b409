package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultConsumeTimeout = 30 * time.Second

// Handler processes one record. Returning a *RetryError makes the consumer
// wait and hand the same record over again.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	ReadMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

type consumerOptions struct {
	readerConf     kafka.ReaderConfig
	numWorkers     int
	consumeTimeout time.Duration
	handler        Handler
}

type kafkaConsumer struct {
	reader         reader
	metrics        *prometheus.HistogramVec
	numWorkers     int
	consumeTimeout time.Duration
	handler        Handler
	done           chan struct{}
	stopOnce       sync.Once
	running        sync.WaitGroup
	workerPool     *workerpool.WorkerPool
}

func newConsumer(opts consumerOptions) (*kafkaConsumer, error) {
	return newConsumerWithReader(kafka.NewReader(opts.readerConf), opts)
}

func newConsumerWithReader(r reader, opts consumerOptions) (*kafkaConsumer, error) {
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "status", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	if opts.numWorkers <= 0 {
		opts.numWorkers = 1
	}
	if opts.consumeTimeout <= 0 {
		opts.consumeTimeout = defaultConsumeTimeout
	}

	c := &kafkaConsumer{
		reader:         r,
		metrics:        metrics,
		numWorkers:     opts.numWorkers,
		consumeTimeout: opts.consumeTimeout,
		handler:        opts.handler,
		done:           make(chan struct{}),
	}
	if c.numWorkers > 1 {
		c.workerPool = workerpool.New(c.numWorkers)
	}
	return c, nil
}

// Start blocks until ctx is done or Stop is called.
func (c *kafkaConsumer) Start(ctx context.Context) error {
	c.running.Add(1)
	defer c.running.Done()

	log.Infof(ctx, "Starting Kafka consumer for topic: %s", c.reader.Config().Topic)
	if c.numWorkers == 1 {
		return c.startSingleWorker(ctx)
	}
	return c.startMultiWorker(ctx)
}

func (c *kafkaConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		log.Infof(ctx, "Stopping Kafka consumer")
		close(c.done)
		err = c.reader.Close()
		c.running.Wait()
		if c.workerPool != nil {
			c.workerPool.StopWait()
		}
	})
	return err
}

func (c *kafkaConsumer) stopped(ctx context.Context, err error) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)
}

// startSingleWorker commits each record only after it was handled, so
// records are applied in partition order.
func (c *kafkaConsumer) startSingleWorker(ctx context.Context) error {
	groupID := c.reader.Config().GroupID
	for ctx.Err() == nil {
		select {
		case <-c.done:
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if c.stopped(ctx, err) {
				return nil
			}
			log.Errorw(ctx, "Error fetching message", "error", err)
			continue
		}

		if !c.process(ctx, msg, groupID) {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Errorw(ctx, "Failed to commit message", "error", err)
		}
	}
	return nil
}

func (c *kafkaConsumer) startMultiWorker(ctx context.Context) error {
	groupID := c.reader.Config().GroupID
	for ctx.Err() == nil {
		select {
		case <-c.done:
			return nil
		default:
		}

		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if c.stopped(ctx, err) {
				return nil
			}
			log.Errorw(ctx, "Error reading message", "error", err)
			continue
		}

		c.workerPool.Submit(func() {
			c.process(ctx, msg, groupID)
		})
	}
	return nil
}

// process handles msg until it succeeds or fails for good. It returns false
// when the consumer stopped while waiting to retry.
func (c *kafkaConsumer) process(ctx context.Context, msg kafka.Message, groupID string) bool {
	for {
		err := c.processMessage(ctx, msg, groupID)
		after, ok := retryAfter(err)
		if !ok {
			return true
		}
		timer := time.NewTimer(after)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-c.done:
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *kafkaConsumer) processMessage(ctx context.Context, msg kafka.Message, groupID string) error {
	start := time.Now()
	lagMs := start.Sub(msg.Time).Milliseconds()

	duration, err := c.handle(ctx, msg)

	code := getCode(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}

	level := getLogLevel(code)
	log.Logw(ctx, level, content,
		"code", code,
		"duration_ms", duration.Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"lag_ms", lagMs,
		"key", string(msg.Key),
		"value", json.RawMessage(msg.Value),
	)

	c.metrics.
		WithLabelValues(code.String(), msg.Topic, groupID).
		Observe(duration.Seconds())
	return err
}

func (c *kafkaConsumer) handle(msgCtx context.Context, msg kafka.Message) (duration time.Duration, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PANIC RECOVER: %+v / %s", r, debug.Stack())
		}
		duration = time.Since(start)
	}()

	ctx, cancel := context.WithTimeout(msgCtx, c.consumeTimeout)
	defer cancel()

	return 0, c.handler(ctx, msg)
}

func getCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if _, ok := retryAfter(err); ok {
		return codes.Unavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

// noopConsumer is used when Kafka is disabled
type noopConsumer struct{}

func (n *noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "Kafka consumer is disabled")
	return nil
}

func (n *noopConsumer) Stop(ctx context.Context) error {
	return nil
}

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.InfoLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.Unimplemented,
		codes.OutOfRange,
		codes.Unavailable:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}
