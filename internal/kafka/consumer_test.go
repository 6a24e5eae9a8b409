package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeReader struct {
	msgs      chan kafka.Message
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{
		msgs:   make(chan kafka.Message, len(msgs)),
		closed: make(chan struct{}),
	}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.closed:
		return kafka.Message{}, io.EOF
	case m := <-r.msgs:
		return m, nil
	}
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m, err := r.FetchMessage(ctx)
	if err == nil {
		_ = r.CommitMessages(ctx, m)
	}
	return m, err
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig {
	return kafka.ReaderConfig{Topic: "canonical-changes", GroupID: "test"}
}

func (r *fakeReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func messages(n int) []kafka.Message {
	out := make([]kafka.Message, n)
	for i := range out {
		out[i] = kafka.Message{Topic: "canonical-changes", Offset: int64(i), Time: time.Now()}
	}
	return out
}

func runConsumer(t *testing.T, c *kafkaConsumer) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Start(t.Context()) }()
	t.Cleanup(func() {
		require.NoError(t, c.Stop(context.Background()))
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("consumer did not exit")
		}
	})
	return errCh
}

func TestSingleWorkerHandlesInOrderAndCommits(t *testing.T) {
	r := newFakeReader(messages(3)...)
	var (
		mu      sync.Mutex
		handled []int64
	)
	c, err := newConsumerWithReader(r, consumerOptions{
		numWorkers: 1,
		handler: func(_ context.Context, msg kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			handled = append(handled, msg.Offset)
			return nil
		},
	})
	require.NoError(t, err)
	runConsumer(t, c)

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{0, 1, 2}, handled)
	assert.Equal(t, []int64{0, 1, 2}, r.commits())
}

func TestRetryableErrorRedeliversBeforeCommit(t *testing.T) {
	r := newFakeReader(messages(1)...)
	var attempts int
	c, err := newConsumerWithReader(r, consumerOptions{
		numWorkers: 1,
		handler: func(context.Context, kafka.Message) error {
			attempts++
			if attempts < 3 {
				return Retry(errors.New("not ready"), 5*time.Millisecond)
			}
			return nil
		},
	})
	require.NoError(t, err)
	runConsumer(t, c)

	require.Eventually(t, func() bool { return len(r.commits()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, attempts)
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	r := newFakeReader(messages(2)...)
	c, err := newConsumerWithReader(r, consumerOptions{
		numWorkers: 1,
		handler: func(_ context.Context, msg kafka.Message) error {
			if msg.Offset == 0 {
				panic("boom")
			}
			return nil
		},
	})
	require.NoError(t, err)
	runConsumer(t, c)

	require.Eventually(t, func() bool { return len(r.commits()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestMultiWorkerHandlesAll(t *testing.T) {
	r := newFakeReader(messages(10)...)
	var (
		mu    sync.Mutex
		count int
	)
	c, err := newConsumerWithReader(r, consumerOptions{
		numWorkers: 3,
		handler: func(context.Context, kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			count++
			return nil
		},
	})
	require.NoError(t, err)
	runConsumer(t, c)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 10
	}, time.Second, 5*time.Millisecond)
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"status", status.Error(codes.InvalidArgument, "bad"), codes.InvalidArgument},
		{"wrapped status", fmt.Errorf("enqueue: %w", models.ErrUnknownCollection), codes.NotFound},
		{"retry", Retry(errors.New("later"), time.Second), codes.Unavailable},
		{"plain", errors.New("plain"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getCode(tt.err))
		})
	}
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, logger.InfoLevel, getLogLevel(codes.OK))
	assert.Equal(t, logger.WarnLevel, getLogLevel(codes.InvalidArgument))
	assert.Equal(t, logger.WarnLevel, getLogLevel(codes.Unavailable))
	assert.Equal(t, logger.ErrorLevel, getLogLevel(codes.Internal))
	assert.Equal(t, logger.ErrorLevel, getLogLevel(codes.Unknown))
}
