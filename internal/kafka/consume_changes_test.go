package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/config"
	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSync struct {
	known    map[string]bool
	enqueued map[string][]models.Document
}

func (f *fakeSync) CreateCollectionsFromCanonical(context.Context, map[string]models.Schema) error {
	return nil
}

func (f *fakeSync) EnqueueCanonicalChanges(_ context.Context, collection string, changes []models.Document) error {
	if !f.known[collection] {
		return fmt.Errorf("enqueue %s: %w", collection, models.ErrUnknownCollection)
	}
	f.enqueued[collection] = append(f.enqueued[collection], changes...)
	return nil
}

func (f *fakeSync) FinishedSyncingDocsFromCanonical(context.Context) error {
	return nil
}

func (f *fakeSync) CheckpointStatus(string) (models.ReplicationStatus, error) {
	return models.ReplicationStatus{}, nil
}

func (f *fakeSync) Status() []models.ReplicationStatus {
	return nil
}

func TestCanonicalChangesHandler(t *testing.T) {
	sync := &fakeSync{known: map[string]bool{"event": true}, enqueued: map[string][]models.Document{}}
	handler := NewCanonicalChangesHandler(sync, time.Second)

	t.Run("enqueues changes", func(t *testing.T) {
		err := handler(t.Context(), kafka.Message{Value: []byte(`{"collectionName":"event","changes":[{"id":"e1","modifiedAt":10},{"id":"e2","modifiedAt":11}]}`)})
		require.NoError(t, err)
		require.Len(t, sync.enqueued["event"], 2)
		assert.Equal(t, "e1", sync.enqueued["event"][0].ID())
		assert.Equal(t, int64(11), sync.enqueued["event"][1].ModifiedAt())
	})

	t.Run("empty changes are ignored", func(t *testing.T) {
		err := handler(t.Context(), kafka.Message{Value: []byte(`{"collectionName":"persona","changes":[]}`)})
		assert.NoError(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		err := handler(t.Context(), kafka.Message{Value: []byte(`{`)})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("missing collection name", func(t *testing.T) {
		err := handler(t.Context(), kafka.Message{Value: []byte(`{"changes":[{"id":"x"}]}`)})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("unknown collection is retried", func(t *testing.T) {
		err := handler(t.Context(), kafka.Message{Value: []byte(`{"collectionName":"room","changes":[{"id":"r1"}]}`)})
		after, ok := retryAfter(err)
		require.True(t, ok)
		assert.Equal(t, time.Second, after)
		assert.ErrorIs(t, err, models.ErrUnknownCollection)
	})
}

func TestDisabledConsumerIsNoop(t *testing.T) {
	c, err := NewCanonicalChangesConsumer(&config.Config{}, &fakeSync{})
	require.NoError(t, err)
	assert.IsType(t, &noopConsumer{}, c)
	assert.NoError(t, c.Start(t.Context()))
	assert.NoError(t, c.Stop(t.Context()))
}

type scriptedConsumer struct {
	err     error
	started chan struct{}
	stopped atomic.Bool
}

func (c *scriptedConsumer) Start(ctx context.Context) error {
	close(c.started)
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return nil
}

func (c *scriptedConsumer) Stop(context.Context) error {
	c.stopped.Store(true)
	return nil
}

func TestChangeFeedRestartsFailedConsumer(t *testing.T) {
	consumers := []*scriptedConsumer{
		{err: errors.New("broker unreachable"), started: make(chan struct{})},
		{started: make(chan struct{})},
	}
	var built atomic.Int32
	feed := &changeFeed{
		newConsumer: func() (Consumer, error) {
			n := built.Add(1)
			if n == 1 {
				return nil, errors.New("dial failed")
			}
			return consumers[n-2], nil
		},
		retryDelay: 5 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(t.Context())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		feed.run(ctx)
	}()

	select {
	case <-consumers[1].started:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement consumer never started")
	}
	assert.True(t, consumers[0].stopped.Load(), "a failed consumer is stopped before it is replaced")
	assert.False(t, consumers[1].stopped.Load())

	cancel()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not exit after cancel")
	}
	assert.True(t, consumers[1].stopped.Load())
	assert.EqualValues(t, 3, built.Load())
}
