package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/chat-replica/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	t.Parallel()

	t.Run("fans out to matching subscribers", func(t *testing.T) {
		b := New(4)
		events, unsubEvents := b.Subscribe(ForCollection("event", OpInsert))
		defer unsubEvents()
		all, unsubAll := b.Subscribe(nil)
		defer unsubAll()

		ctx := t.Context()
		require.NoError(t, b.Publish(ctx, ChangeEvent{Collection: "persona", Operation: OpInsert}))
		require.NoError(t, b.Publish(ctx, ChangeEvent{
			Collection: "event",
			Operation:  OpInsert,
			Document:   models.Document{"id": "e1"},
		}))

		got := <-events
		assert.Equal(t, "e1", got.Document.ID())
		assert.Len(t, all, 2)
		assert.Len(t, events, 0)
	})

	t.Run("full subscriber blocks until context ends", func(t *testing.T) {
		b := New(1)
		_, unsub := b.Subscribe(nil)
		defer unsub()

		require.NoError(t, b.Publish(t.Context(), ChangeEvent{Collection: "event"}))

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := b.Publish(ctx, ChangeEvent{Collection: "event"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unsubscribe releases a blocked publisher", func(t *testing.T) {
		b := New(1)
		_, unsub := b.Subscribe(nil)
		require.NoError(t, b.Publish(t.Context(), ChangeEvent{Collection: "event"}))

		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Publish(context.Background(), ChangeEvent{Collection: "event"})
		}()
		time.Sleep(10 * time.Millisecond)
		unsub()

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("publisher still blocked after unsubscribe")
		}
	})

	t.Run("closed bus rejects publishes", func(t *testing.T) {
		b := New(1)
		b.Close()
		assert.ErrorIs(t, b.Publish(t.Context(), ChangeEvent{}), ErrClosed)
	})
}
