package redislock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when REDIS_URL is set.
func TestElector(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	key := "test-" + uuid.NewString()
	a := NewElector(client, "a", time.Second)
	b := NewElector(client, "b", time.Second)

	ok, err := a.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, key))
	require.NoError(t, a.Release(ctx, key))

	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, key))
}
