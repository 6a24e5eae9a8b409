package logger_test

import (
	"context"
	"testing"

	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetRoot(zap.New(core))

	ctx := logger.WithValues(context.Background(), "request_id", "req-1")
	ctx = logger.WithValues(ctx, "collection", "event")
	log.Infow(ctx, "pulled batch", "count", 2)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pulled batch", entries[0].Message)

	fields := entries[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "event", fields["collection"])
	assert.EqualValues(t, 2, fields["count"])
}

func TestFromContextWithoutValues(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger.SetRoot(zap.New(core))

	log.Warnf(context.Background(), "queue depth %d", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "queue depth 3", entries[0].Message)
	assert.Empty(t, entries[0].ContextMap())
}
