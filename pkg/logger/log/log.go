// Package log exposes context aware logging helpers.
package log

import (
	"context"

	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
)

func Debugw(ctx context.Context, msg string, keysAndValues ...any) {
	logger.FromContext(ctx).Debugw(msg, keysAndValues...)
}

func Infow(ctx context.Context, msg string, keysAndValues ...any) {
	logger.FromContext(ctx).Infow(msg, keysAndValues...)
}

func Warnw(ctx context.Context, msg string, keysAndValues ...any) {
	logger.FromContext(ctx).Warnw(msg, keysAndValues...)
}

func Errorw(ctx context.Context, msg string, keysAndValues ...any) {
	logger.FromContext(ctx).Errorw(msg, keysAndValues...)
}

func Logw(ctx context.Context, level logger.Level, msg string, keysAndValues ...any) {
	logger.FromContext(ctx).Logw(level, msg, keysAndValues...)
}

func Debugf(ctx context.Context, template string, args ...any) {
	logger.FromContext(ctx).Debugf(template, args...)
}

func Infof(ctx context.Context, template string, args ...any) {
	logger.FromContext(ctx).Infof(template, args...)
}

func Warnf(ctx context.Context, template string, args ...any) {
	logger.FromContext(ctx).Warnf(template, args...)
}

func Errorf(ctx context.Context, template string, args ...any) {
	logger.FromContext(ctx).Errorf(template, args...)
}
