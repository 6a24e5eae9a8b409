package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
)

const (
	XRequestID     = "x-request-id"
	XCorrelationID = "x-correlation-id"
)

type requestIDKey struct{}

// RequestIDFromContext returns the id RequestID stored in ctx.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// GetRequestID returns the id of the request, falling back to the
// incoming headers before the middleware ran.
func GetRequestID(c echo.Context) string {
	if id := RequestIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	h := c.Request().Header
	if id := h.Get(XRequestID); id != "" {
		return id
	}
	return h.Get(XCorrelationID)
}

type RequestIDConfig struct {
	Skipper   Skipper
	Generator func() string
}

var DefaultRequestIDConfig = RequestIDConfig{
	Skipper:   skipNone,
	Generator: uuid.NewString,
}

func RequestID() echo.MiddlewareFunc {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig keeps the caller's request id or generates one, puts
// it on the request context and the log fields, and echoes it back.
func RequestIDWithConfig(conf RequestIDConfig) echo.MiddlewareFunc {
	if conf.Skipper == nil {
		conf.Skipper = DefaultRequestIDConfig.Skipper
	}
	if conf.Generator == nil {
		conf.Generator = DefaultRequestIDConfig.Generator
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if conf.Skipper(c) {
				return next(c)
			}
			id := GetRequestID(c)
			if id == "" {
				id = conf.Generator()
			}

			ctx := context.WithValue(c.Request().Context(), requestIDKey{}, id)
			ctx = logger.WithValues(ctx, "request_id", id)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(XRequestID, id)
			c.Response().Header().Set(XRequestID, id)
			return next(c)
		}
	}
}
