package middleware

import (
	"reflect"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/chat-replica/pkg/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	httpRequestsDuration = "http_request_duration_seconds"
	notFoundPath         = "/not-found"
)

type MetricsConfig struct {
	Skipper Skipper
	// MetricsPath serves the prometheus registry; empty disables it.
	MetricsPath string
}

var DefaultMetricsConfig = MetricsConfig{
	Skipper:     skipNone,
	MetricsPath: "/metrics",
}

func Metrics() echo.MiddlewareFunc {
	return MetricsWithConfig(DefaultMetricsConfig)
}

// MetricsWithConfig records the latency of every request by status code,
// method and route. Unmatched routes share one path label.
func MetricsWithConfig(conf MetricsConfig) echo.MiddlewareFunc {
	if conf.Skipper == nil {
		conf.Skipper = skipNone
	}
	duration, err := util.GetHistogramVec(httpRequestsDuration, "code", "method", "path")
	if err != nil {
		panic(err)
	}
	promHandler := echo.WrapHandler(promhttp.Handler())

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if conf.MetricsPath != "" && c.Request().URL.Path == conf.MetricsPath {
				return promHandler(c)
			}
			if conf.Skipper(c) {
				return next(c)
			}

			path := c.Path()
			if isNotFoundHandler(c.Handler()) {
				path = notFoundPath
			}

			start := time.Now()
			err := next(c)
			if err != nil {
				// resolve the status before observing it
				c.Error(err)
			}
			duration.WithLabelValues(strconv.Itoa(c.Response().Status), c.Request().Method, path).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func isNotFoundHandler(handler echo.HandlerFunc) bool {
	return reflect.ValueOf(handler).Pointer() == reflect.ValueOf(echo.NotFoundHandler).Pointer()
}
