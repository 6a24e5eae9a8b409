package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyentranbao-ct/chat-replica/internal/config"
	pkgmdw "github.com/nguyentranbao-ct/chat-replica/internal/server/middleware"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger/log"
	"go.uber.org/fx"
)

func NewEcho(conf *config.Config, handler Controller) *echo.Echo {
	httpLogger := logger.MustNamed("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(httpLogger)

	logConfig := pkgmdw.LogRequestConfig{
		Logger: httpLogger,
		Enabled: func(c echo.Context) bool {
			uri := c.Request().RequestURI
			return uri != "/health" && uri != "/metrics"
		},
	}

	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))
	if conf.Server.CORSOriginPattern != "" {
		e.Use(pkgmdw.CORS(regexp.MustCompile(conf.Server.CORSOriginPattern)))
	}
	if conf.Server.PprofEnabled {
		pkgmdw.Pprof(e)
	}

	e.GET("/health", handler.Health)

	api := e.Group("/api/v1")
	api.GET("/collections", pkgmdw.WrapHandler(handler.ListCollections))
	api.POST("/collections", pkgmdw.WrapHandler(handler.CreateCollections))
	api.POST("/collections/:name/changes", pkgmdw.WrapHandler(handler.EnqueueChanges))
	api.GET("/collections/:name/checkpoint", pkgmdw.WrapHandler(handler.GetCheckpoint))
	api.POST("/sync/finished", pkgmdw.WrapAction(handler.FinishedSyncing))

	return e
}

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	handler Controller,
) {
	e := NewEcho(conf, handler)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(context.Background(), "starting HTTP server", "addr", conf.Server.Addr)
				if err := e.Start(conf.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
					log.Errorw(context.Background(), "HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
