package app

import (
	"context"

	"github.com/nguyentranbao-ct/chat-replica/internal/config"
	"github.com/nguyentranbao-ct/chat-replica/internal/server"
	"github.com/nguyentranbao-ct/chat-replica/internal/usecase"
	"github.com/nguyentranbao-ct/chat-replica/pkg/logger"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded", log.Reflect("config", conf))
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newBus,
			newStore,
			newElector,
			newTransport,
			newCompleter,
			newManager,

			newPersonaUsecase,
			newBotUsecase,
			newSyncUsecase,

			server.NewHandler,
		),
		fx.Supply(conf),
		fx.Invoke(StartBotPipeline),
		fx.Invoke(funcs...),
	)
}

// StartBotPipeline answers user messages for as long as the app runs.
func StartBotPipeline(lc fx.Lifecycle, conf *config.Config, bot usecase.BotUsecase) {
	if !conf.Bot.Enabled {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			bot.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			bot.Stop()
			return nil
		},
	})
}
