package main

import (
	"net/http"
	"os"
	"time"

	"github.com/fiffu/listingwatch/app"
	"github.com/fiffu/listingwatch/config"
	"github.com/fiffu/listingwatch/lib"
	"github.com/fiffu/listingwatch/lib/fetcher"
	"github.com/fiffu/listingwatch/lib/monitor"
	"github.com/fiffu/listingwatch/lib/store"
	"github.com/fiffu/listingwatch/senders"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	switch os.Getenv("ENVIRONMENT") {
	default:
		return zap.NewDevelopment()

	case "production":
		logCfg := zap.NewProductionConfig()
		logCfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			t = t.UTC()
			zapcore.ISO8601TimeEncoder(t, enc)
		}
		return logCfg.Build()
	}
}

func main() {
	fx.New(
		fx.Provide(config.NewConfig),
		fx.Provide(NewLogger),

		fx.Provide(app.NewDatabase),
		fx.Provide(app.NewTransport),
		fx.Provide(app.NewMetricsRegistry),
		fx.Provide(app.NewMonitorMetrics),
		fx.Provide(fx.Annotate(app.NewStore, fx.As(new(store.Repository)))),

		fx.Provide(senders.NewTelegram),
		fx.Provide(senders.NewSenderRegistry),
		fx.Provide(func(r senders.Registry) monitor.Notifier { return r }),

		fx.Provide(fx.Annotate(fetcher.NewFactory, fx.As(new(monitor.FetcherFactory)))),
		fx.Provide(fx.Annotate(monitor.NewEngine, fx.As(new(lib.WatchController)))),
		fx.Provide(lib.NewService),
		fx.Provide(app.NewAPI),
		fx.Provide(app.NewTelegramPoller),

		fx.Invoke(func(*http.Server, *app.TelegramPoller) {}),
	).Run()
}
