package reconcile

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/eventlog"
	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/notifier"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/config"
)

func provideProcessor(gw *gateway.Client, store *ledger.Store, recorder *eventlog.Service, notify notifier.Enqueuer, log *zap.SugaredLogger) *Processor {
	return NewProcessor(gw, store, recorder, notify, log)
}

func provideSweep(cfg *config.Config, p *Processor, store *ledger.Store, log *zap.SugaredLogger) *Sweep {
	return NewSweep(cfg, store, p, log)
}

func registerDrain(lc fx.Lifecycle, p *Processor) {
	lc.Append(fx.StopHook(p.Wait))
}

func registerSweep(lc fx.Lifecycle, s *Sweep) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return s.Start() },
		OnStop:  s.Stop,
	})
}

var Module = fx.Options(
	fx.Provide(provideProcessor, provideSweep),
	fx.Invoke(registerDrain, registerSweep),
)
