package subscription

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
)

func provide(store *ledger.Store, log *zap.SugaredLogger) *Service {
	return NewService(store, log)
}

// Module exposes the subscription service via Fx.
var Module = fx.Options(
	fx.Provide(provide),
)
