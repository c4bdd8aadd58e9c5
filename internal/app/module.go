package app

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/api/server"
	"github.com/fatflowers/subledger/internal/app/service/checkout"
	"github.com/fatflowers/subledger/internal/app/service/eventlog"
	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/notifier"
	"github.com/fatflowers/subledger/internal/app/service/portal"
	"github.com/fatflowers/subledger/internal/app/service/reconcile"
	"github.com/fatflowers/subledger/internal/app/service/statistics"
	"github.com/fatflowers/subledger/internal/app/service/subscription"
	"github.com/fatflowers/subledger/internal/platform/db"
	"github.com/fatflowers/subledger/internal/platform/gateway"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	// covers the HTTP drain, the notifier workers and pending event log writes
	DefaultStopTimeout = 30 * time.Second
)

var Module = fx.Options(
	fx.WithLogger(func(l *zap.SugaredLogger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: l.Desugar()}
	}),
	logger.Module,
	config.Module,
	db.Module,
	gateway.Module,
	ledger.Module,
	eventlog.Module,
	notifier.Module,
	reconcile.Module,
	subscription.Module,
	statistics.Module,
	checkout.Module,
	portal.Module,
	server.Module,
)
