package notifier

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/pkg/config"
)

type params struct {
	fx.In

	Config *config.Config
	Store  *ledger.Store
	Logger *zap.SugaredLogger
}

type result struct {
	fx.Out

	Enqueuer Enqueuer
	Worker   *Worker
	Queue    *Queue
}

// provide wires the Redis queue and its workers. Without a Redis address
// notifications are disabled and Worker and Queue are nil.
func provide(p params) result {
	if p.Config.Redis.Addr == "" {
		p.Logger.Warnw("redis.addr is empty; customer notifications are disabled")
		return result{Enqueuer: Noop{}}
	}
	log := p.Logger.Named("notifier")
	q := NewQueue(NewRedisClient(p.Config.Redis), p.Config.Notifier.QueueKey, log)

	var sender Sender = LogSender{log: log}
	if nc := p.Config.Notifier; nc.SendGridAPIKey != "" {
		sender = NewSendGridSender(nc.SendGridAPIKey, nc.FromName, nc.FromEmail)
	}
	w := NewWorker(q, sender, p.Store, p.Config.Notifier.Workers, log)
	return result{Enqueuer: q, Worker: w, Queue: q}
}

func registerLifecycle(lc fx.Lifecycle, w *Worker, q *Queue, log *zap.SugaredLogger) {
	if w == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := q.Ping(ctx); err != nil {
				// the ledger keeps working without notifications
				log.Warnw("redis ping failed", "err", err)
			}
			w.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := w.Stop(ctx)
			if cerr := q.Close(); cerr != nil && err == nil {
				err = cerr
			}
			return err
		},
	})
}

var Module = fx.Options(
	fx.Provide(provide),
	fx.Invoke(registerLifecycle),
)
