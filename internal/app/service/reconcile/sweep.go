package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/metrics"
	"github.com/fatflowers/subledger/pkg/tool"
)

type StaleLister interface {
	StaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]*models.Subscription, error)
}

type Resyncer interface {
	Resync(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error)
}

// Sweep periodically re-fetches subscriptions whose period ended a while ago
// without a renewal or cancellation reaching the ledger.
type Sweep struct {
	store   StaleLister
	resync  Resyncer
	spec    string
	grace   time.Duration
	batch   int
	timeout time.Duration
	log     *zap.SugaredLogger

	cron *cron.Cron
}

func NewSweep(cfg *config.Config, store StaleLister, resync Resyncer, log *zap.SugaredLogger) *Sweep {
	rc := cfg.Reconcile
	batch := rc.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	return &Sweep{
		store:   store,
		resync:  resync,
		spec:    rc.SweepSpec,
		grace:   rc.SweepGrace,
		batch:   batch,
		timeout: 10 * time.Minute,
		log:     log.Named("sweep"),
	}
}

// RunOnce resyncs one batch and reports how many subscriptions were applied.
// A failing subscription is logged and skipped.
func (s *Sweep) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer metrics.ObserveBusinessProcess("sweep", "run", start)

	cutoff := time.Now().UTC().Add(-s.grace)
	subs, err := s.store.StaleSubscriptions(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale subscriptions: %w", err)
	}
	ok := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			return ok, ctx.Err()
		}
		if _, err := s.resync.Resync(ctx, sub.GatewaySubscriptionID); err != nil {
			s.log.Warnw("resync failed", "gateway_subscription_id", sub.GatewaySubscriptionID, "err", err)
			continue
		}
		ok++
	}
	if len(subs) > 0 {
		s.log.Infow("sweep finished", "candidates", len(subs), "resynced", ok, "elapsed", time.Since(start))
	}
	return ok, nil
}

func (s *Sweep) Start() error {
	if s.spec == "" {
		s.log.Infow("drift sweep disabled")
		return nil
	}
	c := cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(s.log.Desugar()))))
	_, err := c.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		ctx = logctx.WithTraceID(ctx, tool.GenerateUUIDV7())
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Errorw("drift sweep failed", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile.sweep_spec %q: %w", s.spec, err)
	}
	s.cron = c
	c.Start()
	s.log.Infow("drift sweep scheduled", "spec", s.spec, "grace", s.grace)
	return nil
}

// Stop waits for a running sweep until ctx expires.
func (s *Sweep) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
