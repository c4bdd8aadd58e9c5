package eventlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/tool"
)

// saveTimeout bounds one background write; the request that produced the
// entry has already been answered.
const saveTimeout = 5 * time.Second

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	wg  sync.WaitGroup
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Record asynchronously upserts the delivery log keyed by event id, bumping
// the attempt counter on redelivery. Nil input is ignored.
func (s *Service) Record(ctx context.Context, entry *models.WebhookEventLog) {
	if entry == nil || entry.EventID == "" {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(logctx.Detach(ctx), saveTimeout)
		defer cancel()
		if err := s.save(ctx, entry); err != nil {
			logctx.FromCtx(ctx, s.log).Errorw("failed to save webhook event log", "event_id", entry.EventID, "err", err)
		}
	}()
}

func (s *Service) save(ctx context.Context, entry *models.WebhookEventLog) error {
	if entry.ID == "" {
		entry.ID = tool.GenerateUUIDV7()
	}
	if entry.Attempts == 0 {
		entry.Attempts = 1
	}
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "event_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"outcome":    entry.Outcome,
			"last_error": entry.LastError,
			"trace_id":   entry.TraceID,
			"attempts":   gorm.Expr("webhook_event_log.attempts + 1"),
			"updated_at": now,
		}),
	}).Create(entry).Error
}

// Wait blocks until pending writes finish.
func (s *Service) Wait() { s.wg.Wait() }

func registerDrain(lc fx.Lifecycle, s *Service) {
	lc.Append(fx.StopHook(s.Wait))
}

var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(registerDrain),
)
