// Package ledger is the only writer of subscriptions and payments. Every
// mutation lives on *Tx, so it can only run inside a transaction the caller
// opened with Store.InTx.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/logctx"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("ledger: record not found")

type Store struct {
	db        *gorm.DB
	txTimeout time.Duration
	log       *zap.SugaredLogger
}

func NewStore(cfg *config.Config, db *gorm.DB, log *zap.SugaredLogger) *Store {
	var timeout time.Duration
	if cfg != nil {
		timeout = cfg.Database.TxTimeout
	}
	return &Store{db: db, txTimeout: timeout, log: log}
}

// InTx runs fn in one database transaction bounded by the configured
// timeout. fn's error, a failed commit or an expired deadline rolls back
// everything fn wrote. Errors already classified by apperr pass through;
// anything else is reported as transient so the caller can retry.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &Tx{db: gtx})
	})
	if err == nil {
		return nil
	}
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return err
	}
	logctx.FromCtx(ctx, s.log).Warnw("ledger_tx_rolled_back", "err", err)
	return apperr.Transient(err, "ledger transaction rolled back")
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return first[models.User](s.db.WithContext(ctx).Where("id = ?", id))
}

// EnsureUser creates the local user on first authenticated visit. An
// existing row is returned unchanged apart from filling a missing email.
func (s *Store) EnsureUser(ctx context.Context, id int64, email string) (*models.User, error) {
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&models.User{ID: id, Email: email}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	u, err := first[models.User](db.Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if u.Email == "" && email != "" {
		if err := db.Model(u).Update("email", email).Error; err != nil {
			return nil, fmt.Errorf("failed to update user email: %w", err)
		}
	}
	return u, nil
}

func (s *Store) ActivePackageByPriceID(ctx context.Context, priceID string) (*models.Package, error) {
	return first[models.Package](s.db.WithContext(ctx).Where("gateway_price_id = ? AND active = ?", priceID, true))
}

func (s *Store) PackagesByIDs(ctx context.Context, ids []int64) (map[int64]*models.Package, error) {
	out := make(map[int64]*models.Package, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []*models.Package
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	for _, p := range rows {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Store) SubscriptionsByUser(ctx context.Context, userID int64) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list user subscriptions: %w", err)
	}
	return rows, nil
}

// StaleSubscriptions returns non-canceled subscriptions whose current period
// ended before the cutoff, oldest first.
func (s *Store) StaleSubscriptions(ctx context.Context, before time.Time, limit int) ([]*models.Subscription, error) {
	var rows []*models.Subscription
	err := s.db.WithContext(ctx).
		Where("status <> ? AND current_period_end IS NOT NULL AND current_period_end < ?", "canceled", before.UTC()).
		Order("current_period_end ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale subscriptions: %w", err)
	}
	return rows, nil
}

func first[T any](q *gorm.DB) (*T, error) {
	var row T
	if err := q.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}
