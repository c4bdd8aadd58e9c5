package subscription

import (
	"context"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/logctx"
	types "github.com/fatflowers/subledger/pkg/types"
)

type Store interface {
	EnsureUser(ctx context.Context, id int64, email string) (*models.User, error)
	SubscriptionsByUser(ctx context.Context, userID int64) ([]*models.Subscription, error)
	PackagesByIDs(ctx context.Context, ids []int64) (map[int64]*models.Package, error)
}

// Service answers read-side questions about a user's subscriptions. It never
// writes subscription state; that is the reconciler's job.
type Service struct {
	store Store
	log   *zap.SugaredLogger
}

func NewService(store Store, log *zap.SugaredLogger) *Service {
	return &Service{store: store, log: log}
}

// ListUserSubscriptions makes sure the local user exists and returns its
// subscriptions, access-granting ones first, then by period end descending.
func (s *Service) ListUserSubscriptions(ctx context.Context, userID int64, email, locale string) ([]*types.UserSubscriptionInfo, error) {
	if _, err := s.store.EnsureUser(ctx, userID, email); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	subs, err := s.store.SubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return []*types.UserSubscriptionInfo{}, nil
	}

	pkgIDs := lo.Uniq(lo.Map(subs, func(s *models.Subscription, _ int) int64 { return s.PackageID }))
	pkgs, err := s.store.PackagesByIDs(ctx, pkgIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get packages: %w", err)
	}

	out := lo.Map(subs, func(sub *models.Subscription, _ int) *types.UserSubscriptionInfo {
		info := &types.UserSubscriptionInfo{
			GatewaySubscriptionID: sub.GatewaySubscriptionID,
			PackageID:             sub.PackageID,
			Status:                string(sub.Status),
			CurrentPeriodStart:    sub.CurrentPeriodStart,
			CurrentPeriodEnd:      sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:     sub.CancelAtPeriodEnd,
		}
		if pkg, ok := pkgs[sub.PackageID]; ok {
			info.PackageName = pkg.LocalizedName(locale)
		} else {
			logctx.FromCtx(ctx, s.log).Warnw("subscription references missing package", "package_id", sub.PackageID)
		}
		return info
	})
	slices.SortStableFunc(out, compareInfo)
	return out, nil
}

func compareInfo(a, b *types.UserSubscriptionInfo) int {
	ga := types.SubscriptionStatus(a.Status).GrantsAccess()
	gb := types.SubscriptionStatus(b.Status).GrantsAccess()
	if ga != gb {
		if ga {
			return -1
		}
		return 1
	}
	switch {
	case a.CurrentPeriodEnd == nil && b.CurrentPeriodEnd == nil:
		return 0
	case a.CurrentPeriodEnd == nil:
		return 1
	case b.CurrentPeriodEnd == nil:
		return -1
	}
	return b.CurrentPeriodEnd.Compare(*a.CurrentPeriodEnd)
}
