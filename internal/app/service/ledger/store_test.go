package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/db/dbtest"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/types"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	cfg := &config.Config{Database: config.DBConfig{TxTimeout: 2 * time.Second}}
	return NewStore(cfg, db, zap.NewNop().Sugar()), db
}

func seed(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&models.User{ID: 42, Email: "u42@example.com", GatewayCustomerID: lo.ToPtr("cus_1")}).Error)
	require.NoError(t, db.Create(&models.Package{
		ID:             7,
		Name:           datatypes.NewJSONType(map[string]string{"en": "Basic"}),
		MonthlyPrice:   models.AmountFromMinor(3990, "eur"),
		Currency:       "eur",
		GatewayPriceID: "price_basic",
		Active:         true,
	}).Error)
}

func subAt(asOf time.Time, status types.SubscriptionStatus) *models.Subscription {
	return &models.Subscription{
		UserID:                42,
		PackageID:             7,
		GatewaySubscriptionID: "sub_123",
		GatewayCustomerID:     "cus_1",
		Status:                status,
		StateAsOf:             asOf.UTC(),
	}
}

func TestUpsertSubscription_InsertsOnceAndUpdatesInPlace(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour)

	var firstID string
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		stored, applied, err := tx.UpsertSubscription(subAt(t0, types.SubscriptionStatusIncomplete))
		require.True(t, applied)
		firstID = stored.ID
		return err
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		stored, applied, err := tx.UpsertSubscription(subAt(t0.Add(time.Minute), types.SubscriptionStatusActive))
		require.True(t, applied)
		require.Equal(t, firstID, stored.ID)
		require.Equal(t, types.SubscriptionStatusActive, stored.Status)
		return err
	}))

	require.Equal(t, int64(1), dbtest.Count(t, db, &models.Subscription{}, "gateway_subscription_id = ?", "sub_123"))
}

func TestUpsertSubscription_OlderSnapshotDoesNotOverwrite(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()
	t0 := time.Now()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, _, err := tx.UpsertSubscription(subAt(t0, types.SubscriptionStatusActive))
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		stored, applied, err := tx.UpsertSubscription(subAt(t0.Add(-time.Hour), types.SubscriptionStatusIncomplete))
		require.False(t, applied)
		require.Equal(t, types.SubscriptionStatusActive, stored.Status)
		return err
	}))
}

func TestInsertPayment_DuplicateInvoiceIsNoop(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()

	insert := func() bool {
		var inserted bool
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
			sub, _, err := tx.UpsertSubscription(subAt(time.Now(), types.SubscriptionStatusActive))
			if err != nil {
				return err
			}
			inserted, err = tx.InsertPayment(&models.Payment{
				SubscriptionID:   sub.ID,
				UserID:           42,
				GatewayInvoiceID: "in_999",
				Amount:           models.AmountFromMinor(3990, "eur"),
				Currency:         "eur",
				Status:           types.PaymentStatusSucceeded,
				PaidAt:           time.Now().UTC(),
			})
			return err
		}))
		return inserted
	}

	require.True(t, insert())
	require.False(t, insert())
	require.False(t, insert())
	require.Equal(t, int64(1), dbtest.Count(t, db, &models.Payment{}, "gateway_invoice_id = ?", "in_999"))

	var p models.Payment
	require.NoError(t, db.First(&p).Error)
	require.Equal(t, "39.90", p.Amount.StringFixed(2))
}

func TestInTx_RollsBackAndClassifiesErrors(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		if _, _, err := tx.UpsertSubscription(subAt(time.Now(), types.SubscriptionStatusActive)); err != nil {
			return err
		}
		return errors.New("disk on fire")
	})
	require.Error(t, err)
	require.True(t, apperr.IsKind(err, apperr.KindTransient))
	require.Equal(t, int64(0), dbtest.Count(t, db, &models.Subscription{}, ""))

	err = s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		return apperr.Correlation("no user for customer %s", "cus_x")
	})
	require.True(t, apperr.IsKind(err, apperr.KindCorrelation))
}

func TestMarkSubscriptionCanceled_KeepsRow(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, _, err := tx.UpsertSubscription(subAt(now, types.SubscriptionStatusActive))
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		// an older deletion still cancels
		sub, err := tx.MarkSubscriptionCanceled("sub_123", now, now.Add(-time.Hour))
		require.NoError(t, err)
		require.Equal(t, types.SubscriptionStatusCanceled, sub.Status)
		require.NotNil(t, sub.CanceledAt)
		return nil
	}))
	require.Equal(t, int64(1), dbtest.Count(t, db, &models.Subscription{}, "gateway_subscription_id = ?", "sub_123"))

	err := s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		_, err := tx.MarkSubscriptionCanceled("sub_missing", now, now)
		return err
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLinkCustomer_OnlyWhenUnset(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	require.NoError(t, db.Create(&models.User{ID: 43}).Error)

	require.NoError(t, s.InTx(context.Background(), func(ctx context.Context, tx *Tx) error {
		linked, err := tx.LinkCustomer(43, "cus_43")
		require.NoError(t, err)
		require.True(t, linked)

		linked, err = tx.LinkCustomer(42, "cus_other")
		require.NoError(t, err)
		require.False(t, linked)
		return nil
	}))

	u, err := s.UserByID(context.Background(), 43)
	require.NoError(t, err)
	require.Equal(t, "cus_43", u.CustomerID())
}

func TestEnsureUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	u, err := s.EnsureUser(ctx, 100, "")
	require.NoError(t, err)
	require.Equal(t, int64(100), u.ID)

	u, err = s.EnsureUser(ctx, 100, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "a@example.com", u.Email)
	require.Nil(t, u.GatewayCustomerID)
}

func TestStaleSubscriptionsAndList(t *testing.T) {
	s, db := newTestStore(t)
	seed(t, db)
	ctx := context.Background()
	past := time.Now().Add(-48 * time.Hour).UTC()

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx *Tx) error {
		sub := subAt(time.Now(), types.SubscriptionStatusActive)
		sub.CurrentPeriodEnd = &past
		_, _, err := tx.UpsertSubscription(sub)
		return err
	}))

	stale, err := s.StaleSubscriptions(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	res, err := s.ListSubscriptions(ctx, &types.ListRequest{Filters: []*types.CommonFilter{
		{Field: "status", Operator: types.CommonFilterOperatorEq, Values: []any{"active"}},
	}})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Total)
	require.Equal(t, "sub_123", res.Items[0].GatewaySubscriptionID)

	_, err = s.ListSubscriptions(ctx, &types.ListRequest{SortBy: "id; --"})
	require.Error(t, err)
}
