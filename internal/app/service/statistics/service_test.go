package statistics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/internal/platform/db/dbtest"
	"github.com/fatflowers/subledger/pkg/types"
)

func TestCompute(t *testing.T) {
	db := dbtest.Open(t)
	paid := time.Date(2026, 9, 3, 10, 0, 0, 0, time.UTC)

	subs := []*models.Subscription{
		{ID: "0192f0c0-0000-7000-8000-00000000000a", UserID: 1, PackageID: 7, GatewaySubscriptionID: "sub_a", GatewayCustomerID: "cus_a", Status: types.SubscriptionStatusActive, StateAsOf: paid},
		{ID: "0192f0c0-0000-7000-8000-00000000000b", UserID: 2, PackageID: 7, GatewaySubscriptionID: "sub_b", GatewayCustomerID: "cus_b", Status: types.SubscriptionStatusActive, StateAsOf: paid},
		{ID: "0192f0c0-0000-7000-8000-00000000000c", UserID: 3, PackageID: 8, GatewaySubscriptionID: "sub_c", GatewayCustomerID: "cus_c", Status: types.SubscriptionStatusCanceled, StateAsOf: paid},
	}
	require.NoError(t, db.Create(subs).Error)
	for i, inv := range []string{"in_1", "in_2", "in_3"} {
		require.NoError(t, db.Create(&models.Payment{
			ID:               "0192f0c0-0000-7000-8000-00000000010" + string(rune('0'+i)),
			SubscriptionID:   subs[i].ID,
			UserID:           subs[i].UserID,
			GatewayInvoiceID: inv,
			Amount:           models.AmountFromMinor(1000, "eur"),
			Currency:         "eur",
			Status:           types.PaymentStatusSucceeded,
			PaidAt:           paid.Add(time.Duration(i) * 24 * time.Hour / 2),
		}).Error)
	}

	svc := New(db)
	res, err := svc.Compute(context.Background(), &Request{
		Filters: []*types.CommonFilter{
			{Field: "currency", Operator: types.CommonFilterOperatorEq, Values: []any{"eur"}},
			// not applicable to payments; dropped for those items
			{Field: "package_id", Operator: types.CommonFilterOperatorEq, Values: []any{7}},
		},
		DataItems: []*DataItem{
			{ID: StatisticTypeDailyPaymentCount},
			{ID: StatisticTypeDailyRevenue},
			{ID: StatisticTypeSubscriptionsByStatus},
		},
	})
	require.NoError(t, err)

	counts := res.DataItems[StatisticTypeDailyPaymentCount]
	require.Len(t, counts, 2)
	require.Equal(t, "2026-09-04", counts[0].Date)
	require.Equal(t, "1", counts[0].Value)
	require.Equal(t, "2", counts[1].Value)

	revenue := res.DataItems[StatisticTypeDailyRevenue]
	require.Len(t, revenue, 2)
	require.Equal(t, "eur", revenue[0].Label)

	byStatus := res.DataItems[StatisticTypeSubscriptionsByStatus]
	require.Equal(t, []ResponseDataItem{{Label: "active", Value: "2"}}, byStatus)

	_, err = svc.Compute(context.Background(), &Request{DataItems: []*DataItem{{ID: "nope"}}})
	require.Error(t, err)
}
