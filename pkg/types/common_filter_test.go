package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListRequest_Normalize(t *testing.T) {
	allowed := map[string]bool{"status": true, "created_at": true}

	req := &ListRequest{Size: 1000, From: -3}
	require.NoError(t, req.Normalize(allowed))
	require.Equal(t, 200, req.Size)
	require.Equal(t, 0, req.From)

	req = &ListRequest{Filters: []*CommonFilter{{Field: "status; DROP TABLE users", Operator: CommonFilterOperatorEq, Values: []any{"x"}}}}
	require.Error(t, req.Normalize(allowed))

	req = &ListRequest{Filters: []*CommonFilter{{Field: "created_at", Operator: CommonFilterOperatorRange, Values: []any{"2024-01-01"}}}}
	require.Error(t, req.Normalize(allowed))

	req = &ListRequest{SortBy: "email"}
	require.Error(t, req.Normalize(allowed))
}

func TestNormalizeSubscriptionStatus(t *testing.T) {
	require.Equal(t, SubscriptionStatusActive, NormalizeSubscriptionStatus("active"))
	require.Equal(t, SubscriptionStatusCanceled, NormalizeSubscriptionStatus("incomplete_expired"))
	require.Equal(t, SubscriptionStatusUnpaid, NormalizeSubscriptionStatus("paused"))
	require.Equal(t, SubscriptionStatusIncomplete, NormalizeSubscriptionStatus("something_new"))
	require.True(t, SubscriptionStatusCanceled.Terminal())
	require.False(t, SubscriptionStatusUnpaid.GrantsAccess())
}
