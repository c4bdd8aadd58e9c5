package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"github.com/fatflowers/subledger/pkg/types"
)

func rawEvent(t *testing.T, typ string, object any) stripe.Event {
	t.Helper()
	b, err := json.Marshal(object)
	require.NoError(t, err)
	return stripe.Event{
		ID:      "evt_1",
		Type:    stripe.EventType(typ),
		Created: 1_790_000_000,
		Data:    &stripe.EventData{Raw: b},
	}
}

func TestParseEvent_Invoice(t *testing.T) {
	obj := invoiceObject("in_1", "sub_123", 1250, "USD")
	obj["payment_settings"] = map[string]any{"payment_method_types": []string{"card", "sepa_debit"}}

	ev := ParseEvent(rawEvent(t, eventInvoicePaid, obj))
	in, ok := ev.(InvoicePaid)
	require.True(t, ok)
	require.Equal(t, "in_1", in.ObjectID())
	require.Equal(t, "sub_123", in.SubscriptionID)
	require.Equal(t, int64(1250), in.AmountPaid)
	require.Equal(t, "usd", in.Currency)
	require.Equal(t, "card", in.PaymentMethod)
	require.Equal(t, "pi_1", in.PaymentIntentID)
	require.True(t, in.PaidAt.Equal(periodStart.Add(time.Minute)))
}

func TestParseEvent_Subscription(t *testing.T) {
	ev := ParseEvent(rawEvent(t, eventSubscriptionCreated, subscriptionObject("sub_9", "incomplete_expired")))
	up, ok := ev.(SubscriptionUpdated)
	require.True(t, ok)
	require.Equal(t, "sub_9", up.ObjectID())
	require.Equal(t, types.SubscriptionStatusCanceled, up.Subscription.Status)
	require.Equal(t, "price_basic", up.Subscription.PriceID)
	require.Equal(t, "cus_1", up.Subscription.CustomerID)
	require.True(t, up.Subscription.AsOf.Equal(time.Unix(1_790_000_000, 0)))

	_, ok = ParseEvent(rawEvent(t, eventSubscriptionDeleted, subscriptionObject("sub_9", "canceled"))).(SubscriptionDeleted)
	require.True(t, ok)
}

func TestParseEvent_Classification(t *testing.T) {
	cases := map[string]struct {
		ev   stripe.Event
		want string
	}{
		"checkout":     {rawEvent(t, eventCheckoutSessionCompleted, checkoutObject("cus_1", "sub_1")), "CheckoutCompleted"},
		"unknown type": {rawEvent(t, "payout.paid", map[string]any{"id": "po_1"}), "Unknown"},
		"missing id":   {rawEvent(t, eventInvoicePaid, map[string]any{"object": "invoice"}), "Malformed"},
		"bad field":    {rawEvent(t, eventCheckoutSessionCompleted, map[string]any{"id": "cs_1", "mode": 7}), "Malformed"},
		"no data":      {stripe.Event{ID: "evt_2", Type: eventSubscriptionUpdated}, "Malformed"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got string
			switch ParseEvent(tc.ev).(type) {
			case CheckoutCompleted:
				got = "CheckoutCompleted"
			case Unknown:
				got = "Unknown"
			case Malformed:
				got = "Malformed"
			default:
				got = "other"
			}
			require.Equal(t, tc.want, got)
		})
	}
}
