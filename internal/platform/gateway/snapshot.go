package gateway

import (
	"time"

	"github.com/stripe/stripe-go/v76"

	"github.com/fatflowers/subledger/pkg/types"
)

// SubscriptionSnapshot is the gateway-neutral view of a subscription at AsOf.
type SubscriptionSnapshot struct {
	ID                 string
	CustomerID         string
	Status             types.SubscriptionStatus
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	Metadata           map[string]string
	AsOf               time.Time
}

// SnapshotFromSubscription maps an SDK subscription observed at asOf.
func SnapshotFromSubscription(sub *stripe.Subscription, asOf time.Time) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	s := &SubscriptionSnapshot{
		ID:                 sub.ID,
		Status:             types.NormalizeSubscriptionStatus(string(sub.Status)),
		CurrentPeriodStart: unixPtr(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         unixPtr(sub.CanceledAt),
		Metadata:           sub.Metadata,
		AsOf:               asOf.UTC().Truncate(time.Microsecond),
	}
	if sub.Customer != nil {
		s.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil {
		for _, it := range sub.Items.Data {
			if it != nil && it.Price != nil && it.Price.ID != "" {
				s.PriceID = it.Price.ID
				break
			}
		}
	}
	return s
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
