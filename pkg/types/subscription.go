package types

import "time"

// SubscriptionStatus mirrors the gateway subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// NormalizeSubscriptionStatus folds gateway statuses outside the local set
// onto the closest local status.
func NormalizeSubscriptionStatus(s string) SubscriptionStatus {
	switch SubscriptionStatus(s) {
	case SubscriptionStatusIncomplete, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCanceled, SubscriptionStatusUnpaid:
		return SubscriptionStatus(s)
	case "incomplete_expired":
		return SubscriptionStatusCanceled
	case "paused":
		return SubscriptionStatusUnpaid
	}
	return SubscriptionStatusIncomplete
}

// Terminal reports whether no further lifecycle events are expected.
func (s SubscriptionStatus) Terminal() bool { return s == SubscriptionStatusCanceled }

// GrantsAccess reports whether the subscriber should currently have access.
func (s SubscriptionStatus) GrantsAccess() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing || s == SubscriptionStatusPastDue
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCheckout    SubscriptionChangeReason = "checkout_completed"
	SubscriptionChangeReasonInvoicePaid SubscriptionChangeReason = "invoice_paid"
	SubscriptionChangeReasonUpdated     SubscriptionChangeReason = "subscription_updated"
	SubscriptionChangeReasonDeleted     SubscriptionChangeReason = "subscription_deleted"
	SubscriptionChangeReasonResync      SubscriptionChangeReason = "resync"
)

// UserSubscriptionInfo is the user-facing view of one subscription.
type UserSubscriptionInfo struct {
	GatewaySubscriptionID string     `json:"gateway_subscription_id"`
	PackageID             int64      `json:"package_id"`
	PackageName           string     `json:"package_name"`
	Status                string     `json:"status"`
	CurrentPeriodStart    *time.Time `json:"current_period_start"`
	CurrentPeriodEnd      *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd     bool       `json:"cancel_at_period_end"`
}
