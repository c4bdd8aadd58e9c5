package models

import (
	"time"

	"github.com/fatflowers/subledger/pkg/types"
)

// Subscription mirrors one gateway subscription. Rows are upserted by
// GatewaySubscriptionID and never deleted; cancellation is a status.
type Subscription struct {
	ID                    string                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID                int64                    `gorm:"column:user_id;not null;index:idx_subscriptions_user_id" json:"user_id"`
	PackageID             int64                    `gorm:"column:package_id;not null" json:"package_id"`
	GatewaySubscriptionID string                   `gorm:"column:gateway_subscription_id;type:varchar(128);not null;uniqueIndex:uq_subscriptions_gateway_subscription_id" json:"gateway_subscription_id"`
	GatewayCustomerID     string                   `gorm:"column:gateway_customer_id;type:varchar(128);not null" json:"gateway_customer_id"`
	Status                types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscriptions_status_period_end,priority:1" json:"status"`
	CurrentPeriodStart    *time.Time               `gorm:"column:current_period_start" json:"current_period_start"`
	CurrentPeriodEnd      *time.Time               `gorm:"column:current_period_end;index:idx_subscriptions_status_period_end,priority:2" json:"current_period_end"`
	CancelAtPeriodEnd     bool                     `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CanceledAt            *time.Time               `gorm:"column:canceled_at" json:"canceled_at"`
	// StateAsOf is when the gateway state applied to this row was observed.
	// Older snapshots never overwrite newer ones.
	StateAsOf time.Time `gorm:"column:state_as_of;not null" json:"state_as_of"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionMutableColumns are the columns an upsert may overwrite.
var SubscriptionMutableColumns = []string{
	"package_id",
	"gateway_customer_id",
	"status",
	"current_period_start",
	"current_period_end",
	"cancel_at_period_end",
	"canceled_at",
	"state_as_of",
	"updated_at",
}
