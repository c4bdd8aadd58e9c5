package models

import (
	"time"

	"github.com/fatflowers/subledger/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionLog records changes to subscriptions.
// Use case: audit and troubleshooting. Written in the same transaction as the change.
type SubscriptionLog struct {
	ID                    string                         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	GatewaySubscriptionID string                         `gorm:"column:gateway_subscription_id;type:varchar(128);not null;index:idx_subscription_log_gateway_id" json:"gateway_subscription_id"`
	UserID                int64                          `gorm:"column:user_id;not null" json:"user_id"`
	Reason                types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// EventID is the gateway event that caused the change, empty for resyncs.
	EventID string `gorm:"column:event_id;type:varchar(128)" json:"event_id"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb" json:"before"`
	// After stores subscription data after the change in JSON format.
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb" json:"after"`
	Extra     datatypes.JSONMap                 `gorm:"column:extra;type:jsonb" json:"extra"`
	CreatedAt time.Time                         `json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
