package models

import (
	"time"

	"github.com/fatflowers/subledger/pkg/types"
	"gorm.io/datatypes"
)

// WebhookEventLog is the delivery audit trail, one row per gateway event id.
// It is never consulted to decide whether an event is applied.
type WebhookEventLog struct {
	ID         string                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ProviderID types.PaymentProvider `gorm:"column:provider_id;type:varchar(32);not null" json:"provider_id"`
	EventID    string                `gorm:"column:event_id;type:varchar(128);not null;uniqueIndex:uq_webhook_event_log_event_id" json:"event_id"`
	EventType  string                `gorm:"column:event_type;type:varchar(128);not null" json:"event_type"`
	TraceID    string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	ObjectID   string                `gorm:"column:object_id;type:varchar(128)" json:"object_id"`
	EventTime  time.Time             `gorm:"column:event_time" json:"event_time"`
	Data       datatypes.JSON        `gorm:"column:data;type:jsonb" json:"data"`
	Outcome    types.WebhookOutcome  `gorm:"column:outcome;type:varchar(32);not null;index:idx_webhook_event_log_outcome" json:"outcome"`
	LastError  *string               `gorm:"column:last_error;type:text" json:"last_error"`
	Attempts   int                   `gorm:"column:attempts;not null;default:1" json:"attempts"`
	CreatedAt  time.Time             `json:"created_at"`
	UpdatedAt  time.Time             `json:"updated_at"`
}

func (WebhookEventLog) TableName() string { return "webhook_event_log" }

// All returns every model, in dependency order.
func All() []any {
	return []any{
		&User{},
		&Package{},
		&Subscription{},
		&Payment{},
		&SubscriptionLog{},
		&WebhookEventLog{},
	}
}
