package ledger

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/tool"
	"github.com/fatflowers/subledger/pkg/types"
)

// Tx is a ledger view bound to an open transaction.
type Tx struct {
	db *gorm.DB
}

func (t *Tx) UserByID(id int64) (*models.User, error) {
	return first[models.User](t.db.Where("id = ?", id))
}

func (t *Tx) UserByGatewayCustomerID(customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	return first[models.User](t.db.Where("gateway_customer_id = ?", customerID))
}

// PackageByPriceID resolves any package, active or not: a subscription to a
// retired plan still has to be mirrored.
func (t *Tx) PackageByPriceID(priceID string) (*models.Package, error) {
	if priceID == "" {
		return nil, ErrNotFound
	}
	return first[models.Package](t.db.Where("gateway_price_id = ?", priceID))
}

// SubscriptionByGatewayID loads and row-locks the subscription.
func (t *Tx) SubscriptionByGatewayID(gatewayID string) (*models.Subscription, error) {
	return first[models.Subscription](
		t.db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_subscription_id = ?", gatewayID),
	)
}

// LinkCustomer sets the user's gateway customer id if none is linked yet.
func (t *Tx) LinkCustomer(userID int64, customerID string) (bool, error) {
	res := t.db.Model(&models.User{}).
		Where("id = ? AND gateway_customer_id IS NULL", userID).
		Updates(map[string]any{"gateway_customer_id": customerID, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to link customer: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// UpsertSubscription inserts sub or updates the row with the same gateway
// subscription id. The update is skipped when the stored state was observed
// later than sub.StateAsOf. It returns the stored row and whether sub was
// applied.
func (t *Tx) UpsertSubscription(sub *models.Subscription) (*models.Subscription, bool, error) {
	if sub.GatewaySubscriptionID == "" {
		return nil, false, fmt.Errorf("upsert subscription: empty gateway subscription id")
	}
	now := time.Now().UTC()
	row := *sub
	if row.ID == "" {
		row.ID = tool.GenerateUUIDV7()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now
	if row.StateAsOf.IsZero() {
		row.StateAsOf = now
	}

	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_subscription_id"}},
		DoUpdates: clause.AssignmentColumns(models.SubscriptionMutableColumns),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "subscriptions.state_as_of <= excluded.state_as_of"},
		}},
	}).Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to upsert subscription: %w", res.Error)
	}

	stored, err := first[models.Subscription](t.db.Where("gateway_subscription_id = ?", sub.GatewaySubscriptionID))
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload subscription: %w", err)
	}
	return stored, res.RowsAffected > 0, nil
}

// MarkSubscriptionCanceled transitions the row to canceled. Cancellation is
// terminal, so it applies regardless of how old asOf is.
func (t *Tx) MarkSubscriptionCanceled(gatewayID string, canceledAt, asOf time.Time) (*models.Subscription, error) {
	sub, err := t.SubscriptionByGatewayID(gatewayID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"status":     types.SubscriptionStatusCanceled,
		"updated_at": time.Now().UTC(),
	}
	if sub.CanceledAt == nil {
		updates["canceled_at"] = canceledAt.UTC()
	}
	if asOf.After(sub.StateAsOf) {
		updates["state_as_of"] = asOf.UTC()
	}
	if err := t.db.Model(&models.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return first[models.Subscription](t.db.Where("id = ?", sub.ID))
}

// InsertPayment appends p unless a payment for the same gateway invoice id
// already exists. The unique index is the only duplicate check.
func (t *Tx) InsertPayment(p *models.Payment) (bool, error) {
	if p.GatewayInvoiceID == "" {
		return false, fmt.Errorf("insert payment: empty gateway invoice id")
	}
	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "gateway_invoice_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert payment: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AppendSubscriptionLog writes an audit row inside the transaction.
func (t *Tx) AppendSubscriptionLog(before, after *models.Subscription, reason types.SubscriptionChangeReason, eventID string, extra map[string]any) error {
	ref := after
	if ref == nil {
		ref = before
	}
	if ref == nil {
		return nil
	}
	log := &models.SubscriptionLog{
		ID:                    tool.GenerateUUIDV7(),
		GatewaySubscriptionID: ref.GatewaySubscriptionID,
		UserID:                ref.UserID,
		Reason:                reason,
		EventID:               eventID,
		Before:                datatypes.NewJSONType(before),
		After:                 datatypes.NewJSONType(after),
		Extra:                 datatypes.JSONMap(extra),
	}
	if err := t.db.Create(log).Error; err != nil {
		return fmt.Errorf("failed to append subscription log: %w", err)
	}
	return nil
}
