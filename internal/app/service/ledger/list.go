package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/types"
)

// SubscriptionListFields are the columns admin listings may filter or sort on.
var SubscriptionListFields = map[string]bool{
	"user_id":                 true,
	"package_id":              true,
	"gateway_subscription_id": true,
	"gateway_customer_id":     true,
	"status":                  true,
	"current_period_end":      true,
	"cancel_at_period_end":    true,
	"created_at":              true,
	"updated_at":              true,
}

// WebhookEventListFields are the columns admin listings may filter or sort on.
var WebhookEventListFields = map[string]bool{
	"event_id":   true,
	"event_type": true,
	"object_id":  true,
	"outcome":    true,
	"event_time": true,
	"created_at": true,
	"updated_at": true,
}

type ListResult[T any] struct {
	Items []*T  `json:"items"`
	Total int64 `json:"total"`
}

// ListSubscriptions implements paginated admin listing with filters.
func (s *Store) ListSubscriptions(ctx context.Context, req *types.ListRequest) (*ListResult[models.Subscription], error) {
	return list[models.Subscription](ctx, s, req, SubscriptionListFields)
}

// ListWebhookEvents lists recorded deliveries, e.g. outcome=correlation_failed.
func (s *Store) ListWebhookEvents(ctx context.Context, req *types.ListRequest) (*ListResult[models.WebhookEventLog], error) {
	return list[models.WebhookEventLog](ctx, s, req, WebhookEventListFields)
}

func list[T any](ctx context.Context, s *Store, req *types.ListRequest, allowed map[string]bool) (*ListResult[T], error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if err := req.Normalize(allowed); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(new(T))
	if len(req.Filters) > 0 {
		q = q.Where(clause.Where{Exprs: []clause.Expression{types.FiltersAnd(req.Filters)}})
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	q = q.Limit(req.Size)
	if req.From > 0 {
		q = q.Offset(req.From)
	}
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})

	var rows []*T
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	return &ListResult[T]{Items: rows, Total: total}, nil
}
