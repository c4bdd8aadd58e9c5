package statistics

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/types"
)

type StatisticType string

const (
	StatisticTypeDailyPaymentCount     StatisticType = "daily_payment_count"
	StatisticTypeDailyRevenue          StatisticType = "daily_revenue"
	StatisticTypeDailyNewSubscriptions StatisticType = "daily_new_subscriptions"
	StatisticTypeSubscriptionsByStatus StatisticType = "subscriptions_by_status"
	StatisticTypeWebhookOutcomesByType StatisticType = "webhook_outcomes_by_type"
)

// filterable lists, per statistic, the columns a request filter may target.
var filterable = map[StatisticType]map[string]bool{
	StatisticTypeDailyPaymentCount:     {"currency": true, "payment_method": true, "user_id": true, "paid_at": true},
	StatisticTypeDailyRevenue:          {"currency": true, "payment_method": true, "user_id": true, "paid_at": true},
	StatisticTypeDailyNewSubscriptions: {"package_id": true, "status": true, "created_at": true},
	StatisticTypeSubscriptionsByStatus: {"package_id": true},
	StatisticTypeWebhookOutcomesByType: {"event_type": true, "created_at": true},
}

type DataItem struct {
	ID StatisticType `json:"id"`
}

type Request struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*DataItem           `json:"data_items" binding:"required,min=1,dive"`
}

// filtersFor keeps the filters that apply to statisticType. Filters on other
// columns are dropped rather than rejected, so one request can mix statistics
// over different tables.
func (r *Request) filtersFor(statisticType StatisticType) types.FiltersAnd {
	allowed := filterable[statisticType]
	return lo.Filter(r.Filters, func(f *types.CommonFilter, _ int) bool {
		return f != nil && allowed[f.Field] && f.Validate(allowed) == nil
	})
}

type ResponseDataItem struct {
	Date  string `json:"date,omitempty"`
	Label string `json:"label,omitempty"`
	// Value is a count, or an amount in major units for revenue.
	Value string `json:"value"`
}

type Response struct {
	DataItems map[StatisticType][]ResponseDataItem `json:"data_items"`
}

// Service computes operator dashboards over the ledger.
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

// day renders a timestamp column as YYYY-MM-DD in the connected dialect.
func (s *Service) day(column string) string {
	if s.db.Dialector.Name() == "sqlite" {
		return fmt.Sprintf("strftime('%%Y-%%m-%%d', %s)", column)
	}
	return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", column)
}

func where(f types.FiltersAnd) clause.Where {
	return clause.Where{Exprs: []clause.Expression{f}}
}

func (s *Service) dailyPaymentCount(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var rows []ResponseDataItem
	day := s.day("paid_at")
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select(day + " AS date, CAST(COUNT(*) AS TEXT) AS value").
		Where(where(req.filtersFor(StatisticTypeDailyPaymentCount))).
		Group(day).
		Order("date DESC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) dailyRevenue(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var rows []ResponseDataItem
	day := s.day("paid_at")
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Select(day + " AS date, currency AS label, CAST(SUM(amount) AS TEXT) AS value").
		Where(where(req.filtersFor(StatisticTypeDailyRevenue))).
		Group(day).
		Group("currency").
		Order("date DESC").
		Order("label ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) dailyNewSubscriptions(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var rows []ResponseDataItem
	day := s.day("created_at")
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select(day + " AS date, CAST(COUNT(*) AS TEXT) AS value").
		Where(where(req.filtersFor(StatisticTypeDailyNewSubscriptions))).
		Group(day).
		Order("date DESC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) subscriptionsByStatus(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var rows []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("status AS label, CAST(COUNT(*) AS TEXT) AS value").
		Where(where(req.filtersFor(StatisticTypeSubscriptionsByStatus))).
		Group("status").
		Order("label ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) webhookOutcomesByType(ctx context.Context, req *Request) ([]ResponseDataItem, error) {
	var rows []ResponseDataItem
	err := s.db.WithContext(ctx).Model(&models.WebhookEventLog{}).
		Select("event_type || ':' || outcome AS label, CAST(COUNT(*) AS TEXT) AS value").
		Where(where(req.filtersFor(StatisticTypeWebhookOutcomesByType))).
		Group("event_type").
		Group("outcome").
		Order("label ASC").
		Find(&rows).Error
	return rows, err
}

func (s *Service) statistic(ctx context.Context, req *Request, item *DataItem) ([]ResponseDataItem, error) {
	switch item.ID {
	case StatisticTypeDailyPaymentCount:
		return s.dailyPaymentCount(ctx, req)
	case StatisticTypeDailyRevenue:
		return s.dailyRevenue(ctx, req)
	case StatisticTypeDailyNewSubscriptions:
		return s.dailyNewSubscriptions(ctx, req)
	case StatisticTypeSubscriptionsByStatus:
		return s.subscriptionsByStatus(ctx, req)
	case StatisticTypeWebhookOutcomesByType:
		return s.webhookOutcomesByType(ctx, req)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", item.ID)
	}
}

// Compute evaluates every requested data item concurrently.
func (s *Service) Compute(ctx context.Context, req *Request) (*Response, error) {
	for _, item := range req.DataItems {
		if _, ok := filterable[item.ID]; !ok {
			return nil, fmt.Errorf("invalid data item id: %s", item.ID)
		}
	}

	var wg sync.WaitGroup
	errChan := make(chan error, len(req.DataItems))
	resChan := make(chan lo.Entry[StatisticType, []ResponseDataItem], len(req.DataItems))

	for _, item := range req.DataItems {
		wg.Add(1)
		go func(di *DataItem) {
			defer wg.Done()
			res, err := s.statistic(ctx, req, di)
			if err != nil {
				errChan <- fmt.Errorf("%s: %w", di.ID, err)
				return
			}
			resChan <- lo.Entry[StatisticType, []ResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}
	wg.Wait()
	close(errChan)
	close(resChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	results := make(map[StatisticType][]ResponseDataItem, len(req.DataItems))
	for entry := range resChan {
		results[entry.Key] = entry.Value
	}
	return &Response{DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
