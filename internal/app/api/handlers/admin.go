package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/ledger"
	"github.com/fatflowers/subledger/internal/app/service/statistics"
	models "github.com/fatflowers/subledger/internal/models"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/response"
	"github.com/fatflowers/subledger/pkg/types"
)

type AdminStore interface {
	ListSubscriptions(ctx context.Context, req *types.ListRequest) (*ledger.ListResult[models.Subscription], error)
	ListWebhookEvents(ctx context.Context, req *types.ListRequest) (*ledger.ListResult[models.WebhookEventLog], error)
}

type Resyncer interface {
	Resync(ctx context.Context, gatewaySubscriptionID string) (*models.Subscription, error)
}

type StatisticsComputer interface {
	Compute(ctx context.Context, req *statistics.Request) (*statistics.Response, error)
}

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscriptions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body types.ListRequest true "Filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/subscriptions/list [post]
func ApiAdminListSubscriptions(store AdminStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.FailEnvelope(c, bindError(err))
			return
		}
		res, err := store.ListSubscriptions(c.Request.Context(), &req)
		if err != nil {
			response.FailEnvelope(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List Webhook Events (Admin)
// @Description  Recorded deliveries with attempt count and last outcome. Filter on outcome=correlation_failed to find events that could not be matched.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body types.ListRequest true "Filters, pagination, and sorting"
// @Success      200  {object}  handlers.RespListWebhookEvents
// @Router       /api/v1/admin/webhook_events/list [post]
func ApiAdminListWebhookEvents(store AdminStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ListRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.FailEnvelope(c, bindError(err))
			return
		}
		res, err := store.ListWebhookEvents(c.Request.Context(), &req)
		if err != nil {
			response.FailEnvelope(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Resync Subscription (Admin)
// @Description  Re-fetches the subscription from the gateway and applies it through the reconciliation path.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        gateway_subscription_id path string true "Gateway subscription id"
// @Success      200  {object}  handlers.RespSubscription
// @Router       /api/v1/admin/subscriptions/{gateway_subscription_id}/resync [post]
func ApiAdminResync(r Resyncer, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("gateway_subscription_id"))
		if id == "" {
			response.FailEnvelope(c, apperr.Validation("missing gateway_subscription_id"))
			return
		}
		sub, err := r.Resync(c.Request.Context(), id)
		if err != nil {
			logctx.FromGin(c, base).Warnw("admin_resync_failed", "gateway_subscription_id", id, "error", err)
			response.FailEnvelope(c, err)
			return
		}
		logctx.FromGin(c, base).Infow("admin_resync", "gateway_subscription_id", id, "status", sub.Status)
		c.JSON(http.StatusOK, response.OKT(sub))
	}
}

// @Summary      Get Statistics (Admin)
// @Description  Computes daily payment, revenue and subscription figures plus webhook outcome counts.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body statistics.Request true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistics
// @Router       /api/v1/admin/statistics [post]
func ApiAdminStatistics(svc StatisticsComputer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			response.FailEnvelope(c, bindError(err))
			return
		}
		res, err := svc.Compute(c.Request.Context(), &req)
		if err != nil {
			response.FailEnvelope(c, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, store AdminStore, resync Resyncer, stats StatisticsComputer, log *zap.SugaredLogger) {
	r.POST("/subscriptions/list", ApiAdminListSubscriptions(store))
	r.POST("/subscriptions/:gateway_subscription_id/resync", ApiAdminResync(resync, log))
	r.POST("/webhook_events/list", ApiAdminListWebhookEvents(store))
	r.POST("/statistics", ApiAdminStatistics(stats))
}
