package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	mw "github.com/fatflowers/subledger/internal/app/api/middleware"
	"github.com/fatflowers/subledger/internal/app/service/checkout"
	"github.com/fatflowers/subledger/internal/app/service/portal"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/response"
	"github.com/fatflowers/subledger/pkg/types"
)

type CheckoutCreator interface {
	Create(ctx context.Context, userID int64, req checkout.Request) (string, error)
}

type PortalCreator interface {
	Create(ctx context.Context, userID int64, req portal.Request) (string, error)
}

type SubscriptionLister interface {
	ListUserSubscriptions(ctx context.Context, userID int64, email, locale string) ([]*types.UserSubscriptionInfo, error)
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type SubscriptionsResponse struct {
	Subscriptions []*types.UserSubscriptionInfo `json:"subscriptions"`
}

// @Summary      Create checkout session
// @Description  Starts a hosted checkout for the given price. The gateway is not called when validation fails.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body checkout.Request true "Checkout request"
// @Success      200  {object}  handlers.CheckoutResponse
// @Failure      400  {object}  response.ErrorBody
// @Failure      401  {object}  response.ErrorBody
// @Failure      404  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/v1/billing/checkout [post]
func ApiCreateCheckout(svc CheckoutCreator, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := mw.CurrentClaims(c)
		if !ok {
			response.Fail(c, apperr.Unauthenticated())
			return
		}
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, bindError(err))
			return
		}
		url, err := svc.Create(c.Request.Context(), claims.UserID, req)
		if err != nil {
			logctx.FromGin(c, base).Warnw("checkout_failed", "price_id", req.PriceID, "error", err)
			response.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, CheckoutResponse{URL: url})
	}
}

// @Summary      Open billing portal
// @Description  Redirects to the gateway's self-service portal for the caller's billing customer.
// @Tags         Billing
// @Accept       x-www-form-urlencoded
// @Produce      json
// @Security     BearerAuth
// @Param        customer_id formData string false "Must match the caller's stored customer id"
// @Param        return_url formData string false "Allow-listed URL to return to"
// @Success      303
// @Failure      400  {object}  response.ErrorBody
// @Failure      401  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/v1/billing/portal [post]
func ApiCreatePortal(svc PortalCreator, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := mw.CurrentClaims(c)
		if !ok {
			response.Fail(c, apperr.Unauthenticated())
			return
		}
		var req portal.Request
		if err := c.ShouldBindWith(&req, binding.Form); err != nil {
			response.Fail(c, bindError(err))
			return
		}
		url, err := svc.Create(c.Request.Context(), claims.UserID, req)
		if err != nil {
			logctx.FromGin(c, base).Warnw("portal_failed", "error", err)
			response.Fail(c, err)
			return
		}
		c.Redirect(http.StatusSeeOther, url)
	}
}

// @Summary      List my subscriptions
// @Description  Returns the caller's subscriptions, access-granting ones first.
// @Tags         Billing
// @Produce      json
// @Security     BearerAuth
// @Param        locale query string false "Package name locale, defaults to Accept-Language"
// @Success      200  {object}  handlers.SubscriptionsResponse
// @Failure      401  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/v1/billing/subscriptions [get]
func ApiListSubscriptions(svc SubscriptionLister, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := mw.CurrentClaims(c)
		if !ok {
			response.Fail(c, apperr.Unauthenticated())
			return
		}
		locale := c.Query("locale")
		if locale == "" {
			locale = primaryLanguage(c.GetHeader("Accept-Language"))
		}
		subs, err := svc.ListUserSubscriptions(c.Request.Context(), claims.UserID, claims.Email, locale)
		if err != nil {
			logctx.FromGin(c, base).Errorw("list_subscriptions_failed", "error", err)
			response.Fail(c, err)
			return
		}
		c.JSON(http.StatusOK, SubscriptionsResponse{Subscriptions: subs})
	}
}

// primaryLanguage returns the first tag of an Accept-Language header.
func primaryLanguage(header string) string {
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

func RegisterBillingRoutes(r gin.IRouter, co CheckoutCreator, po PortalCreator, subs SubscriptionLister, log *zap.SugaredLogger) {
	r.POST("/checkout", ApiCreateCheckout(co, log))
	r.POST("/portal", ApiCreatePortal(po, log))
	r.GET("/subscriptions", ApiListSubscriptions(subs, log))
}
