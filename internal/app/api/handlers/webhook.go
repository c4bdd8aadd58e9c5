package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/internal/app/service/reconcile"
	"github.com/fatflowers/subledger/pkg/logctx"
	"github.com/fatflowers/subledger/pkg/response"
)

// MaxWebhookBody caps a single delivery. Gateway events are a few KiB.
const MaxWebhookBody = 1 << 20

const HeaderStripeSignature = "Stripe-Signature"

type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, header string) (reconcile.Result, error)
}

type WebhookAck struct {
	Received bool `json:"received"`
}

// @Summary      Stripe Webhook
// @Description  Receives signed gateway events. The raw body is verified against the Stripe-Signature header before anything is parsed.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Gateway signature header"
// @Param        payload body string true "Raw event payload"
// @Success      200  {object}  handlers.WebhookAck
// @Failure      400  {object}  response.ErrorBody
// @Failure      413  {object}  response.ErrorBody
// @Failure      500  {object}  response.ErrorBody
// @Router       /api/v1/webhooks/stripe [post]
func ApiStripeWebhook(p WebhookProcessor, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, base)

		header := c.GetHeader(HeaderStripeSignature)
		if header == "" {
			log.Warnw("webhook_stripe_unsigned")
			c.AbortWithStatusJSON(http.StatusBadRequest, response.ErrorBody{Error: "invalid signature"})
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Warnw("webhook_stripe_too_large", "limit", tooLarge.Limit)
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, response.ErrorBody{Error: "payload too large"})
				return
			}
			log.Warnw("webhook_stripe_read_error", "error", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, response.ErrorBody{Error: "unreadable body"})
			return
		}

		// the processor logs outcomes itself
		res, err := p.Handle(c.Request.Context(), payload, header)
		if err != nil {
			response.Fail(c, err)
			return
		}
		log.Debugw("webhook_stripe_ack", "event_id", res.EventID, "outcome", res.Outcome, "bytes", len(payload))
		c.JSON(http.StatusOK, WebhookAck{Received: true})
	}
}

func RegisterWebhookRoutes(r gin.IRouter, p WebhookProcessor, log *zap.SugaredLogger) {
	r.POST("/stripe", ApiStripeWebhook(p, log))
}
