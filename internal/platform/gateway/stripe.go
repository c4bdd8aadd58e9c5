// Package gateway wraps the Stripe SDK calls the ledger needs: webhook
// verification, checkout and portal sessions, subscription retrieval.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/metrics"
)

// MetadataUserID is the checkout and subscription metadata key carrying the
// local user id.
const MetadataUserID = "user_id"

type Client struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	timeout       time.Duration
	successURL    string
	cancelURL     string
	log           *zap.SugaredLogger
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Client, error) {
	sc := cfg.Stripe
	if sc.WebhookSecret == "" {
		log.Warnw("stripe webhook secret is empty; every delivery will be rejected")
	}
	httpClient := &http.Client{Timeout: sc.APITimeout}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     log.Named("stripe"),
		MaxNetworkRetries: stripe.Int64(sc.MaxNetworkRetries),
	}
	api := &client.API{}
	api.Init(sc.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &Client{
		api:           api,
		webhookSecret: sc.WebhookSecret,
		tolerance:     sc.WebhookTolerance,
		timeout:       sc.APITimeout,
		successURL:    sc.SuccessURL,
		cancelURL:     sc.CancelURL,
		log:           log,
	}, nil
}

// ConstructEvent verifies the signature header over the raw payload and
// rejects deliveries older than the tolerance window.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, header, c.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, apperr.Authenticity(err)
	}
	return event, nil
}

type CheckoutSessionInput struct {
	UserID     int64
	CustomerID string
	PriceID    string
	Locale     string
}

func (c *Client) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	userID := fmt.Sprintf("%d", in.UserID)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(in.CustomerID),
		ClientReferenceID: stripe.String(userID),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{MetadataUserID: userID},
		},
	}
	if in.Locale != "" {
		params.Locale = stripe.String(in.Locale)
	}
	params.AddMetadata(MetadataUserID, userID)
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", c.fail("checkout_session_create", err)
	}
	metrics.IncGatewayRequest("checkout_session_create", "ok")
	return s.URL, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := c.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", c.fail("portal_session_create", err)
	}
	metrics.IncGatewayRequest("portal_session_create", "ok")
	return s.URL, nil
}

// GetSubscription fetches the authoritative state of a subscription.
func (c *Client) GetSubscription(ctx context.Context, id string) (*SubscriptionSnapshot, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, c.fail("subscription_get", err)
	}
	metrics.IncGatewayRequest("subscription_get", "ok")
	return SnapshotFromSubscription(sub, time.Now()), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) fail(op string, err error) error {
	wrapped := classify(op, err)
	metrics.IncGatewayRequest(op, string(apperr.KindOf(wrapped)))
	c.log.Warnw("gateway_request_failed", "op", op, "err", err)
	return wrapped
}

// classify maps SDK errors onto the error taxonomy: missing resources are
// NotFound, throttling and 5xx are transient, other API errors are permanent
// gateway errors, and anything without an API response is a network failure.
func classify(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == stripe.ErrorCodeResourceMissing:
			return &apperr.Error{Kind: apperr.KindNotFound, Msg: op + ": resource missing", Err: err}
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
			return apperr.Transient(err, "%s", op)
		default:
			return apperr.Gateway(err, "%s", op)
		}
	}
	return apperr.Transient(err, "%s", op)
}

var Module = fx.Options(
	fx.Provide(New),
)
