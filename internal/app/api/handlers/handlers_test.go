package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mw "github.com/fatflowers/subledger/internal/app/api/middleware"
	"github.com/fatflowers/subledger/internal/app/service/checkout"
	"github.com/fatflowers/subledger/internal/app/service/portal"
	"github.com/fatflowers/subledger/internal/app/service/reconcile"
	"github.com/fatflowers/subledger/pkg/apperr"
	"github.com/fatflowers/subledger/pkg/config"
	"github.com/fatflowers/subledger/pkg/types"
)

const jwtSecret = "handler-test-secret"

var nopLog = zap.NewNop().Sugar()

type stubProcessor struct {
	calls   int
	payload []byte
	header  string
	res     reconcile.Result
	err     error
}

func (s *stubProcessor) Handle(_ context.Context, payload []byte, header string) (reconcile.Result, error) {
	s.calls++
	s.payload, s.header = payload, header
	return s.res, s.err
}

type stubCheckout struct {
	calls int
	req   checkout.Request
	url   string
	err   error
}

func (s *stubCheckout) Create(_ context.Context, _ int64, req checkout.Request) (string, error) {
	s.calls++
	s.req = req
	return s.url, s.err
}

type stubPortal struct {
	userID int64
	req    portal.Request
	url    string
	err    error
}

func (s *stubPortal) Create(_ context.Context, userID int64, req portal.Request) (string, error) {
	s.userID, s.req = userID, req
	return s.url, s.err
}

type stubLister struct {
	email, locale string
}

func (s *stubLister) ListUserSubscriptions(_ context.Context, _ int64, email, locale string) ([]*types.UserSubscriptionInfo, error) {
	s.email, s.locale = email, locale
	return []*types.UserSubscriptionInfo{{GatewaySubscriptionID: "sub_1", Status: "active"}}, nil
}

func newBillingRouter(co CheckoutCreator, po PortalCreator, subs SubscriptionLister) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/api/v1/billing", mw.AuthMiddleware(config.AuthConfig{JWTSecret: jwtSecret}, nopLog))
	RegisterBillingRoutes(g, co, po, subs, nopLog)
	return r
}

func bearer(t *testing.T, claims mw.Claims) string {
	t.Helper()
	tok, err := mw.SignToken(jwtSecret, claims, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func postWebhook(r http.Handler, body []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(HeaderStripeSignature, sig)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func newWebhookRouter(p WebhookProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterWebhookRoutes(r.Group("/api/v1/webhooks"), p, nopLog)
	return r
}

func TestStripeWebhook_AcknowledgesAndPassesRawBody(t *testing.T) {
	p := &stubProcessor{res: reconcile.Result{EventID: "evt_1", Outcome: types.WebhookOutcomeHandled}}
	r := newWebhookRouter(p)

	body := []byte(`{"id":"evt_1",  "type":"invoice.paid"}`)
	w := postWebhook(r, body, "t=1,v1=abc")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"received":true}`, w.Body.String())
	require.Equal(t, body, p.payload)
	require.Equal(t, "t=1,v1=abc", p.header)
}

func TestStripeWebhook_CorrelationIsAcknowledged(t *testing.T) {
	p := &stubProcessor{res: reconcile.Result{EventID: "evt_2", Outcome: types.WebhookOutcomeCorrelation, Detail: "no local user"}}
	w := postWebhook(newWebhookRouter(p), []byte(`{}`), "t=1,v1=abc")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"received":true}`, w.Body.String())
}

func TestStripeWebhook_Errors(t *testing.T) {
	t.Run("missing signature", func(t *testing.T) {
		p := &stubProcessor{}
		w := postWebhook(newWebhookRouter(p), []byte(`{}`), "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"error":"invalid signature"}`, w.Body.String())
		require.Zero(t, p.calls)
	})
	t.Run("too large", func(t *testing.T) {
		p := &stubProcessor{}
		w := postWebhook(newWebhookRouter(p), bytes.Repeat([]byte("a"), MaxWebhookBody+1), "t=1,v1=abc")
		require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		require.Zero(t, p.calls)
	})
	t.Run("authenticity", func(t *testing.T) {
		p := &stubProcessor{err: apperr.Authenticity(errors.New("no valid signature found"))}
		w := postWebhook(newWebhookRouter(p), []byte(`{}`), "t=1,v1=abc")
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.JSONEq(t, `{"error":"invalid signature"}`, w.Body.String())
	})
	t.Run("transient", func(t *testing.T) {
		p := &stubProcessor{err: apperr.Transient(errors.New("connection refused"), "apply event")}
		w := postWebhook(newWebhookRouter(p), []byte(`{}`), "t=1,v1=abc")
		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"error":"internal error"}`, w.Body.String())
	})
}

func TestCreateCheckout(t *testing.T) {
	co := &stubCheckout{url: "https://checkout.example/s/1"}
	r := newBillingRouter(co, &stubPortal{}, &stubLister{})

	do := func(auth, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	auth := bearer(t, mw.Claims{UserID: 42})

	w := do("", `{"priceId":"price_basic"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())

	w = do(auth, `{"locale":"de"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"priceId is required"}`, w.Body.String())

	w = do(auth, `{"priceId":"`+strings.Repeat("p", 256)+`"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"priceId must be at most 255 characters"}`, w.Body.String())

	w = do(auth, `{"priceId":"price_basic","locale":"xx"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "locale must be one of")

	w = do(auth, `{"priceId":`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Zero(t, co.calls)

	w = do(auth, `{"priceId":"price_basic"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"url":"https://checkout.example/s/1"}`, w.Body.String())
	require.Equal(t, "price_basic", co.req.PriceID)

	co.err = apperr.NotFound("package not found")
	w = do(auth, `{"priceId":"price_gone"}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"package not found"}`, w.Body.String())

	co.err = apperr.Gateway(errors.New("api down"), "failed to create checkout session")
	w = do(auth, `{"priceId":"price_basic"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"failed to create checkout session"}`, w.Body.String())
}

func TestCreatePortal(t *testing.T) {
	po := &stubPortal{url: "https://billing.example/p/1"}
	r := newBillingRouter(&stubCheckout{}, po, &stubLister{})

	do := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/portal", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", bearer(t, mw.Claims{UserID: 7}))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(url.Values{"return_url": {"https://app.example.com/account"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, "https://billing.example/p/1", w.Header().Get("Location"))
	require.EqualValues(t, 7, po.userID)
	require.Equal(t, "https://app.example.com/account", po.req.ReturnURL)

	w = do(url.Values{"return_url": {"not a url"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"return_url must be a valid URL"}`, w.Body.String())

	po.err = apperr.Validation("customer_id does not match")
	w = do(url.Values{"customer_id": {"cus_other"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"customer_id does not match"}`, w.Body.String())

	po.err = apperr.Gateway(errors.New("api down"), "failed to create portal session")
	w = do(url.Values{})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"failed to create portal session"}`, w.Body.String())
}

func TestListSubscriptions(t *testing.T) {
	lister := &stubLister{}
	r := newBillingRouter(&stubCheckout{}, &stubPortal{}, lister)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/billing/subscriptions", nil)
	req.Header.Set("Authorization", bearer(t, mw.Claims{UserID: 42, Email: "a@example.com"}))
	req.Header.Set("Accept-Language", "de-DE;q=0.9, en;q=0.8")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"gateway_subscription_id":"sub_1"`)
	require.Equal(t, "a@example.com", lister.email)
	require.Equal(t, "de-DE", lister.locale)
}

func TestPrimaryLanguage(t *testing.T) {
	require.Equal(t, "fr", primaryLanguage("fr,en;q=0.5"))
	require.Equal(t, "zh-TW", primaryLanguage(" zh-TW ; q=1"))
	require.Empty(t, primaryLanguage(""))
}
