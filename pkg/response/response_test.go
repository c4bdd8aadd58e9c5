package response

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/subledger/pkg/apperr"
)

func run(t *testing.T, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", h)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestFail(t *testing.T) {
	cases := []struct {
		err    error
		status int
		body   string
	}{
		{apperr.Authenticity(errors.New("bad hmac")), http.StatusBadRequest, `{"error":"invalid signature"}`},
		{apperr.Validation("priceId is required"), http.StatusBadRequest, `{"error":"priceId is required"}`},
		{apperr.Unauthenticated(), http.StatusUnauthorized, `{"error":"unauthorized"}`},
		{apperr.NotFound("user not found"), http.StatusNotFound, `{"error":"user not found"}`},
		{apperr.Gateway(errors.New("card_declined"), "failed to create checkout session"), http.StatusInternalServerError, `{"error":"failed to create checkout session"}`},
		{apperr.Transient(errors.New("conn reset"), "commit"), http.StatusInternalServerError, `{"error":"internal error"}`},
		{errors.New("boom"), http.StatusInternalServerError, `{"error":"internal error"}`},
	}
	for _, tc := range cases {
		w := run(t, func(c *gin.Context) { Fail(c, tc.err) })
		require.Equal(t, tc.status, w.Code, tc.err.Error())
		require.JSONEq(t, tc.body, w.Body.String())
	}
}

func TestFailEnvelope(t *testing.T) {
	w := run(t, func(c *gin.Context) { FailEnvelope(c, apperr.NotFound("subscription not found")) })
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"code":40400,"message":"not found","data":"not_found: subscription not found"}`, w.Body.String())

	w = run(t, func(c *gin.Context) { FailEnvelope(c, errors.New("boom")) })
	require.JSONEq(t, `{"code":50000,"message":"unexpected error","data":"boom"}`, w.Body.String())
}
