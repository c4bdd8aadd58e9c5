package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/subledger/pkg/apperr"
)

// New generic response spec
type APIResponseCode int

const (
	APIResponseCodeOK           APIResponseCode = 0
	APIResponseCodeBadRequest   APIResponseCode = 40000
	APIResponseCodeUnauthorized APIResponseCode = 40100
	APIResponseCodeNotFound     APIResponseCode = 40400
	APIResponseCodeError        APIResponseCode = 50000
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:           "ok",
	APIResponseCodeBadRequest:   "bad request",
	APIResponseCodeUnauthorized: "unauthorized",
	APIResponseCodeNotFound:     "not found",
	APIResponseCodeError:        "unexpected error",
}

// APIResponse is the envelope used by the admin APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}

// ErrorBody is the flat error shape of the billing and webhook endpoints.
type ErrorBody struct {
	Error string `json:"error"`
}

// Fail aborts the request with the status and message err's kind maps to.
func Fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), ErrorBody{Error: apperr.Message(err)})
}

// FailEnvelope answers 200 with an error envelope, the convention of the
// admin console.
func FailEnvelope(c *gin.Context, err error) {
	code := APIResponseCodeError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindCorrelation:
		code = APIResponseCodeBadRequest
	case apperr.KindNotFound:
		code = APIResponseCodeNotFound
	case apperr.KindUnauthenticated:
		code = APIResponseCodeUnauthorized
	}
	c.AbortWithStatusJSON(http.StatusOK, ErrorT(code, err.Error()))
}
