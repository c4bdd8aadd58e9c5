// Package apperr is the error taxonomy shared by the reconciliation pipeline
// and the initiator endpoints.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	// KindAuthenticity: bad or missing webhook signature. Permanent.
	KindAuthenticity Kind = "authenticity"
	// KindCorrelation: the event references rows the ledger cannot resolve.
	// Recorded and acknowledged, never retried.
	KindCorrelation Kind = "correlation"
	// KindTransient: database or gateway-network failure. Retryable.
	KindTransient Kind = "transient"
	// KindValidation: malformed initiator input.
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindUnauthenticated Kind = "unauthenticated"
	// KindGateway: the gateway rejected a request for a non-retryable reason.
	KindGateway Kind = "gateway"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.Correlation("", nil)) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Authenticity never carries detail in Msg: the caller must not learn
// whether the payload parsed.
func Authenticity(err error) *Error {
	return &Error{Kind: KindAuthenticity, Msg: "invalid signature", Err: err}
}

func Correlation(format string, args ...any) *Error {
	return newf(KindCorrelation, nil, format, args...)
}

func Transient(err error, format string, args ...any) *Error {
	return newf(KindTransient, err, format, args...)
}

func Validation(format string, args ...any) *Error {
	return newf(KindValidation, nil, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, nil, format, args...)
}

func Unauthenticated() *Error { return &Error{Kind: KindUnauthenticated, Msg: "unauthorized"} }

func Gateway(err error, format string, args ...any) *Error {
	return newf(KindGateway, err, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain. Context
// deadlines and cancellations without a kind count as transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return ""
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// HTTPStatus maps an error to the status returned to the caller. Unclassified
// errors are server errors so the gateway retries.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		if err == nil {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	case KindAuthenticity, KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindCorrelation:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Message is the caller-facing text for err. Transient failures never leak
// their cause.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" && e.Kind != KindTransient {
		return e.Msg
	}
	return "internal error"
}
