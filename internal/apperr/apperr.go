// Package apperr defines the error taxonomy shared by the managers and the
// HTTP boundary. Every failure carries a kind (which decides the response
// status), a stable machine code and a message fit for display.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how the boundary reports them.
type Kind string

const (
	KindValidation       Kind = "validation_error"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindUpstream         Kind = "upstream_failure"
	KindStoreUnavailable Kind = "store_unavailable"
)

// Error is the concrete error returned by managers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Status is the upstream HTTP status for KindUpstream, 0 otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so sentinels work with errors.Is after WithMessage/Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy with a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithStatus returns a copy carrying the upstream status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrInvalidRequest       = newError(KindValidation, "invalid_request", "invalid request")
	ErrInvalidSelection     = newError(KindValidation, "invalid_selection", "invalid product selection")
	ErrBelowMinimumOrder    = newError(KindValidation, "below_minimum_order", "order is below the restaurant minimum")
	ErrInvalidTransition    = newError(KindValidation, "invalid_transition", "invalid status transition")
	ErrNotAcceptingOrders   = newError(KindValidation, "not_accepting_orders", "restaurant is not accepting orders")
	ErrGatewayNotConfigured = newError(KindValidation, "gateway_not_configured", "billing gateway is not configured")

	ErrRestaurantNotFound = newError(KindNotFound, "restaurant_not_found", "restaurant not found")
	ErrPlanNotFound       = newError(KindNotFound, "plan_not_found", "plan not found")
	ErrProductNotFound    = newError(KindNotFound, "product_not_found", "product not found")
	ErrOrderNotFound      = newError(KindNotFound, "order_not_found", "order not found")

	ErrCheckoutMismatch = newError(KindConflict, "checkout_mismatch", "checkout does not match the pending session")
	ErrRestaurantExists = newError(KindConflict, "restaurant_exists", "restaurant already exists")
	ErrPlanLocked       = newError(KindConflict, "plan_locked", "plan is referenced by a paid invoice")
	ErrTenantBusy       = newError(KindConflict, "tenant_busy", "another update is in progress for this restaurant")

	ErrCheckoutCreationFailed = newError(KindUpstream, "checkout_creation_failed", "could not create checkout session")

	ErrStoreUnavailable = newError(KindStoreUnavailable, "store_unavailable", "storage is unavailable")
)

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	e, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		if e.Status >= http.StatusBadRequest {
			return e.Status
		}
		return http.StatusBadGateway
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
