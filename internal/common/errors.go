package common

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindValidation         ErrorKind = "VALIDATION_ERROR"
	KindUnauthorized       ErrorKind = "UNAUTHORIZED"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindGatewayUnavailable ErrorKind = "GATEWAY_UNAVAILABLE"
	KindAlreadySubscribed  ErrorKind = "ALREADY_SUBSCRIBED"
	KindNotRefundable      ErrorKind = "NOT_REFUNDABLE"
	KindSignatureInvalid   ErrorKind = "SIGNATURE_INVALID"
	KindInternal           ErrorKind = "SERVER_ERROR"
)

// AppError is a classified error that carries a user-safe message.
type AppError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError of the same kind, so errors.Is(err, ErrAlreadySubscribed) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is comparisons against a kind.
var (
	ErrValidation         = &AppError{Kind: KindValidation}
	ErrUnauthorized       = &AppError{Kind: KindUnauthorized}
	ErrNotFound           = &AppError{Kind: KindNotFound}
	ErrGatewayUnavailable = &AppError{Kind: KindGatewayUnavailable}
	ErrAlreadySubscribed  = &AppError{Kind: KindAlreadySubscribed}
	ErrNotRefundable      = &AppError{Kind: KindNotRefundable}
	ErrSignatureInvalid   = &AppError{Kind: KindSignatureInvalid}
)

func NewValidationError(format string, args ...any) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: message}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{Kind: KindNotFound, Message: resource + " not found"}
}

func NewGatewayUnavailableError(err error) *AppError {
	return &AppError{Kind: KindGatewayUnavailable, Message: "payment gateway is unavailable, retry later", Err: err}
}

func NewAlreadySubscribedError() *AppError {
	return &AppError{Kind: KindAlreadySubscribed, Message: "an active subscription already exists"}
}

func NewNotRefundableError(message string) *AppError {
	return &AppError{Kind: KindNotRefundable, Message: message}
}

func NewSignatureInvalidError(err error) *AppError {
	return &AppError{Kind: KindSignatureInvalid, Message: "webhook signature verification failed", Err: err}
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, or KindInternal when unclassified.
func KindOf(err error) ErrorKind {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadySubscribed, KindNotRefundable:
		return http.StatusConflict
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
