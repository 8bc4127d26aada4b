// Package errs defines the error taxonomy shared by intake, workers and
// the delivery layer.
package errs

import (
	"errors"
	"fmt"
	"time"
)

type Code string

const (
	CodeInvalidRequest       Code = "INVALID_REQUEST"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeQueueFull            Code = "QUEUE_FULL"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeFetchTransient       Code = "FETCH_TRANSIENT"
	CodeFetchPermanent       Code = "FETCH_PERMANENT"
	CodeUnsplittableArtifact Code = "UNSPLITTABLE_ARTIFACT"
	CodeDeliveryTransient    Code = "DELIVERY_TRANSIENT"
	CodeDeliveryPermanent    Code = "DELIVERY_PERMANENT"
	CodeCancelled            Code = "CANCELLED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeUnknown              Code = "UNKNOWN"
)

// Sentinels for errors.Is. Any *Error matches the sentinel with the same code.
var (
	ErrInvalidRequest       = &Error{Code: CodeInvalidRequest}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrQueueFull            = &Error{Code: CodeQueueFull}
	ErrQuotaExceeded        = &Error{Code: CodeQuotaExceeded}
	ErrFetchTransient       = &Error{Code: CodeFetchTransient}
	ErrFetchPermanent       = &Error{Code: CodeFetchPermanent}
	ErrUnsplittableArtifact = &Error{Code: CodeUnsplittableArtifact}
	ErrDeliveryTransient    = &Error{Code: CodeDeliveryTransient}
	ErrDeliveryPermanent    = &Error{Code: CodeDeliveryPermanent}
	ErrCancelled            = &Error{Code: CodeCancelled}
	ErrNotFound             = &Error{Code: CodeNotFound}
)

type Error struct {
	Code    Code
	Message string
	// RetryAfter is the wait the upstream asked for, zero when unknown.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithRetryAfter returns a transient error carrying the upstream's requested wait.
func WithRetryAfter(code Code, msg string, after time.Duration, err error) *Error {
	return &Error{Code: code, Message: msg, RetryAfter: after, Err: err}
}

// CodeOf returns the code of the outermost *Error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// Message returns a user-facing reason for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

func IsIntake(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidRequest, CodeRateLimited, CodeQueueFull:
		return true
	}
	return false
}
