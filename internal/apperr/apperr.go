// Package apperr classifies failures raised while processing queued work.
//
// Every error that terminates a work item falls into one of three kinds.
// Validation errors are the caller's fault and are surfaced verbatim with a
// 400 status. Upstream and internal errors map to 500 with a generic message;
// their detail stays on the failed work item.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "ValidationError"
	KindUpstream   Kind = "UpstreamError"
	KindInternal   Kind = "InternalError"
)

// GenericMessage is what clients see for any server-side fault.
const GenericMessage = "internal server error"

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	if e.Msg == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a client-fault error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Upstream wraps a model or tool transport failure.
func Upstream(err error, format string, args ...any) error {
	return &Error{Kind: KindUpstream, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// StatusCode maps err to the HTTP status reported to the caller.
func StatusCode(err error) int {
	if IsValidation(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Describe renders err the way it is recorded on a failed work item.
func Describe(err error) string {
	return fmt.Sprintf("[%s] %s", KindOf(err), err.Error())
}

// ClientMessage is the text safe to hand back to the caller.
func ClientMessage(err error) string {
	if IsValidation(err) {
		return err.Error()
	}
	return GenericMessage
}

// Interrupted reports whether err is only the echo of ctx being cancelled,
// i.e. the work was cut off by shutdown rather than failing on its own.
func Interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}
