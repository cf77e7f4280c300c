// Package errs provides the error type returned by the HTTP handlers and the
// mapping from the scheduler's error taxonomy onto it.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ahrav/scanq/internal/domain/scanning"
)

// ErrCode is an error code surfaced to API clients.
type ErrCode struct {
	value string
}

// Value returns the code's wire name.
func (ec ErrCode) Value() string { return ec.value }

// String implements fmt.Stringer.
func (ec ErrCode) String() string { return ec.value }

// MarshalText implements encoding.TextMarshaler.
func (ec ErrCode) MarshalText() ([]byte, error) { return []byte(ec.value), nil }

// The set of codes handlers return.
var (
	InvalidArgument    = ErrCode{value: "invalid_argument"}
	NotFound           = ErrCode{value: "not_found"}
	FailedPrecondition = ErrCode{value: "failed_precondition"}
	ResourceExhausted  = ErrCode{value: "resource_exhausted"}
	Unavailable        = ErrCode{value: "unavailable"}
	Internal           = ErrCode{value: "internal"}
)

var httpStatus = map[ErrCode]int{
	InvalidArgument:    http.StatusBadRequest,
	NotFound:           http.StatusNotFound,
	FailedPrecondition: http.StatusConflict,
	ResourceExhausted:  http.StatusTooManyRequests,
	Unavailable:        http.StatusServiceUnavailable,
	Internal:           http.StatusInternalServerError,
}

// retryAfterSeconds is sent with ResourceExhausted responses.
const retryAfterSeconds = 5

// Error is an error with a code that maps onto an HTTP status.
type Error struct {
	Code    ErrCode        `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New wraps err with the given code.
func New(code ErrCode, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// Newf builds an Error from a format string.
func Newf(code ErrCode, format string, v ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, v...)}
}

// FromDomain maps a scheduler error onto an API error. Anything outside the
// taxonomy becomes Internal.
func FromDomain(err error) *Error {
	var code ErrCode
	switch {
	case errors.Is(err, scanning.ErrInvalidRequest):
		code = InvalidArgument
	case errors.Is(err, scanning.ErrJobNotFound):
		code = NotFound
	case errors.Is(err, scanning.ErrNotCancellable):
		code = FailedPrecondition
	case errors.Is(err, scanning.ErrQueueFull):
		code = ResourceExhausted
	case errors.Is(err, scanning.ErrQueueClosed):
		code = Unavailable
	default:
		code = Internal
	}

	e := New(code, err)
	if kind := scanning.KindOf(err); kind != "" {
		e.Kind = string(kind)
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string { return e.Message }

// Encode implements the web.Encoder interface.
func (e *Error) Encode() ([]byte, string, error) {
	data, err := json.Marshal(e)
	return data, "application/json", err
}

// HTTPStatus returns the status code for the error.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// HTTPHeaders adds Retry-After to back-pressure responses.
func (e *Error) HTTPHeaders() map[string]string {
	if e.Code != ResourceExhausted {
		return nil
	}
	return map[string]string{"Retry-After": strconv.Itoa(retryAfterSeconds)}
}

// Equal reports whether two errors carry the same code.
func (e *Error) Equal(e2 *Error) bool {
	return e.Code == e2.Code && e.Message == e2.Message
}

// IsError reports whether err is (or wraps) an *Error.
func IsError(err error) bool {
	var er *Error
	return errors.As(err, &er)
}

// GetError returns the *Error in err's chain, or nil.
func GetError(err error) *Error {
	var er *Error
	if !errors.As(err, &er) {
		return nil
	}
	return er
}
