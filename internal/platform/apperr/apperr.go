// Package apperr defines the failure kinds returned by the clinical engine.
// Domain packages declare sentinel *Error values; callers match them with
// errors.Is and map the kind to a boundary response with HTTPStatus.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Kind classifies an engine failure.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalidState
	KindValidationFailed
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindInvalidState:
		return "InvalidState"
	case KindValidationFailed:
		return "ValidationFailed"
	case KindUnauthorized:
		return "Unauthorized"
	default:
		return "Internal"
	}
}

// Error is a typed engine failure. Code is stable and is what errors.Is
// compares, so a sentinel still matches after WithDetails or %w wrapping.
type Error struct {
	Kind    Kind     `json:"-"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func NotFound(code, message string) *Error     { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error     { return New(KindConflict, code, message) }
func InvalidState(code, message string) *Error { return New(KindInvalidState, code, message) }
func Validation(code, message string) *Error   { return New(KindValidationFailed, code, message) }
func Unauthorized(code, message string) *Error { return New(KindUnauthorized, code, message) }

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON lets echo's default error handler render the code and details
// instead of only the message.
func (e *Error) MarshalJSON() ([]byte, error) {
	type wire Error
	return json.Marshal((*wire)(e))
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details ...string) *Error {
	cp := *e
	cp.Details = append(append([]string(nil), e.Details...), details...)
	return &cp
}

// Withf returns a copy of e with a formatted detail appended.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code the HTTP layer responds with.
func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidState:
		return http.StatusUnprocessableEntity
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTP converts an engine error into an echo HTTP error.
func ToHTTP(err error) *echo.HTTPError {
	var ae *Error
	if errors.As(err, &ae) {
		return echo.NewHTTPError(HTTPStatus(ae.Kind), ae)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
