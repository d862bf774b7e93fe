// Package apperr defines the error kinds shared by services and handlers and
// their mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an Error.
type Kind string

const (
	Unauthorized    Kind = "unauthorized"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	InvalidInput    Kind = "invalid_input"
	Conflict        Kind = "conflict"
	UpstreamFailure Kind = "upstream_failure"
	Internal        Kind = "internal"
)

// Error is a classified application error. Message is safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnauthorized    = &Error{Kind: Unauthorized}
	ErrNotFound        = &Error{Kind: NotFound}
	ErrInvalidInput    = &Error{Kind: InvalidInput}
	ErrConflict        = &Error{Kind: Conflict}
	ErrUpstreamFailure = &Error{Kind: UpstreamFailure}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err under kind with a client-facing message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFoundf(format string, args ...any) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

func Invalidf(format string, args ...any) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) *Error {
	return New(Conflict, fmt.Sprintf(format, args...))
}

// Upstream wraps a collaborator failure (database, object storage, renderer).
func Upstream(message string, err error) *Error {
	return Wrap(UpstreamFailure, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidInput:
		return http.StatusBadRequest
	case Conflict:
		return http.StatusConflict
	case UpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as {"error", "code"} with the matching status.
// Unclassified errors are logged and reported as a generic 500.
func Respond(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		slog.Error("unhandled error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Internal server error",
			"code":  string(Internal),
		})
		return
	}
	if e.Kind == UpstreamFailure || e.Kind == Internal {
		slog.Error(e.Message, "path", c.FullPath(), "error", e.Err)
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(Status(e.Kind))
	}
	c.JSON(Status(e.Kind), gin.H{
		"error": msg,
		"code":  string(e.Kind),
	})
}
