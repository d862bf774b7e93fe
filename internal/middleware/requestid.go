package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID string.
	RequestIDKey = "request_id"

	maxRequestIDLen = 128
)

type requestIDCtxKey struct{}

// RequestIDMiddleware tags every request with an ID. An inbound X-Request-ID is kept
// when it is short and printable ASCII without spaces; anything else is replaced by
// a fresh UUID so caller-supplied values cannot forge log lines. The ID is stored on
// the gin.Context, on the request's context.Context for repositories and services,
// and echoed in the response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDCtxKey{}, id))
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// RequestIDFromContext returns the ID set by RequestIDMiddleware, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey{}).(string)
	return id
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
