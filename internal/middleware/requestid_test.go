package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenIDs struct {
	fromGin string
	fromCtx string
}

func serveWithRequestID(t *testing.T, inbound string) (*httptest.ResponseRecorder, seenIDs) {
	t.Helper()
	var seen seenIDs

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/boxes", func(c *gin.Context) {
		seen.fromGin = c.GetString(RequestIDKey)
		seen.fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/boxes", nil)
	if inbound != "" {
		req.Header.Set(RequestIDHeader, inbound)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, seen
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	w, seen := serveWithRequestID(t, "")

	id := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(id)
	require.NoError(t, err, "generated id %q should be a UUID", id)
	assert.Equal(t, id, seen.fromGin)
	assert.Equal(t, id, seen.fromCtx)
}

func TestRequestID_InboundKept(t *testing.T) {
	const upstream = "lb-7f3a.req_0001"
	w, seen := serveWithRequestID(t, upstream)

	assert.Equal(t, upstream, w.Header().Get(RequestIDHeader))
	assert.Equal(t, upstream, seen.fromGin)
	assert.Equal(t, upstream, seen.fromCtx)
}

func TestRequestID_InvalidInboundReplaced(t *testing.T) {
	cases := map[string]string{
		"too long":     strings.Repeat("a", maxRequestIDLen+1),
		"space":        "abc def",
		"control char": "abc\tdef",
		"non ascii":    "héllo",
	}
	for name, inbound := range cases {
		t.Run(name, func(t *testing.T) {
			w, _ := serveWithRequestID(t, inbound)
			id := w.Header().Get(RequestIDHeader)
			assert.NotEqual(t, inbound, id)
			_, err := uuid.Parse(id)
			assert.NoError(t, err)
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	first, _ := serveWithRequestID(t, "")
	second, _ := serveWithRequestID(t, "")
	assert.NotEqual(t, first.Header().Get(RequestIDHeader), second.Header().Get(RequestIDHeader))
}

func TestRequestIDFromContext_Unset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
}
