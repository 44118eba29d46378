package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/reportflow/internal/contexts"
	"github.com/looplj/reportflow/internal/tracing"
)

func TestWithLoggingTracing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(WithLoggingTracing(tracing.Config{}))
	engine.GET("/v1/items/:id", func(c *gin.Context) {
		traceID, ok := contexts.GetTraceID(c.Request.Context())
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(traceID, "rf-"))

		requestID, ok := contexts.GetRequestID(c.Request.Context())
		assert.True(t, ok)
		assert.True(t, strings.HasPrefix(requestID, "req-"))

		operation, ok := contexts.GetOperationName(c.Request.Context())
		assert.True(t, ok)
		assert.Equal(t, "GET /v1/items/:id", operation)

		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/items/1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(DefaultTraceHeader))
	assert.NotEmpty(t, w.Header().Get(DefaultRequestHeader))
}

func TestWithLoggingTracing_ExistingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(WithLoggingTracing(tracing.Config{TraceHeader: "X-Trace"}))
	engine.GET("/", func(c *gin.Context) {
		traceID, ok := contexts.GetTraceID(c.Request.Context())
		assert.True(t, ok)
		assert.Equal(t, "rf-existing", traceID)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace", "rf-existing")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rf-existing", w.Header().Get("X-Trace"))
}

func TestWithTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.GET("/bounded", WithTimeout(time.Minute), func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
		c.Status(http.StatusOK)
	})
	engine.GET("/unbounded", WithTimeout(0), func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.False(t, ok)
		c.Status(http.StatusOK)
	})

	for _, path := range []string{"/bounded", "/unbounded"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}
