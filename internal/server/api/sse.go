package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/looplj/reportflow/internal/log"
)

// sseWriter serializes server sent events written from concurrent producers.
type sseWriter struct {
	mu     sync.Mutex
	c      *gin.Context
	closed bool
}

func newSSEWriter(c *gin.Context) *sseWriter {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	return &sseWriter{c: c}
}

func (w *sseWriter) write(event string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if err := w.c.Request.Context().Err(); err != nil {
		log.Warn(w.c.Request.Context(), "client gone, dropping stream event", log.String("event", event))

		w.closed = true

		return
	}

	w.c.SSEvent(event, data)
	w.c.Writer.Flush()
}

func (w *sseWriter) error(status int, err error) {
	_ = w.c.Error(err)
	w.write("error", errorResponse(status, err).Error)
}
