package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/looplj/reportflow/internal/log"
)

// Recovery turns a handler panic into a 500 JSON response and logs the stack.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Error(c.Request.Context(), "panic recovered",
			log.Any("panic", recovered),
			log.String("stack", string(debug.Stack())),
		)

		AbortWithError(c, http.StatusInternalServerError, panicError(recovered))
	})
}

func panicError(recovered any) error {
	switch v := recovered.(type) {
	case error:
		return v
	case nil:
		return errors.New("panic")
	default:
		return fmt.Errorf("panic: %v", v)
	}
}
