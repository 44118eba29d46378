package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/looplj/reportflow/internal/contexts"
	"github.com/looplj/reportflow/internal/log"
)

// AccessLog logs failed requests: status code, method, path, operation and errors.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		ctx := c.Request.Context()

		var errMsgs []string
		for _, e := range c.Errors {
			errMsgs = append(errMsgs, e.Error())
		}

		for _, e := range contexts.GetErrors(ctx) {
			errMsgs = append(errMsgs, e.Error())
		}

		status := c.Writer.Status()
		if status < 400 && len(errMsgs) == 0 {
			if log.DebugEnabled(ctx) {
				log.Debug(ctx, "[ACCESS]",
					log.Int("status", status),
					log.String("method", c.Request.Method),
					log.String("path", c.Request.URL.Path),
					log.Duration("latency", time.Since(start)),
				)
			}

			return
		}

		fields := []log.Field{
			log.Int("status", status),
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.Duration("latency", time.Since(start)),
			log.String("client_ip", c.ClientIP()),
		}

		if opName, ok := contexts.GetOperationName(ctx); ok {
			fields = append(fields, log.String("operation", opName))
		}

		if len(errMsgs) > 0 {
			fields = append(fields, log.Strings("errors", errMsgs))
		}

		log.Error(ctx, "[ACCESS]", fields...)
	}
}
