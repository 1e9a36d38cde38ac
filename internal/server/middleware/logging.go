package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/looplj/tenantguard/internal/tracing"
)

// WithLoggingTracing save the trace ID and request ID to the request context.
// So the logger can log the trace ID and request ID in the next logs.
func WithLoggingTracing(config tracing.Config) gin.HandlerFunc {
	// Use the configured trace header name, or default to "TG-Trace-Id"
	traceHeader := config.TraceHeader
	if traceHeader == "" {
		traceHeader = "TG-Trace-Id"
	}

	// Use the configured request header name, or default to "TG-Request-Id"
	requestHeader := config.RequestHeader
	if requestHeader == "" {
		requestHeader = "TG-Request-Id"
	}

	return func(c *gin.Context) {
		// Use the trace header from the request first.
		traceID := c.GetHeader(traceHeader)
		if traceID == "" {
			traceID = tracing.GenerateTraceID()
		}

		// Generate request ID for each request
		requestID := tracing.GenerateRequestID()

		// Set request ID header in response
		c.Header(requestHeader, requestID)

		ctx := tracing.WithTraceID(c.Request.Context(), traceID)
		ctx = tracing.WithRequestID(ctx, requestID)

		if path := c.FullPath(); path != "" {
			ctx = tracing.WithOperationName(ctx, fmt.Sprintf("%s %s", c.Request.Method, path))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
