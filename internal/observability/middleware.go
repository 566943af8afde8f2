package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	operationKey     = "gema.operation"
	operationKindKey = "gema.operation_kind"
	outcomeKey       = "gema.outcome"
)

// TagOperation names the subgraph operation a request ran. RequestLogger and
// RequestMetricsMiddleware read it once the handler returns.
func TagOperation(c *gin.Context, name, kind string) {
	c.Set(operationKey, name)
	c.Set(operationKindKey, kind)
}

// TagOutcome overrides the status-derived outcome, e.g. for a stream that
// ended because its subscriber fell behind.
func TagOutcome(c *gin.Context, outcome string) {
	c.Set(outcomeKey, outcome)
}

type requestOperation struct {
	name    string
	kind    string
	outcome string
}

func operationOf(c *gin.Context, status int) (requestOperation, bool) {
	name := c.GetString(operationKey)
	if name == "" {
		return requestOperation{}, false
	}
	outcome := c.GetString(outcomeKey)
	if outcome == "" {
		outcome = outcomeForStatus(status)
	}
	return requestOperation{name: name, kind: c.GetString(operationKindKey), outcome: outcome}, true
}

func outcomeForStatus(status int) string {
	switch {
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}

// RequestLogger writes one access line per request. Operation requests log at
// info with the operation, its kind and outcome; status routes log at debug.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		op, tagged := operationOf(c, status)

		event := logger.Debug()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		case tagged:
			event = logger.Info()
		}
		if tagged {
			event = event.
				Str("operation", op.name).
				Str("kind", op.kind).
				Str("outcome", op.outcome)
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http_request")
	}
}

// RequestMetricsMiddleware records every request by route, and operation
// requests a second time by operation name.
func RequestMetricsMiddleware(node string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(node, c.Request.Method, path, status, elapsed)

		if op, ok := operationOf(c, status); ok {
			RecordOperation(node, op.name, op.kind, op.outcome, elapsed)
		}
	}
}
