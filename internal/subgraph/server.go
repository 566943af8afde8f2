package subgraph

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/gema/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// Request is the JSON body of a request/reply call.
type Request struct {
	OperationName string    `json:"operationName"`
	Variables     Variables `json:"variables"`
}

// ResponseError is one entry of a failed response's "errors" list.
type ResponseError struct {
	Message string `json:"message"`
}

// Server exposes a Node over HTTP: request/reply operations on POST /graphql
// and the value stream on a WebSocket at GET /graphql.
type Server struct {
	node     *Node
	title    string
	router   *gin.Engine
	logger   zerolog.Logger
	appeared time.Time
}

func NewServer(node *Node, title string, corsOrigins []string, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(title))
	r.Use(cors.New(corsConfig(corsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	return &Server{
		node:     node,
		title:    title,
		router:   r,
		logger:   logger,
		appeared: time.Now(),
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST"},
		// The wildcard does not cover Authorization, so it is listed too.
		AllowHeaders: []string{"*", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	allowed := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowed = nil
			break
		}
		if o != "" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}
	return cfg
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) RegisterRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		names := s.node.Names()
		c.JSON(http.StatusOK, gin.H{
			"title":      s.title,
			"profile":    s.node.Profile(),
			"endpoint":   "/graphql",
			"query":      names.Query,
			"mutation":   names.Mutation,
			"stream":     "/graphql?operationName=" + names.Subscription,
			"operations": s.node.Registry().List(),
		})
	})

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.title,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":       true,
			"uptime":      time.Since(s.appeared).String(),
			"service":     s.title,
			"bus":         s.node.BusState(),
			"policy":      s.node.Policy(),
			"subscribers": s.node.Subscribers(),
			"version":     version,
		})
	})

	s.router.GET("/operations", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"operations": s.node.Registry().List(),
		})
	})

	s.router.POST("/graphql", s.handleOperation)
	s.router.GET("/graphql", s.handleStream)
}

func (s *Server) handleOperation(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(err))
		return
	}
	name := strings.TrimSpace(req.OperationName)
	s.tagOperation(c, name)
	out, err := s.node.Registry().Invoke(c.Request.Context(), name, req.Variables)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrUnknownOperation):
			status = http.StatusNotFound
		case errors.Is(err, ErrNotRequestReply), errors.Is(err, ErrBadRepresentation):
			status = http.StatusBadRequest
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("operation", name).Msg("operation failed")
		}
		c.JSON(status, errorBody(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{name: out}})
}

// tagOperation labels the request for the access log and request metrics.
// Names outside the registry share one label.
func (s *Server) tagOperation(c *gin.Context, name string) (Operation, bool) {
	op, ok := s.node.Registry().Resolve(name)
	if !ok {
		observability.TagOperation(c, "unknown", "")
		return Operation{}, false
	}
	observability.TagOperation(c, op.Name, string(op.Kind))
	return op, true
}

func errorBody(err error) gin.H {
	return gin.H{"errors": []ResponseError{{Message: err.Error()}}}
}
