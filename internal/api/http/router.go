package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
)

// Router registers the service routes on a Hertz server.
type Router struct {
	handler     *Handler
	corsOrigins []string
}

func NewRouter(handler *Handler, corsOrigins []string) *Router {
	return &Router{handler: handler, corsOrigins: corsOrigins}
}

// Register installs the middleware and routes on h.
func (r *Router) Register(h *server.Hertz) {
	h.Use(RequestMetrics(), CORS(r.corsOrigins))

	h.GET("/metrics", r.handler.Metrics)

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.POST("/plan", r.handler.GeneratePlan)
}

// Build creates a server listening on addr with every route installed.
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	h := server.Default(append([]config.Option{server.WithHostPorts(addr)}, opts...)...)
	r.Register(h)
	return h
}
