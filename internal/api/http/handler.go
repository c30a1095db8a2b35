// Package http exposes the planner over Hertz.
package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/metrics"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// TimezoneHeader carries the caller's IANA timezone.
const TimezoneHeader = "Accept-Timezone"

// PlanGenerator produces a plan for one request.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req nomadly.PlanRequest, timezoneHint string) (*nomadly.PlanResponse, error)
}

// Handler serves the plan API.
type Handler struct {
	planner        PlanGenerator
	logger         *slog.Logger
	requestTimeout time.Duration
}

type HandlerOption func(*Handler)

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRequestTimeout bounds a single plan generation.
func WithRequestTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

func NewHandler(planner PlanGenerator, opts ...HandlerOption) *Handler {
	h := &Handler{planner: planner, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GeneratePlan handles POST /api/plan.
func (h *Handler) GeneratePlan(ctx context.Context, c *app.RequestContext) {
	var req nomadly.PlanRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"detail": "invalid request body"})
		return
	}
	timezone := strings.TrimSpace(string(c.GetHeader(TimezoneHeader)))

	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	resp, err := h.planner.GeneratePlan(ctx, req, timezone)
	if err != nil {
		var pe *nomadly.PlanError
		if errors.As(err, &pe) && pe.Code == nomadly.ErrCodeValidation {
			c.JSON(consts.StatusBadRequest, utils.H{"detail": pe.Message})
			return
		}
		h.logger.Error("plan request failed", "destination", req.Destination, "timezone", timezone, "error", err)
		c.JSON(consts.StatusInternalServerError, utils.H{"detail": nomadly.UserMessage(err)})
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// HealthCheck handles GET /api/health.
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// Metrics handles GET /metrics.
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		h.logger.Error("failed to render metrics", "error", err)
		c.String(consts.StatusInternalServerError, "failed to render metrics")
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
