// Package metrics holds the Prometheus collectors of the planning service.
package metrics

import (
	"context"
	"io"
	"time"

	"github.com/StrawberryAcai/Nomadly.backend/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry is the registry exposed on /metrics.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		ToolCalls, ToolDuration,
		ModelRequests, ModelTokens,
		Plans, PlanFailures, PlanDuration, PlanToolRounds, PlanRepairs,
		HTTPRequests,
	)
}

// ToolCalls counts tool dispatches by outcome.
var ToolCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_tool_calls_total",
		Help: "Tool dispatches by tool and outcome.",
	},
	[]string{"tool", "outcome"}, // success | cache_hit | failure | unsupported
)

// ToolDuration is the latency of tool calls that reached the upstream API.
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "nomadly_tool_duration_seconds",
		Help:    "Tool call latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

var ModelRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_model_requests_total",
		Help: "Chat-completion requests by tool choice and status.",
	},
	[]string{"tool_choice", "status"},
)

var ModelTokens = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_model_tokens_total",
		Help: "Tokens reported by the model provider.",
	},
	[]string{"direction"}, // prompt | completion
)

// Plans counts finished plan runs by status.
var Plans = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_plans_total",
		Help: "Plan runs by final status.",
	},
	[]string{"status"}, // completed | failed | cancelled
)

var PlanFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_plan_failures_total",
		Help: "Failed plan runs by error code and stage.",
	},
	[]string{"code", "stage"},
)

var PlanDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "nomadly_plan_duration_seconds",
		Help:    "Wall time of a plan run in seconds.",
		Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
	},
)

var PlanToolRounds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "nomadly_plan_tool_rounds",
		Help:    "Tool rounds used by completed plan runs.",
		Buckets: []float64{1, 2, 3, 4, 5},
	},
)

// PlanRepairs counts repair actions applied to final answers.
var PlanRepairs = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_plan_repairs_total",
		Help: "Repair actions applied to model plans.",
	},
	[]string{"kind"}, // truncated_days | filled_days | fixed_times | marked_places
)

var HTTPRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nomadly_http_requests_total",
		Help: "HTTP requests by route and status code.",
	},
	[]string{"route", "code"},
)

// ObserveToolCall records one dispatch. Its signature matches the
// executor's call observer.
func ObserveToolCall(tool, outcome string, d time.Duration) {
	ToolCalls.WithLabelValues(tool, outcome).Inc()
	if outcome == "success" || outcome == "failure" {
		ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
	}
}

// Observe subscribes to plan events on bus and feeds the plan collectors.
// The returned ID can be passed to bus.Unsubscribe.
func Observe(bus eventbus.EventBus) (string, error) {
	return bus.SubscribeAll(func(_ context.Context, e eventbus.Event) error {
		Record(e)
		return nil
	})
}

var repairKinds = []string{"truncated_days", "filled_days", "fixed_times", "marked_places"}

// Record updates the collectors for a single event.
func Record(e eventbus.Event) {
	switch e.Type() {
	case eventbus.EventModelRequestSucceeded:
		ModelRequests.WithLabelValues(eventbus.MetaString(e, "tool_choice"), "ok").Inc()
		ModelTokens.WithLabelValues("prompt").Add(float64(eventbus.MetaInt(e, "prompt_tokens")))
		ModelTokens.WithLabelValues("completion").Add(float64(eventbus.MetaInt(e, "completion_tokens")))
	case eventbus.EventModelRequestFailed:
		ModelRequests.WithLabelValues(eventbus.MetaString(e, "tool_choice"), "error").Inc()
	case eventbus.EventPlanRepaired:
		for _, kind := range repairKinds {
			if n := eventbus.MetaInt(e, kind); n > 0 {
				PlanRepairs.WithLabelValues(kind).Add(float64(n))
			}
		}
	case eventbus.EventPlanCompleted:
		Plans.WithLabelValues("completed").Inc()
		PlanToolRounds.Observe(float64(eventbus.MetaInt(e, "tool_rounds")))
		observeDuration(e)
	case eventbus.EventPlanCancelled:
		Plans.WithLabelValues("cancelled").Inc()
		observeDuration(e)
	case eventbus.EventPlanFailed:
		Plans.WithLabelValues("failed").Inc()
		PlanFailures.WithLabelValues(eventbus.MetaString(e, "error_code"), eventbus.MetaString(e, "stage")).Inc()
		observeDuration(e)
	}
}

func observeDuration(e eventbus.Event) {
	ms := eventbus.MetaInt(e, "duration_ms")
	PlanDuration.Observe(time.Duration(ms * int(time.Millisecond)).Seconds())
}

// WritePrometheus writes the registry in the text exposition format.
func WritePrometheus(w io.Writer) error {
	families, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
