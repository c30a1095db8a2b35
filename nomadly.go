// Package nomadly is the plan-synthesis engine: it runs the tool-calling
// protocol against a language model and repairs the itinerary it returns.
package nomadly

import (
	"context"
	"errors"
	"log/slog"

	"github.com/StrawberryAcai/Nomadly.backend/internal/eventbus"
	"github.com/google/uuid"
)

// DefaultMaxToolRounds is one forced round plus three free rounds.
const DefaultMaxToolRounds = 4

// Planner generates itineraries. It is safe for concurrent use; every call
// to GeneratePlan owns its own conversation and tool session.
type Planner struct {
	model       ModelClient
	openTools   ToolSessionFactory
	definitions []ToolDefinition
	eventBus    eventbus.EventBus
	ownsBus     bool
	logger      *slog.Logger

	config Config
}

// Config holds the planner's tunables.
type Config struct {
	// Total tool-calling rounds, the forced one included
	MaxToolRounds int

	// Used when the caller sends no timezone hint
	DefaultTimezone string

	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with the protocol's defaults.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds:       DefaultMaxToolRounds,
		DefaultTimezone:     "UTC",
		EnableEventBus:      true,
		EventBusBufferSize:  256,
		EventBusWorkerCount: 2,
	}
}

// Option is a function that configures a Planner.
type Option func(*Planner)

// WithConfig sets the planner configuration.
func WithConfig(config Config) Option {
	return func(p *Planner) {
		p.config = config
	}
}

// WithModel sets the language-model client.
func WithModel(model ModelClient) Option {
	return func(p *Planner) {
		p.model = model
	}
}

// WithToolSessions sets the factory that opens a tool session per run.
func WithToolSessions(factory ToolSessionFactory) Option {
	return func(p *Planner) {
		p.openTools = factory
	}
}

// WithToolDefinitions sets the tool declarations sent on every tool round.
func WithToolDefinitions(defs []ToolDefinition) Option {
	return func(p *Planner) {
		p.definitions = append([]ToolDefinition(nil), defs...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a Planner with the provided options.
func New(options ...Option) (*Planner, error) {
	p := &Planner{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, option := range options {
		option(p)
	}

	if p.model == nil {
		return nil, NewConfigurationError("model client is required", nil)
	}
	if p.openTools == nil {
		return nil, NewConfigurationError("tool session factory is required", nil)
	}
	if len(p.definitions) == 0 {
		return nil, NewConfigurationError("at least one tool definition is required", nil)
	}
	if p.config.MaxToolRounds < 1 {
		p.config.MaxToolRounds = DefaultMaxToolRounds
	}

	if p.config.EnableEventBus && p.eventBus == nil {
		p.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(p.config.EventBusBufferSize),
			eventbus.WithWorkerCount(p.config.EventBusWorkerCount),
			eventbus.WithLogger(p.logger),
		)
		p.ownsBus = true
	}
	return p, nil
}

// EventBus returns the bus plan events are published on, or nil.
func (p *Planner) EventBus() eventbus.EventBus {
	if !p.config.EnableEventBus {
		return nil
	}
	return p.eventBus
}

// ToolDefinitions returns the declarations passed to the model.
func (p *Planner) ToolDefinitions() []ToolDefinition {
	return append([]ToolDefinition(nil), p.definitions...)
}

// GeneratePlan runs the full protocol for one request. timezoneHint is an
// IANA zone name such as "Asia/Seoul"; empty or unknown values mean UTC.
// The tool session is closed on every return path.
func (p *Planner) GeneratePlan(ctx context.Context, req PlanRequest, timezoneHint string) (*PlanResponse, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	session, err := p.openTools(ctx)
	if err != nil {
		return nil, NewResourceError(string(StateInit), "failed to open tool session", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			p.logger.Warn("closing tool session failed", "error", cerr)
		}
	}()

	pCtx := NewPlanContext(uuid.New().String(), req, timezoneHint)
	sm := p.createStateMachine(session)
	resp, err := sm.Execute(ctx, pCtx)

	p.reportOutcome(ctx, pCtx, err)
	return resp, err
}

func (p *Planner) createStateMachine(session ToolSession) *StateMachine {
	return CreatePlanStateMachine(PlannerComponents{
		Model:       p.model,
		Tools:       session,
		Definitions: p.definitions,
		Config:      p.config,
		Logger:      p.logger,
	}, p.EventBus())
}

func (p *Planner) reportOutcome(ctx context.Context, pCtx *PlanContext, err error) {
	meta := map[string]interface{}{
		"run_id":      pCtx.RunID,
		"tool_rounds": pCtx.ToolRounds,
		"tool_calls":  pCtx.ToolCalls,
		"duration_ms": pCtx.Duration().Milliseconds(),
	}

	switch {
	case err == nil:
		p.logger.Info("plan generated",
			"run_id", pCtx.RunID,
			"days", len(pCtx.Response.Plan),
			"tool_rounds", pCtx.ToolRounds,
			"duration", pCtx.Duration())
		publish(ctx, p.EventBus(), eventbus.EventPlanCompleted, nil, "Planner.GeneratePlan", meta)
	case pCtx.CurrentState == StateCancelled:
		p.logger.Info("plan generation cancelled", "run_id", pCtx.RunID, "stage", pCtx.ErrorStage)
		publish(ctx, p.EventBus(), eventbus.EventPlanCancelled, nil, "Planner.GeneratePlan", meta)
	default:
		code := ErrCodeInternal
		var pe *PlanError
		if errors.As(err, &pe) {
			code = pe.Code
		}
		meta["error_code"] = code
		meta["stage"] = pCtx.ErrorStage
		p.logger.Error("plan generation failed",
			"run_id", pCtx.RunID,
			"stage", pCtx.ErrorStage,
			"code", code,
			"error", err)
		publish(ctx, p.EventBus(), eventbus.EventPlanFailed, err.Error(), "Planner.GeneratePlan", meta)
	}
}

// Close releases the event bus if the planner created it.
func (p *Planner) Close() error {
	if p.ownsBus && p.eventBus != nil {
		return p.eventBus.Close()
	}
	return nil
}
