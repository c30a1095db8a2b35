// Package app wires configuration into a ready planner: the model adapter,
// the tool catalog, the shared cache and rate limiter, and one tool
// session per plan run.
package app

import (
	"context"
	"log/slog"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/adapters"
	"github.com/StrawberryAcai/Nomadly.backend/internal/cache"
	"github.com/StrawberryAcai/Nomadly.backend/internal/config"
	"github.com/StrawberryAcai/Nomadly.backend/internal/executor"
	"github.com/StrawberryAcai/Nomadly.backend/internal/metrics"
	"github.com/StrawberryAcai/Nomadly.backend/internal/tools"
	"github.com/StrawberryAcai/Nomadly.backend/internal/tourapi"
	"golang.org/x/time/rate"
)

// Toolbox owns the tour-data side: the offered specs plus the cache and
// rate limiter shared by every executor it opens.
type Toolbox struct {
	cfg     *config.Config
	logger  *slog.Logger
	specs   []*tools.Spec
	cache   *cache.TTLCache
	limiter *rate.Limiter
}

// NewToolbox selects the allowed specs from catalog, or from the embedded
// catalog when it is nil.
func NewToolbox(cfg *config.Config, logger *slog.Logger, catalog *tools.Catalog) (*Toolbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		c, err := tools.Default()
		if err != nil {
			return nil, nomadly.NewConfigurationError("failed to load tool catalog", err)
		}
		catalog = c
	}
	specs, err := catalog.Subset(cfg.Planner.AllowedTools)
	if err != nil {
		return nil, nomadly.NewConfigurationError("invalid planner.allowed_tools", err)
	}

	tb := &Toolbox{
		cfg:    cfg,
		logger: logger,
		specs:  specs,
		cache:  cache.NewTTLCache(cfg.Cache.TTL, cache.WithLogger(logger)),
	}
	if cfg.RateLimit.RPS > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		tb.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), burst)
	}
	return tb, nil
}

// Specs returns the tool specs offered to the model.
func (tb *Toolbox) Specs() []*tools.Spec { return tb.specs }

// Definitions returns the model-facing declarations of Specs.
func (tb *Toolbox) Definitions() []nomadly.ToolDefinition { return tools.Definitions(tb.specs) }

// NewExecutor opens a tool executor over a fresh tour-data client. The
// caller must Close it.
func (tb *Toolbox) NewExecutor(ctx context.Context) (*executor.ToolExecutor, error) {
	client, err := tourapi.New(tourapi.Config{
		ServiceKey: tb.cfg.TourAPI.ServiceKey,
		BaseURL:    tb.cfg.TourAPI.BaseURL,
		AppName:    tb.cfg.TourAPI.AppName,
		Timeout:    tb.cfg.TourAPI.Timeout,
	}, tourapi.WithLimiter(tb.limiter), tourapi.WithLogger(tb.logger))
	if err != nil {
		return nil, err
	}

	return executor.New(
		adapters.NewTourTools(tb.specs, client),
		tb.cache,
		client,
		executor.WithMaxConcurrency(tb.cfg.Planner.MaxConcurrency),
		executor.WithAllowedTools(tb.cfg.Planner.AllowedTools),
		executor.WithPageLimit(tb.cfg.Planner.PageLimit),
		executor.WithExecTimeout(tb.cfg.Planner.ToolTimeout),
		executor.WithLogger(tb.logger),
		executor.WithCallObserver(metrics.ObserveToolCall),
	), nil
}

func (tb *Toolbox) openSession(ctx context.Context) (nomadly.ToolSession, error) {
	exec, err := tb.NewExecutor(ctx)
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// App owns the long-lived pieces shared by every plan run.
type App struct {
	*Toolbox

	catalog *tools.Catalog
	model   nomadly.ModelClient
	planner *nomadly.Planner
}

type Option func(*App)

// WithModel replaces the OpenAI adapter.
func WithModel(model nomadly.ModelClient) Option {
	return func(a *App) {
		a.model = model
	}
}

// WithCatalog replaces the embedded tool catalog.
func WithCatalog(catalog *tools.Catalog) Option {
	return func(a *App) {
		a.catalog = catalog
	}
}

// New builds the application from cfg. It does not validate cfg; callers
// that need both API keys run cfg.Validate first.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	for _, opt := range opts {
		opt(a)
	}

	tb, err := NewToolbox(cfg, logger, a.catalog)
	if err != nil {
		return nil, err
	}
	a.Toolbox = tb

	if a.model == nil {
		chat, err := adapters.NewOpenAIChat(adapters.OpenAIConfig{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			Organization: cfg.OpenAI.Organization,
			Project:      cfg.OpenAI.Project,
			Timeout:      cfg.OpenAI.Timeout(),
		}, adapters.WithChatLogger(logger))
		if err != nil {
			return nil, err
		}
		a.model = chat
	}

	// every turn goes through genkit; tool requests come back unexecuted
	model, err := adapters.NewGenkitModel(context.Background(), a.model, tb.Definitions())
	if err != nil {
		return nil, err
	}

	planner, err := nomadly.New(
		nomadly.WithConfig(cfg.PlannerConfig()),
		nomadly.WithModel(model),
		nomadly.WithToolSessions(tb.openSession),
		nomadly.WithToolDefinitions(tb.Definitions()),
		nomadly.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	a.planner = planner

	if bus := planner.EventBus(); bus != nil {
		if _, err := metrics.Observe(bus); err != nil {
			logger.Warn("plan metrics disabled", "error", err)
		}
	}

	logger.Info("planner ready",
		"tools", len(tb.specs),
		"max_tool_rounds", cfg.Planner.MaxToolRounds,
		"cache_ttl", cfg.Cache.TTL,
		"rate_limit_rps", cfg.RateLimit.RPS)
	return a, nil
}

// Planner returns the shared planner.
func (a *App) Planner() *nomadly.Planner { return a.planner }

// Close releases the planner's event bus.
func (a *App) Close() error {
	return a.planner.Close()
}
