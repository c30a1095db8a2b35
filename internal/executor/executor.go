package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/classify"
	"github.com/StrawberryAcai/Nomadly.backend/internal/paging"
	"github.com/StrawberryAcai/Nomadly.backend/internal/tourapi"
	"github.com/sourcegraph/conc/pool"
)

// Outcome labels passed to a CallObserver.
const (
	OutcomeSuccess     = "success"
	OutcomeCacheHit    = "cache_hit"
	OutcomeFailure     = "failure"
	OutcomeUnsupported = "unsupported"
)

// CallObserver is told about every dispatched tool call.
type CallObserver func(tool, outcome string, duration time.Duration)

// ToolExecutor runs the tool calls of one plan run.
type ToolExecutor struct {
	toolRegistry map[string]nomadly.Tool
	cache        nomadly.Cache
	client       io.Closer
	allowed      map[string]bool

	maxWorkers  int
	pageLimit   int
	execTimeout time.Duration

	logger   *slog.Logger
	observer CallObserver
	metrics  ExecutorMetrics

	closeOnce sync.Once
	closeErr  error
}

// ExecutorOption represents an option for configuring the ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// WithMaxConcurrency bounds how many calls of one response run at once.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(e *ToolExecutor) {
		if n > 0 {
			e.maxWorkers = n
		}
	}
}

// WithAllowedTools restricts dispatch to names. An empty list allows every
// registered tool.
func WithAllowedTools(names []string) ExecutorOption {
	return func(e *ToolExecutor) {
		if len(names) == 0 {
			e.allowed = nil
			return
		}
		e.allowed = make(map[string]bool, len(names))
		for _, n := range names {
			e.allowed[n] = true
		}
	}
}

// WithPageLimit sets the default page budget of RunPaged.
func WithPageLimit(pages int) ExecutorOption {
	return func(e *ToolExecutor) {
		if pages > 0 {
			e.pageLimit = pages
		}
	}
}

// WithExecTimeout bounds a single tool call.
func WithExecTimeout(timeout time.Duration) ExecutorOption {
	return func(e *ToolExecutor) {
		e.execTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) {
		e.logger = logger
	}
}

// WithCallObserver registers fn to be told about every dispatch.
func WithCallObserver(fn CallObserver) ExecutorOption {
	return func(e *ToolExecutor) {
		e.observer = fn
	}
}

// New creates an executor over toolRegistry. cache may be nil; client is
// closed by Close and may also be nil.
func New(toolRegistry map[string]nomadly.Tool, cache nomadly.Cache, client io.Closer, options ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{
		toolRegistry: toolRegistry,
		cache:        cache,
		client:       client,
		maxWorkers:   4,
		pageLimit:    3,
		logger:       slog.Default(),
	}

	for _, option := range options {
		option(e)
	}

	if len(e.toolRegistry) == 0 {
		e.logger.Warn("tool executor initialized with an empty tool registry")
	}
	return e
}

func (e *ToolExecutor) lookup(name string) (nomadly.Tool, bool) {
	if e.allowed != nil && !e.allowed[name] {
		return nil, false
	}
	tool, ok := e.toolRegistry[name]
	return tool, ok
}

// Dispatch runs one tool call. Results are served from the cache when
// fresh and stored after a successful call. Every failure is returned as a
// *classify.Error.
func (e *ToolExecutor) Dispatch(ctx context.Context, name string, args map[string]interface{}) (map[string]interface{}, error) {
	e.metrics.update(func(m *ExecutorMetrics) { m.CallsDispatched++ })
	if args == nil {
		args = map[string]interface{}{}
	}

	tool, ok := e.lookup(name)
	if !ok {
		e.metrics.update(func(m *ExecutorMetrics) { m.UnsupportedCalls++ })
		e.observe(name, OutcomeUnsupported, 0)
		e.logger.Warn("unsupported tool requested", "tool", name)
		return nil, classify.Unsupported(name)
	}

	if e.cache != nil {
		if cached, hit := e.cache.Get(ctx, name, args); hit {
			if result, ok := cached.(map[string]interface{}); ok {
				e.metrics.update(func(m *ExecutorMetrics) { m.CacheHits++ })
				e.observe(name, OutcomeCacheHit, 0)
				return result, nil
			}
		}
	}

	callCtx := ctx
	if e.execTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.execTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := tool.Execute(callCtx, args)
	duration := time.Since(start)
	e.metrics.recordCall(duration, err)

	if err != nil {
		classified := classify.Classify(err)
		e.observe(name, OutcomeFailure, duration)
		e.logger.Warn("tool call failed",
			"tool", name,
			"code", nomadly.ErrCodeUpstreamTool,
			"error", err,
			"message", classified.Message,
			"duration", duration)
		return nil, classified
	}

	e.observe(name, OutcomeSuccess, duration)
	if e.cache != nil {
		e.cache.Set(ctx, name, args, result)
	}
	return result, nil
}

func (e *ToolExecutor) observe(tool, outcome string, d time.Duration) {
	if e.observer != nil {
		e.observer(tool, outcome, d)
	}
}

// ConsumeToolCalls runs every call in msg concurrently and returns one tool
// message per call, in call order. A failing call yields {"error": ...}
// content and never affects its siblings. The only error returned is the
// context's.
func (e *ToolExecutor) ConsumeToolCalls(ctx context.Context, msg nomadly.Message) ([]nomadly.Message, error) {
	calls := msg.ToolCalls
	results := make([]nomadly.Message, len(calls))
	if len(calls) == 0 {
		return results, nil
	}

	p := pool.New().WithMaxGoroutines(e.maxWorkers)
	for i, call := range calls {
		p.Go(func() {
			results[i] = e.runCall(ctx, call)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *ToolExecutor) runCall(ctx context.Context, call nomadly.ToolCall) nomadly.Message {
	name := call.Function.Name
	result, err := e.Dispatch(ctx, name, call.DecodeArguments())

	var content string
	if err != nil {
		content = encodeJSON(map[string]string{"error": classify.Message(err)})
	} else {
		content = encodeJSON(result)
	}
	return nomadly.NewToolMessage(call.ID, name, content)
}

// encodeJSON renders v without HTML escaping; it falls back to the generic
// error envelope when v cannot be encoded.
func encodeJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `{"error":"` + classify.MsgGeneric + `"}`
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

// RunPaged dispatches name page by page and flattens response.body.items.item
// across pages. maxPages <= 0 uses the executor's page limit.
func (e *ToolExecutor) RunPaged(ctx context.Context, name string, args map[string]interface{}, maxPages int) ([]map[string]interface{}, error) {
	if maxPages <= 0 {
		maxPages = e.pageLimit
	}
	opts := paging.DefaultOptions()
	opts.MaxPages = maxPages

	collected := []map[string]interface{}{}
	for page, err := range paging.Pages(ctx, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return e.Dispatch(ctx, name, params)
	}, args, opts) {
		if err != nil {
			return nil, err
		}
		collected = append(collected, tourapi.Items(page)...)
	}
	return collected, nil
}

// Stats returns a snapshot of the dispatch counters.
func (e *ToolExecutor) Stats() ExecutorMetrics {
	return e.metrics.Copy()
}

// Close releases the external client. It is safe to call more than once.
func (e *ToolExecutor) Close() error {
	e.closeOnce.Do(func() {
		stats := e.Stats()
		e.logger.Debug("tool executor closed",
			"dispatched", stats.CallsDispatched,
			"cache_hits", stats.CacheHits,
			"failed", stats.CallsFailed,
			"unsupported", stats.UnsupportedCalls)
		if e.client != nil {
			e.closeErr = e.client.Close()
		}
	})
	return e.closeErr
}
