package nomadly

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/StrawberryAcai/Nomadly.backend/internal/eventbus"
)

// PlannerComponents holds what the transitions of one run need.
type PlannerComponents struct {
	Model       ModelClient
	Tools       ToolSession
	Definitions []ToolDefinition
	Config      Config
	Logger      *slog.Logger
}

// CreatePlanStateMachine registers the transitions of the plan protocol.
func CreatePlanStateMachine(components PlannerComponents, eventBus eventbus.EventBus) *StateMachine {
	if components.Logger == nil {
		components.Logger = slog.Default()
	}
	if components.Config.MaxToolRounds < 1 {
		components.Config.MaxToolRounds = DefaultMaxToolRounds
	}

	sm := NewStateMachine(eventBus)
	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StateForcedToolRound, createForcedRoundTransition(components))
	sm.RegisterTransition(StateFreeToolRounds, createFreeRoundTransition(components))
	sm.RegisterTransition(StateFinalAnswer, createFinalAnswerTransition(components))
	sm.RegisterTransition(StateValidateRepair, createValidateRepairTransition(components))
	return sm
}

func createInitTransition(c PlannerComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *PlanContext) (PlanState, error) {
		hint := pCtx.Timezone
		if strings.TrimSpace(hint) == "" {
			hint = c.Config.DefaultTimezone
		}
		pCtx.Location, pCtx.Timezone = ResolveLocation(hint)

		opening, err := buildOpeningConversation(pCtx.Request, pCtx.Timezone)
		if err != nil {
			return StateError, err
		}
		pCtx.Append(opening...)

		publish(ctx, eb, eventbus.EventPlanStarted, pCtx.Request.Destination, "StateMachine.Init", map[string]interface{}{
			"run_id":   pCtx.RunID,
			"timezone": pCtx.Timezone,
		})
		return StateForcedToolRound, nil
	}
}

func createForcedRoundTransition(c PlannerComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *PlanContext) (PlanState, error) {
		msg, err := requestTurn(ctx, c, eb, pCtx, ToolChoiceRequired)
		if err != nil {
			return StateError, err
		}
		if len(msg.ToolCalls) == 0 {
			return StateError, NewProtocolViolationError(string(StateForcedToolRound), "model did not call any tools; tool usage is mandatory")
		}
		if err := runToolRound(ctx, c, eb, pCtx, msg); err != nil {
			return StateError, err
		}
		return StateFreeToolRounds, nil
	}
}

func createFreeRoundTransition(c PlannerComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *PlanContext) (PlanState, error) {
		if pCtx.ToolRounds >= c.Config.MaxToolRounds {
			return StateFinalAnswer, nil
		}
		msg, err := requestTurn(ctx, c, eb, pCtx, ToolChoiceAuto)
		if err != nil {
			return StateError, err
		}
		if len(msg.ToolCalls) == 0 {
			return StateFinalAnswer, nil
		}
		if err := runToolRound(ctx, c, eb, pCtx, msg); err != nil {
			return StateError, err
		}
		return StateFreeToolRounds, nil
	}
}

func createFinalAnswerTransition(c PlannerComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *PlanContext) (PlanState, error) {
		pCtx.Append(Message{Role: RoleSystem, Content: FinalAnswerInstruction})

		msg, err := requestTurn(ctx, c, eb, pCtx, ToolChoiceNone)
		if err != nil {
			return StateError, err
		}
		pCtx.FinalContent = msg.Content

		var draft map[string]interface{}
		if err := json.Unmarshal([]byte(msg.Content), &draft); err != nil {
			return StateError, NewMalformedOutputError(err)
		}
		if draft == nil {
			return StateError, NewMalformedOutputError(errors.New("final answer is JSON null"))
		}
		pCtx.Draft = draft

		publish(ctx, eb, eventbus.EventFinalAnswerReceived, nil, "StateMachine.FinalAnswer", map[string]interface{}{
			"run_id":      pCtx.RunID,
			"tool_rounds": pCtx.ToolRounds,
		})
		return StateValidateRepair, nil
	}
}

func createValidateRepairTransition(c PlannerComponents) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *PlanContext) (PlanState, error) {
		resp, report, err := RepairPlan(pCtx.Draft, pCtx.Request, pCtx.Location)
		if err != nil {
			return StateError, err
		}
		pCtx.Response = resp
		pCtx.Repairs = report

		if report.Changed() {
			c.Logger.Info("plan repaired",
				"run_id", pCtx.RunID,
				"truncated_days", report.TruncatedDays,
				"filled_days", report.FilledDays,
				"fixed_times", report.FixedTimes,
				"marked_places", report.MarkedPlaces)
			publish(ctx, eb, eventbus.EventPlanRepaired, report, "StateMachine.ValidateRepair", map[string]interface{}{
				"run_id":         pCtx.RunID,
				"truncated_days": report.TruncatedDays,
				"filled_days":    report.FilledDays,
				"fixed_times":    report.FixedTimes,
				"marked_places":  report.MarkedPlaces,
			})
		}
		return StateDone, nil
	}
}

// requestTurn sends the conversation so far and returns choices[0].message.
func requestTurn(ctx context.Context, c PlannerComponents, eb eventbus.EventBus, pCtx *PlanContext, choice ToolChoice) (Message, error) {
	req := CompletionRequest{
		Messages:   append([]Message(nil), pCtx.Conversation...),
		ToolChoice: choice,
	}
	if choice != ToolChoiceNone {
		req.Tools = c.Definitions
	}

	stage := string(pCtx.CurrentState)
	resp, err := c.Model.CreateCompletion(ctx, req)
	if err != nil {
		publish(ctx, eb, eventbus.EventModelRequestFailed, err.Error(), "StateMachine.Model", map[string]interface{}{
			"run_id":      pCtx.RunID,
			"tool_choice": string(choice),
			"stage":       stage,
		})
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		var pe *PlanError
		if errors.As(err, &pe) {
			return Message{}, err
		}
		return Message{}, NewResourceError(stage, "language model request failed", err)
	}

	msg, ok := resp.FirstMessage()
	if !ok {
		return Message{}, NewResourceError(stage, "language model returned no choices", nil)
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}

	publish(ctx, eb, eventbus.EventModelRequestSucceeded, nil, "StateMachine.Model", map[string]interface{}{
		"run_id":            pCtx.RunID,
		"tool_choice":       string(choice),
		"tool_calls":        len(msg.ToolCalls),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
	return msg, nil
}

// runToolRound executes one assistant turn's tool calls and appends the
// assistant turn followed by its tool results.
func runToolRound(ctx context.Context, c PlannerComponents, eb eventbus.EventBus, pCtx *PlanContext, msg Message) error {
	results, err := c.Tools.ConsumeToolCalls(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return NewResourceError(string(pCtx.CurrentState), "tool execution failed", err)
	}

	pCtx.Append(msg)
	pCtx.Append(results...)
	pCtx.ToolRounds++
	pCtx.ToolCalls += len(msg.ToolCalls)

	failed := 0
	for _, r := range results {
		if reason, ok := toolErrorReason(r.Content); ok {
			failed++
			publish(ctx, eb, eventbus.EventToolCallFailed, reason, "StateMachine.Tools", map[string]interface{}{
				"run_id": pCtx.RunID,
				"tool":   r.Name,
			})
		}
	}

	c.Logger.Debug("tool round completed",
		"run_id", pCtx.RunID,
		"round", pCtx.ToolRounds,
		"calls", len(msg.ToolCalls),
		"failed", failed)
	publish(ctx, eb, eventbus.EventToolRoundCompleted, nil, "StateMachine.Tools", map[string]interface{}{
		"run_id": pCtx.RunID,
		"round":  pCtx.ToolRounds,
		"calls":  len(msg.ToolCalls),
		"failed": failed,
	})
	return nil
}

// toolErrorReason extracts the message of an {"error": ...} tool result.
func toolErrorReason(content string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(content), "{") {
		return "", false
	}
	var envelope struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil || envelope.Error == nil {
		return "", false
	}
	return *envelope.Error, true
}

// publish emits an event without letting request cancellation drop it.
func publish(ctx context.Context, eb eventbus.EventBus, eventType eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	evt := eventbus.NewEvent(eventType, payload, source, metadata)
	if err := eb.Publish(context.WithoutCancel(ctx), evt); err != nil {
		slog.Debug(fmt.Sprintf("dropping %s event", eventType), "error", err)
	}
}
