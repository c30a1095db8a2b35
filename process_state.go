package nomadly

import (
	"context"
	"fmt"
	"time"

	"github.com/StrawberryAcai/Nomadly.backend/internal/eventbus"
)

// PlanState represents the current state of one plan run.
type PlanState string

const (
	// StateInit builds the opening conversation.
	StateInit PlanState = "init"
	// StateForcedToolRound is round 0, where the model must call tools.
	StateForcedToolRound PlanState = "forced_tool_round"
	// StateFreeToolRounds are the optional follow-up rounds.
	StateFreeToolRounds PlanState = "free_tool_rounds"
	// StateFinalAnswer asks for the itinerary JSON with tools disabled.
	StateFinalAnswer PlanState = "final_answer"
	// StateValidateRepair normalizes the model's JSON.
	StateValidateRepair PlanState = "validate_repair"
	// StateDone is the successful terminal state.
	StateDone PlanState = "done"
	// StateError absorbs any fatal failure.
	StateError PlanState = "error"
	// StateCancelled is entered when the context ends mid-run.
	StateCancelled PlanState = "cancelled"
)

// PlanContext carries everything one run reads and writes.
// It is owned by a single run and never shared.
type PlanContext struct {
	RunID    string
	Request  PlanRequest
	Timezone string
	Location *time.Location

	// Conversation is append-only for the life of the run.
	Conversation []Message
	ToolRounds   int
	ToolCalls    int

	FinalContent string
	Draft        map[string]interface{}
	Response     *PlanResponse
	Repairs      RepairReport

	LastError  error
	ErrorStage string

	CurrentState    PlanState
	History         []PlanState
	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[PlanState]time.Time
}

// NewPlanContext creates a context positioned at StateInit.
func NewPlanContext(runID string, req PlanRequest, timezoneHint string) *PlanContext {
	now := time.Now()
	return &PlanContext{
		RunID:           runID,
		Request:         req,
		Timezone:        timezoneHint,
		CurrentState:    StateInit,
		History:         []PlanState{StateInit},
		StartTime:       now,
		StateStartTimes: map[PlanState]time.Time{StateInit: now},
	}
}

// Append adds messages to the conversation.
func (pc *PlanContext) Append(msgs ...Message) {
	pc.Conversation = append(pc.Conversation, msgs...)
}

func (pc *PlanContext) enter(state PlanState) {
	pc.CurrentState = state
	pc.History = append(pc.History, state)
	pc.StateStartTimes[state] = time.Now()
}

// IsTerminal reports whether the run has finished.
func (pc *PlanContext) IsTerminal() bool {
	return pc.CurrentState == StateDone || pc.CurrentState == StateError || pc.CurrentState == StateCancelled
}

// SetError records a fatal error and moves to StateError.
func (pc *PlanContext) SetError(err error, stage string) {
	pc.LastError = err
	pc.ErrorStage = stage
	pc.enter(StateError)
	pc.EndTime = time.Now()
}

// SetCancelled records the cancellation and moves to StateCancelled.
func (pc *PlanContext) SetCancelled(err error, stage string) {
	pc.LastError = NewCancelledError(stage, err)
	pc.ErrorStage = stage
	pc.enter(StateCancelled)
	pc.EndTime = time.Now()
}

// Complete marks the run as done.
func (pc *PlanContext) Complete() {
	pc.enter(StateDone)
	pc.EndTime = pc.StateStartTimes[StateDone]
}

// Duration returns the elapsed run time.
func (pc *PlanContext) Duration() time.Duration {
	if pc.IsTerminal() && !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition runs one state and returns the next.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *PlanContext) (PlanState, error)

// StateMachine is a finite state machine over PlanState.
type StateMachine struct {
	transitions map[PlanState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates an empty state machine.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[PlanState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers the transition run while in state.
func (sm *StateMachine) RegisterTransition(state PlanState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs transitions until the context reaches a terminal state.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *PlanContext) (*PlanResponse, error) {
	for !pCtx.IsTerminal() {
		select {
		case <-ctx.Done():
			pCtx.SetCancelled(ctx.Err(), string(pCtx.CurrentState))
			return nil, pCtx.LastError
		default:
		}

		transition, exists := sm.transitions[pCtx.CurrentState]
		if !exists {
			stage := string(pCtx.CurrentState)
			pCtx.SetError(NewInternalError(stage, fmt.Sprintf("no transition defined for state: %s", stage), nil), stage)
			break
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			stage := string(pCtx.CurrentState)
			// a transport timeout wraps DeadlineExceeded too; only the run's
			// own context decides cancellation
			if ctx.Err() != nil {
				pCtx.SetCancelled(ctx.Err(), stage)
			} else if !pCtx.IsTerminal() {
				pCtx.SetError(err, stage)
			}
			continue
		}

		if nextState == StateDone {
			pCtx.Complete()
			continue
		}
		if !pCtx.IsTerminal() {
			pCtx.enter(nextState)
		}
	}

	if pCtx.CurrentState != StateDone {
		return nil, pCtx.LastError
	}
	return pCtx.Response, nil
}
