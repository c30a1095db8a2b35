package nomadly

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolChoice is the tool-calling policy for one model turn.
type ToolChoice string

const (
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone disables tool calling; tools are not sent at all.
	ToolChoiceNone ToolChoice = "none"
)

// Message is one role-tagged turn of the conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured request from the model to run a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments parses the JSON arguments. Malformed or empty input
// yields an empty map so the call can still be dispatched and reported.
func (tc ToolCall) DecodeArguments() map[string]interface{} {
	args := map[string]interface{}{}
	raw := strings.TrimSpace(tc.Function.Arguments)
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]interface{}{}
	}
	return args
}

// NewToolMessage builds the tool-result message fed back to the model.
func NewToolMessage(callID, name, content string) Message {
	return Message{Role: RoleTool, ToolCallID: callID, Name: name, Content: content}
}

// ToolDefinition is an OpenAI-style function tool declaration.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a tool's name and JSON-Schema parameters.
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// CompletionRequest is one call to the language model.
type CompletionRequest struct {
	Messages   []Message
	Tools      []ToolDefinition
	ToolChoice ToolChoice
}

// CompletionResponse mirrors the chat-completions response body.
type CompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one candidate completion.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FirstMessage returns choices[0].message.
func (r *CompletionResponse) FirstMessage() (Message, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Message{}, false
	}
	return r.Choices[0].Message, true
}

// Budget presets accepted in a PlanRequest.
const (
	BudgetLow    = "low"
	BudgetMedium = "medium"
	BudgetHigh   = "high"
)

// DateLayout is the calendar-date layout used by requests and responses.
const DateLayout = "2006-01-02"

// PlanRequest is the immutable input of one plan generation.
type PlanRequest struct {
	Destination   string   `json:"destination"`
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	Interests     []string `json:"interests"`
	Purpose       string   `json:"purpose"`
	Activeness    bool     `json:"activeness"`
	BudgetDetail  int      `json:"budget_detail"`
	BudgetPreset  string   `json:"budget_preset"`
	Companies     string   `json:"companies"`
	PreferredTime string   `json:"preferred_time"`
	Bookmarked    []string `json:"bookmarked"`
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Normalize returns a copy with trimmed interests and a non-nil bookmark list.
func (r PlanRequest) Normalize() PlanRequest {
	out := r
	out.Interests = make([]string, len(r.Interests))
	for i, s := range r.Interests {
		out.Interests[i] = strings.TrimSpace(s)
	}
	out.Bookmarked = append([]string{}, r.Bookmarked...)
	return out
}

// Validate checks the fields the orchestrator depends on.
func (r PlanRequest) Validate() error {
	if strings.TrimSpace(r.Destination) == "" {
		return NewValidationError("request", "destination is required", nil)
	}
	if !datePattern.MatchString(r.StartDate) || !datePattern.MatchString(r.EndDate) {
		return NewValidationError("request", "start_date and end_date must be yyyy-mm-dd", nil)
	}
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return NewValidationError("request", "invalid start_date", err)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return NewValidationError("request", "invalid end_date", err)
	}
	if end.Before(start) {
		return NewValidationError("request", "end_date must not be before start_date", nil)
	}
	switch r.BudgetPreset {
	case "", BudgetLow, BudgetMedium, BudgetHigh:
	default:
		return NewValidationError("request", fmt.Sprintf("unknown budget_preset %q", r.BudgetPreset), nil)
	}
	return nil
}

// PlanItem is one scheduled activity.
type PlanItem struct {
	Todo  string `json:"todo"`
	Place string `json:"place"`
	Time  string `json:"time"`
}

// PlanResponse is the repaired itinerary; Plan[n] is day n+1.
type PlanResponse struct {
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Plan      [][]PlanItem `json:"plan"`
}
