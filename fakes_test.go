package nomadly

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// scriptedModel replays canned responses and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*CompletionResponse
	requests  []CompletionRequest
	err       error
}

func (m *scriptedModel) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, fmt.Errorf("no scripted response left")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// greedyModel asks for a tool on every turn where tools are allowed.
type greedyModel struct {
	mu       sync.Mutex
	requests []CompletionRequest
	final    string
}

func (m *greedyModel) CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if req.ToolChoice == ToolChoiceNone {
		return contentResponse(m.final), nil
	}
	return toolCallResponse(fmt.Sprintf("call_%d", len(m.requests)), "get_search_keyword", `{"keyword":"부산"}`), nil
}

type fakeSession struct {
	mu     sync.Mutex
	rounds int
	closed int
	fail   string
}

func (s *fakeSession) ConsumeToolCalls(ctx context.Context, msg Message) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds++
	out := make([]Message, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		content := `{"response":{"body":{"items":{"item":[{"title":"해운대"}]}}}}`
		if tc.Function.Name == s.fail {
			content = `{"error":"요청 파라미터를 확인하세요."}`
		}
		out = append(out, NewToolMessage(tc.ID, tc.Function.Name, content))
	}
	return out, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func toolCallResponse(id, name, args string) *CompletionResponse {
	return &CompletionResponse{Choices: []Choice{{Message: Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{{
			ID:       id,
			Type:     "function",
			Function: FunctionCall{Name: name, Arguments: args},
		}},
	}}}}
}

func contentResponse(content string) *CompletionResponse {
	return &CompletionResponse{Choices: []Choice{{Message: Message{Role: RoleAssistant, Content: content}}}}
}

func finalPlanJSON(days int) string {
	plan := make([][]PlanItem, days)
	for i := range plan {
		plan[i] = []PlanItem{{
			Todo:  "해변 산책",
			Place: "해운대 해수욕장 — 부산 해운대구 우동",
			Time:  fmt.Sprintf("2024-03-%02d-10-00", i+1),
		}}
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"start_date": "2024-03-01",
		"end_date":   "2024-03-03",
		"plan":       plan,
	})
	return string(raw)
}

func sampleRequest() PlanRequest {
	return PlanRequest{
		Destination:   "부산",
		StartDate:     "2024-03-01",
		EndDate:       "2024-03-03",
		Interests:     []string{" 바다 ", "맛집"},
		Purpose:       "휴식",
		BudgetDetail:  300000,
		BudgetPreset:  BudgetMedium,
		Companies:     "friends",
		PreferredTime: "morning",
	}
}

var testDefinitions = []ToolDefinition{{
	Type: "function",
	Function: FunctionDefinition{
		Name:       "get_search_keyword",
		Parameters: map[string]interface{}{"type": "object"},
	},
}}

func newTestPlanner(model ModelClient, session *fakeSession, opts ...Option) (*Planner, error) {
	cfg := DefaultConfig()
	cfg.EnableEventBus = false
	base := []Option{
		WithConfig(cfg),
		WithModel(model),
		WithToolDefinitions(testDefinitions),
		WithToolSessions(func(ctx context.Context) (ToolSession, error) { return session, nil }),
	}
	return New(append(base, opts...)...)
}
