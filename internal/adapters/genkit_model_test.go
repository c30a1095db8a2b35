package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ nomadly.ModelClient = (*GenkitModel)(nil)

type recordingBackend struct {
	mu       sync.Mutex
	requests []nomadly.CompletionRequest
	resp     *nomadly.CompletionResponse
	err      error
}

func (b *recordingBackend) CreateCompletion(ctx context.Context, req nomadly.CompletionRequest) (*nomadly.CompletionResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	return b.resp, b.err
}

func (b *recordingBackend) last(t *testing.T) nomadly.CompletionRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests)
	return b.requests[len(b.requests)-1]
}

func toolDef(name string, required ...string) nomadly.ToolDefinition {
	return nomadly.ToolDefinition{Type: "function", Function: nomadly.FunctionDefinition{
		Name:        name,
		Description: name + " lookup",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": required,
		},
	}}
}

var genkitDefs = []nomadly.ToolDefinition{
	toolDef("get_search_keyword", "keyword"),
	toolDef("get_detail_common", "content_id"),
	toolDef("get_location_based_list", "map_x", "map_y", "radius"),
}

func newGenkitModel(t *testing.T, backend nomadly.ModelClient) *GenkitModel {
	t.Helper()
	m, err := NewGenkitModel(context.Background(), backend, genkitDefs)
	require.NoError(t, err)
	return m
}

func TestGenkitModel_ForcedRoundReturnsToolRequests(t *testing.T) {
	backend := &recordingBackend{resp: &nomadly.CompletionResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []nomadly.Choice{{FinishReason: "tool_calls", Message: nomadly.Message{
			Role: nomadly.RoleAssistant,
			ToolCalls: []nomadly.ToolCall{
				{ID: "call_1", Type: "function", Function: nomadly.FunctionCall{Name: "get_search_keyword", Arguments: `{"keyword":"부산"}`}},
				{ID: "call_2", Type: "function", Function: nomadly.FunctionCall{Name: "get_detail_common", Arguments: `{"content_id":`}},
			},
		}}},
		Usage: nomadly.Usage{PromptTokens: 100, CompletionTokens: 12, TotalTokens: 112},
	}}
	m := newGenkitModel(t, backend)

	resp, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages: []nomadly.Message{
			{Role: nomadly.RoleSystem, Content: "plan trips"},
			{Role: nomadly.RoleUser, Content: "부산 2일"},
		},
		Tools:      genkitDefs,
		ToolChoice: nomadly.ToolChoiceRequired,
	})
	require.NoError(t, err)

	sent := backend.last(t)
	assert.Equal(t, nomadly.ToolChoiceRequired, sent.ToolChoice)
	assert.Equal(t, genkitDefs, sent.Tools, "catalog schemas in declaration order")
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, nomadly.RoleSystem, sent.Messages[0].Role)
	assert.Equal(t, "부산 2일", sent.Messages[1].Content)

	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	require.Len(t, msg.ToolCalls, 2)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "부산", msg.ToolCalls[0].DecodeArguments()["keyword"])
	// malformed arguments reach the executor untouched
	assert.Equal(t, `{"content_id":`, msg.ToolCalls[1].Function.Arguments)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, 112, resp.Usage.TotalTokens)
	assert.Equal(t, 100, resp.Usage.PromptTokens)
}

func TestGenkitModel_ConversationRoundTrip(t *testing.T) {
	backend := &recordingBackend{resp: &nomadly.CompletionResponse{Choices: []nomadly.Choice{{
		Message: nomadly.Message{Role: nomadly.RoleAssistant, Content: "충분합니다."},
	}}}}
	m := newGenkitModel(t, backend)

	history := []nomadly.Message{
		{Role: nomadly.RoleUser, Content: "부산"},
		{Role: nomadly.RoleAssistant, ToolCalls: []nomadly.ToolCall{
			{ID: "call_1", Type: "function", Function: nomadly.FunctionCall{Name: "get_search_keyword", Arguments: `{"keyword":"부산"}`}},
			{ID: "call_2", Type: "function", Function: nomadly.FunctionCall{Name: "get_detail_common", Arguments: `{"content_id":1}`}},
		}},
		nomadly.NewToolMessage("call_1", "get_search_keyword", `{"items":[]}`),
		nomadly.NewToolMessage("call_2", "get_detail_common", `{"error":"요청 파라미터를 확인하세요."}`),
	}
	resp, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages:   history,
		Tools:      genkitDefs[:1],
		ToolChoice: nomadly.ToolChoiceAuto,
	})
	require.NoError(t, err)

	sent := backend.last(t)
	assert.Equal(t, history, sent.Messages)
	require.Len(t, sent.Tools, 1)
	assert.Equal(t, "get_search_keyword", sent.Tools[0].Function.Name)

	msg, ok := resp.FirstMessage()
	require.True(t, ok)
	assert.Equal(t, "충분합니다.", msg.Content)
	assert.Empty(t, msg.ToolCalls)
}

func TestGenkitModel_FinalTurnSendsNoTools(t *testing.T) {
	backend := &recordingBackend{resp: &nomadly.CompletionResponse{Choices: []nomadly.Choice{{
		Message: nomadly.Message{Role: nomadly.RoleAssistant, Content: `{"plan":[]}`},
	}}}}
	m := newGenkitModel(t, backend)

	_, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages:   []nomadly.Message{{Role: nomadly.RoleUser, Content: "final"}},
		Tools:      genkitDefs,
		ToolChoice: nomadly.ToolChoiceNone,
	})
	require.NoError(t, err)

	sent := backend.last(t)
	assert.Equal(t, nomadly.ToolChoiceNone, sent.ToolChoice)
	assert.Empty(t, sent.Tools)
}

func TestGenkitModel_NoChoices(t *testing.T) {
	m := newGenkitModel(t, &recordingBackend{resp: &nomadly.CompletionResponse{ID: "empty"}})

	resp, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages: []nomadly.Message{{Role: nomadly.RoleUser, Content: "x"}},
	})
	require.NoError(t, err)
	_, ok := resp.FirstMessage()
	assert.False(t, ok)
}

func TestGenkitModel_BackendErrorKeepsCode(t *testing.T) {
	cause := nomadly.NewResourceError("model", "chat completion request failed", errors.New("connection refused"))
	m := newGenkitModel(t, &recordingBackend{err: cause})

	_, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages: []nomadly.Message{{Role: nomadly.RoleUser, Content: "x"}},
	})
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeResource), "got %v", err)
}

func TestGenkitModel_UnknownTool(t *testing.T) {
	m := newGenkitModel(t, &recordingBackend{})

	_, err := m.CreateCompletion(context.Background(), nomadly.CompletionRequest{
		Messages:   []nomadly.Message{{Role: nomadly.RoleUser, Content: "x"}},
		Tools:      []nomadly.ToolDefinition{toolDef("get_weather")},
		ToolChoice: nomadly.ToolChoiceAuto,
	})
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration), "got %v", err)
}

func TestNewGenkitModel_RejectsDuplicates(t *testing.T) {
	_, err := NewGenkitModel(context.Background(), &recordingBackend{},
		[]nomadly.ToolDefinition{toolDef("a"), toolDef("a")})
	assert.True(t, nomadly.IsCode(err, nomadly.ErrCodeConfiguration))

	_, err = NewGenkitModel(context.Background(), nil, nil)
	assert.Error(t, err)
}
