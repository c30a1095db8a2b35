package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

const (
	genkitProvider  = "nomadly"
	genkitModelName = "chat"

	// metaArguments keeps the model's raw argument text on a tool request
	// part so malformed JSON survives the trip through genkit.
	metaArguments = "arguments"
)

// GenkitModel routes every turn through genkit.Generate. The chat backend
// is registered as a genkit model and each tool is registered as a
// declaration only: tool requests are always handed back to the caller,
// which runs them through its own executor.
type GenkitModel struct {
	g     *genkit.Genkit
	model ai.Model
	defs  map[string]nomadly.ToolDefinition
	order []string
}

// NewGenkitModel registers backend and defs in a fresh genkit instance.
func NewGenkitModel(ctx context.Context, backend nomadly.ModelClient, defs []nomadly.ToolDefinition) (*GenkitModel, error) {
	if backend == nil {
		return nil, nomadly.NewConfigurationError("genkit model needs a chat backend", nil)
	}
	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, nomadly.NewConfigurationError("failed to initialize genkit", err)
	}

	m := &GenkitModel{
		g:    g,
		defs: make(map[string]nomadly.ToolDefinition, len(defs)),
	}
	for _, def := range defs {
		name := def.Function.Name
		if _, dup := m.defs[name]; dup {
			return nil, nomadly.NewConfigurationError(fmt.Sprintf("duplicate tool %q", name), nil)
		}
		m.defs[name] = def
		m.order = append(m.order, name)
		genkit.DefineTool(g, name, def.Function.Description,
			func(ctx *ai.ToolContext, input map[string]any) (map[string]any, error) {
				return nil, fmt.Errorf("tool %s is dispatched by the executor", name)
			})
	}

	m.model = genkit.DefineModel(g, genkitProvider, genkitModelName, &ai.ModelInfo{
		Label: "Chat completions",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
			Tools:      true,
			ToolChoice: true,
		},
	}, m.generate(backend))
	return m, nil
}

// CreateCompletion implements nomadly.ModelClient.
func (m *GenkitModel) CreateCompletion(ctx context.Context, req nomadly.CompletionRequest) (*nomadly.CompletionResponse, error) {
	opts := []ai.GenerateOption{
		ai.WithModel(m.model),
		ai.WithMessages(toGenkitMessages(req.Messages)...),
		ai.WithReturnToolRequests(true),
	}
	if req.ToolChoice != "" {
		opts = append(opts, ai.WithToolChoice(ai.ToolChoice(req.ToolChoice)))
	}
	if req.ToolChoice != nomadly.ToolChoiceNone && len(req.Tools) > 0 {
		refs := make([]ai.ToolRef, 0, len(req.Tools))
		for _, def := range req.Tools {
			if _, ok := m.defs[def.Function.Name]; !ok {
				return nil, nomadly.NewConfigurationError(fmt.Sprintf("tool %q is not registered with genkit", def.Function.Name), nil)
			}
			refs = append(refs, ai.ToolName(def.Function.Name))
		}
		opts = append(opts, ai.WithTools(refs...))
	}

	resp, err := genkit.Generate(ctx, m.g, opts...)
	if err != nil {
		return nil, err
	}
	return fromGenkitResponse(resp), nil
}

// generate is the registered model function: genkit request in, one
// chat-completions call, genkit response out.
func (m *GenkitModel) generate(backend nomadly.ModelClient) ai.ModelFunc {
	return func(ctx context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
		creq := nomadly.CompletionRequest{
			Messages:   fromGenkitMessages(req.Messages),
			ToolChoice: nomadly.ToolChoice(req.ToolChoice),
		}
		// genkit hands tools over in map order with reflected schemas;
		// restore declaration order and the catalog schemas
		requested := make(map[string]bool, len(req.Tools))
		for _, td := range req.Tools {
			requested[td.Name] = true
		}
		for _, name := range m.order {
			if requested[name] {
				creq.Tools = append(creq.Tools, m.defs[name])
			}
		}

		resp, err := backend.CreateCompletion(ctx, creq)
		if err != nil {
			return nil, err
		}
		return toGenkitResponse(resp), nil
	}
}

func toGenkitMessages(msgs []nomadly.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(msgs))
	for i := 0; i < len(msgs); i++ {
		msg := msgs[i]
		switch msg.Role {
		case nomadly.RoleSystem:
			out = append(out, ai.NewSystemTextMessage(msg.Content))
		case nomadly.RoleAssistant:
			out = append(out, &ai.Message{Role: ai.RoleModel, Content: assistantParts(msg)})
		case nomadly.RoleTool:
			// consecutive tool results answer one assistant turn
			parts := []*ai.Part{toolResponsePart(msg)}
			for i+1 < len(msgs) && msgs[i+1].Role == nomadly.RoleTool {
				i++
				parts = append(parts, toolResponsePart(msgs[i]))
			}
			out = append(out, &ai.Message{Role: ai.RoleTool, Content: parts})
		default:
			out = append(out, ai.NewUserTextMessage(msg.Content))
		}
	}
	return out
}

func assistantParts(msg nomadly.Message) []*ai.Part {
	var parts []*ai.Part
	if msg.Content != "" {
		parts = append(parts, ai.NewTextPart(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		part := ai.NewToolRequestPart(&ai.ToolRequest{
			Name:  call.Function.Name,
			Ref:   call.ID,
			Input: call.DecodeArguments(),
		})
		part.Metadata = map[string]any{metaArguments: call.Function.Arguments}
		parts = append(parts, part)
	}
	return parts
}

func toolResponsePart(msg nomadly.Message) *ai.Part {
	return ai.NewToolResponsePart(&ai.ToolResponse{
		Name:   msg.Name,
		Ref:    msg.ToolCallID,
		Output: msg.Content,
	})
}

func fromGenkitMessages(msgs []*ai.Message) []nomadly.Message {
	out := make([]nomadly.Message, 0, len(msgs))
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case ai.RoleSystem:
			out = append(out, nomadly.Message{Role: nomadly.RoleSystem, Content: msg.Text()})
		case ai.RoleModel:
			out = append(out, assistantMessage(msg))
		case ai.RoleTool:
			for _, part := range msg.Content {
				if !part.IsToolResponse() {
					continue
				}
				tr := part.ToolResponse
				out = append(out, nomadly.NewToolMessage(tr.Ref, tr.Name, outputText(tr.Output)))
			}
		default:
			out = append(out, nomadly.Message{Role: nomadly.RoleUser, Content: msg.Text()})
		}
	}
	return out
}

func assistantMessage(msg *ai.Message) nomadly.Message {
	out := nomadly.Message{Role: nomadly.RoleAssistant}
	var text strings.Builder
	for _, part := range msg.Content {
		switch {
		case part.IsToolRequest():
			req := part.ToolRequest
			out.ToolCalls = append(out.ToolCalls, nomadly.ToolCall{
				ID:   req.Ref,
				Type: "function",
				Function: nomadly.FunctionCall{
					Name:      req.Name,
					Arguments: rawArguments(part),
				},
			})
		case part.IsText():
			text.WriteString(part.Text)
		}
	}
	out.Content = text.String()
	return out
}

func rawArguments(part *ai.Part) string {
	if raw, ok := part.Metadata[metaArguments].(string); ok {
		return raw
	}
	return outputText(part.ToolRequest.Input)
}

func outputText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func toGenkitResponse(resp *nomadly.CompletionResponse) *ai.ModelResponse {
	out := &ai.ModelResponse{
		Message: &ai.Message{Role: ai.RoleModel},
		Usage: &ai.GenerationUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
		Custom: map[string]any{
			"id":      resp.ID,
			"model":   resp.Model,
			"choices": len(resp.Choices),
		},
		FinishReason: ai.FinishReasonUnknown,
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Message.Content = assistantParts(choice.Message)
	out.FinishMessage = choice.FinishReason
	switch choice.FinishReason {
	case "stop", "tool_calls":
		out.FinishReason = ai.FinishReasonStop
	case "length":
		out.FinishReason = ai.FinishReasonLength
	case "content_filter":
		out.FinishReason = ai.FinishReasonBlocked
	}
	return out
}

func fromGenkitResponse(resp *ai.ModelResponse) *nomadly.CompletionResponse {
	out := &nomadly.CompletionResponse{}
	if custom, ok := resp.Custom.(map[string]any); ok {
		out.ID, _ = custom["id"].(string)
		out.Model, _ = custom["model"].(string)
		if n, ok := custom["choices"].(int); ok && n == 0 {
			return withUsage(out, resp.Usage)
		}
	}
	if resp.Message != nil {
		out.Choices = []nomadly.Choice{{
			Message:      assistantMessage(resp.Message),
			FinishReason: resp.FinishMessage,
		}}
	}
	return withUsage(out, resp.Usage)
}

func withUsage(out *nomadly.CompletionResponse, usage *ai.GenerationUsage) *nomadly.CompletionResponse {
	if usage != nil {
		out.Usage = nomadly.Usage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return out
}
