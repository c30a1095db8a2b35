package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOpenAITimeout = 30 * time.Second
)

// OpenAIConfig holds the chat-completions connection settings.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Organization string
	Project      string
	Timeout      time.Duration
}

// OpenAIChat is a stateless chat-completions client implementing
// nomadly.ModelClient. It never retries.
type OpenAIChat struct {
	client *resty.Client
	cfg    OpenAIConfig
	logger *slog.Logger
}

// ChatOption configures an OpenAIChat.
type ChatOption func(*OpenAIChat)

// WithChatLogger sets the logger.
func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(c *OpenAIChat) {
		c.logger = logger
	}
}

// NewOpenAIChat creates a client. The API key is required.
func NewOpenAIChat(cfg OpenAIConfig, opts ...ChatOption) (*OpenAIChat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nomadly.NewConfigurationError("OPENAI_API_KEY is not set", nil)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAITimeout
	}

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(0)

	c := &OpenAIChat{client: client, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *OpenAIChat) Model() string {
	return c.cfg.Model
}

type chatRequest struct {
	Model      string                   `json:"model"`
	Messages   []nomadly.Message        `json:"messages"`
	Tools      []nomadly.ToolDefinition `json:"tools,omitempty"`
	ToolChoice nomadly.ToolChoice       `json:"tool_choice,omitempty"`
}

// CreateCompletion sends one chat-completions request. With ToolChoiceNone
// neither tools nor tool_choice are sent.
func (c *OpenAIChat) CreateCompletion(ctx context.Context, req nomadly.CompletionRequest) (*nomadly.CompletionResponse, error) {
	body := chatRequest{
		Model:    c.cfg.Model,
		Messages: req.Messages,
	}
	if req.ToolChoice != nomadly.ToolChoiceNone && len(req.Tools) > 0 {
		body.Tools = req.Tools
		body.ToolChoice = req.ToolChoice
	}

	r := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+c.cfg.APIKey).
		SetBody(body)
	if c.cfg.Organization != "" {
		r.SetHeader("OpenAI-Organization", c.cfg.Organization)
	}
	if c.cfg.Project != "" {
		r.SetHeader("OpenAI-Project", c.cfg.Project)
	}

	start := time.Now()
	response, err := r.Post(c.cfg.BaseURL + "/chat/completions")
	if err != nil {
		return nil, nomadly.NewResourceError("model", "chat completion request failed", err)
	}
	c.logger.Debug("chat completion",
		"model", c.cfg.Model,
		"tool_choice", body.ToolChoice,
		"status", response.StatusCode(),
		"duration", time.Since(start))

	if response.IsError() {
		return nil, nomadly.NewResourceError("model",
			fmt.Sprintf("chat completion returned HTTP %d", response.StatusCode()),
			fmt.Errorf("%s", truncate(response.String(), 512)))
	}

	var out nomadly.CompletionResponse
	if err := json.Unmarshal(response.Body(), &out); err != nil {
		return nil, nomadly.NewResourceError("model", "undecodable chat completion response", err)
	}
	return &out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
