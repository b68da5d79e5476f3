package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/conversation"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// LLMAdapter talks to an OpenAI-compatible chat completions endpoint
type LLMAdapter struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// LLMOption configures an LLMAdapter
type LLMOption func(*LLMAdapter)

// WithHTTPClient sets the HTTP client every chat uses
func WithHTTPClient(hc *http.Client) LLMOption {
	return func(a *LLMAdapter) {
		a.httpClient = hc
	}
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, modelID string, opts ...LLMOption) *LLMAdapter {
	a := &LLMAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelID,
		logger:  logger.Named("llm"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the model id sent with every request
func (a *LLMAdapter) Model() string {
	return a.model
}

// StartChat opens a chat seeded with the system prompt and prior history.
// The API key is per chat because credentials belong to the session.
func (a *LLMAdapter) StartChat(ctx context.Context, cfg ChatConfig) (Chat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperrors.NewCredentialMissing("Gemini API Key", "Please configure it in settings.")
	}

	config := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	config.BaseURL = a.baseURL
	if a.httpClient != nil {
		config.HTTPClient = a.httpClient
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(cfg.History)+2)
	if cfg.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.SystemPrompt,
		})
	}
	for _, msg := range cfg.History {
		role := openai.ChatMessageRoleUser
		if msg.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	// Convert tools to OpenAI format
	openaiTools := make([]openai.Tool, 0, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		openaiTools = append(openaiTools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}

	return &openAIChat{
		client:   openai.NewClientWithConfig(config),
		model:    a.model,
		messages: messages,
		tools:    openaiTools,
		logger:   a.logger,
	}, nil
}

// openAIChat keeps the full message list so tool results can reference the
// assistant message that requested them
type openAIChat struct {
	client   *openai.Client
	model    string
	messages []openai.ChatCompletionMessage
	tools    []openai.Tool
	logger   *zap.Logger
}

// Send appends the turn, calls the model and records its reply
func (c *openAIChat) Send(ctx context.Context, turn Turn) (*Response, error) {
	pending := make([]openai.ChatCompletionMessage, 0, len(turn.ToolResults)+1)
	for _, tr := range turn.ToolResults {
		pending = append(pending, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    tr.Result,
			Name:       tr.Name,
			ToolCallID: tr.CallID,
		})
	}
	if turn.UserText != "" {
		pending = append(pending, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: turn.UserText,
		})
	}
	if len(pending) == 0 {
		return nil, fmt.Errorf("turn has neither user text nor tool results")
	}

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: append(append([]openai.ChatCompletionMessage{}, c.messages...), pending...),
		Tools:    c.tools,
		// ToolChoice defaults to "auto" when tools are provided
		Temperature: 0.7,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Error(err),
			zap.String("model", c.model),
		)
		return nil, classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.NewMalformedResponse(constants.ServiceReasoning, "no choices in LLM response", nil)
	}

	choice := resp.Choices[0]
	c.messages = append(c.messages, pending...)
	c.messages = append(c.messages, choice.Message)

	response := &Response{
		Content:   choice.Message.Content,
		ToolCalls: []ToolCall{},
	}

	// Extract tool calls
	for _, tc := range choice.Message.ToolCalls {
		toolCall := ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
		}

		// Parse arguments JSON
		args, err := parseJSONArguments(tc.Function.Arguments)
		if err != nil {
			c.logger.Warn("Failed to parse tool call arguments",
				zap.String("tool_id", tc.ID),
				zap.Error(err),
			)
			args = make(map[string]interface{})
		}
		toolCall.Arguments = args

		response.ToolCalls = append(response.ToolCalls, toolCall)
	}

	c.logger.Debug("LLM response generated",
		zap.String("model", c.model),
		zap.Int("tool_calls", len(response.ToolCalls)),
		zap.Bool("has_content", response.Content != ""),
	)

	return response, nil
}

// classifyError maps client errors onto the error taxonomy
func classifyError(err error) error {
	status := 0
	message := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden ||
		(status == http.StatusBadRequest && strings.Contains(strings.ToLower(message), "api key not valid")) {
		return apperrors.NewUnauthorized(constants.ServiceReasoning)
	}
	return apperrors.NewTransport(constants.ServiceReasoning, status, "reasoning engine request failed", err)
}

// parseJSONArguments parses the JSON string arguments into a map
func parseJSONArguments(jsonStr string) (map[string]interface{}, error) {
	var args map[string]interface{}
	if jsonStr == "" {
		return make(map[string]interface{}), nil
	}

	err := json.Unmarshal([]byte(jsonStr), &args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse arguments: %w", err)
	}

	return args, nil
}
