package adapter

import (
	"context"

	"music-tutor/backend/internal/conversation"
)

// Engine is the reasoning model boundary. The orchestrator only ever talks
// to this interface, so the concrete provider can be swapped freely.
type Engine interface {
	StartChat(ctx context.Context, cfg ChatConfig) (Chat, error)
}

// Chat is one run's conversation with the engine
type Chat interface {
	// Send delivers a turn and returns either text or tool call requests
	Send(ctx context.Context, turn Turn) (*Response, error)
}

// ChatConfig seeds a chat
type ChatConfig struct {
	APIKey       string
	SystemPrompt string
	History      []conversation.Message
	Tools        []Tool
}

// Turn is what the orchestrator sends: user text, or the results of the
// previous response's tool calls
type Turn struct {
	UserText    string
	ToolResults []ToolResult
}

// Tool represents a function that can be called by the LLM
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a function that can be called
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Response represents the LLM's response
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// HasToolCalls reports whether the engine asked for tools
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ToolCall represents a function call from the LLM
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// StringArg returns a string argument, or "" when absent or not a string
func (tc ToolCall) StringArg(name string) string {
	if v, ok := tc.Arguments[name].(string); ok {
		return v
	}
	return ""
}

// ToolResult answers one ToolCall; CallID must echo ToolCall.ID unchanged
type ToolResult struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}
