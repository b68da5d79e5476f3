package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"music-tutor/backend/internal/conversation"
	apperrors "music-tutor/backend/pkg/errors"
)

type recordedRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role       string `json:"role"`
		Content    string `json:"content"`
		ToolCallID string `json:"tool_call_id"`
	} `json:"messages"`
	Tools []struct {
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	} `json:"tools"`
}

func fakeCompletions(t *testing.T, replies ...string) (*httptest.Server, *[]recordedRequest) {
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gem-key", r.Header.Get("Authorization"))
		var req recordedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(replies[len(requests)-1]))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

const toolCallReply = `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call-a","type":"function","function":{"name":"analyze_audio","arguments":"{\"query\":\"what key?\"}"}}]}}]}`

const textReply = `{"id":"2","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"It is in D minor."}}]}`

func TestLLMAdapter_ToolRoundTrip(t *testing.T) {
	srv, requests := fakeCompletions(t, toolCallReply, textReply)
	a := NewLLMAdapter(srv.URL, "gemini-2.5-flash")

	chat, err := a.StartChat(context.Background(), ChatConfig{
		APIKey:       "gem-key",
		SystemPrompt: "system",
		History: []conversation.Message{
			{Role: conversation.RoleUser, Content: "hello"},
			{Role: conversation.RoleAssistant, Content: "hi"},
		},
		Tools: []Tool{{Type: "function", Function: FunctionDefinition{Name: "analyze_audio", Parameters: map[string]interface{}{"type": "object"}}}},
	})
	require.NoError(t, err)

	first, err := chat.Send(context.Background(), Turn{UserText: "What key is this?"})
	require.NoError(t, err)
	require.True(t, first.HasToolCalls())
	assert.Equal(t, "call-a", first.ToolCalls[0].ID)
	assert.Equal(t, "analyze_audio", first.ToolCalls[0].Name)
	assert.Equal(t, "what key?", first.ToolCalls[0].StringArg("query"))

	second, err := chat.Send(context.Background(), Turn{ToolResults: []ToolResult{{CallID: "call-a", Name: "analyze_audio", Result: "D minor"}}})
	require.NoError(t, err)
	assert.False(t, second.HasToolCalls())
	assert.Equal(t, "It is in D minor.", second.Content)

	require.Len(t, *requests, 2)
	firstReq := (*requests)[0]
	assert.Equal(t, "gemini-2.5-flash", firstReq.Model)
	require.Len(t, firstReq.Messages, 4)
	assert.Equal(t, "system", firstReq.Messages[0].Role)
	assert.Equal(t, "assistant", firstReq.Messages[2].Role)
	assert.Equal(t, "What key is this?", firstReq.Messages[3].Content)
	assert.Equal(t, "analyze_audio", firstReq.Tools[0].Function.Name)

	secondReq := (*requests)[1]
	require.Len(t, secondReq.Messages, 6)
	assert.Equal(t, "assistant", secondReq.Messages[4].Role)
	last := secondReq.Messages[5]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call-a", last.ToolCallID)
	assert.Equal(t, "D minor", last.Content)
}

// countingTransport records how many requests went through it
type countingTransport struct {
	calls int
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls++
	return http.DefaultTransport.RoundTrip(r)
}

func TestLLMAdapter_UsesConfiguredHTTPClient(t *testing.T) {
	srv, requests := fakeCompletions(t, textReply)
	transport := &countingTransport{}
	a := NewLLMAdapter(srv.URL+"/", "gemini-2.5-pro", WithHTTPClient(&http.Client{Transport: transport}))
	assert.Equal(t, "gemini-2.5-pro", a.Model())

	chat, err := a.StartChat(context.Background(), ChatConfig{APIKey: "gem-key"})
	require.NoError(t, err)
	_, err = chat.Send(context.Background(), Turn{UserText: "hi"})
	require.NoError(t, err)

	assert.Equal(t, 1, transport.calls)
	require.Len(t, *requests, 1)
	assert.Equal(t, "gemini-2.5-pro", (*requests)[0].Model)
}

func TestLLMAdapter_ClientTimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	a := NewLLMAdapter(srv.URL, "m", WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))
	chat, err := a.StartChat(context.Background(), ChatConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = chat.Send(context.Background(), Turn{UserText: "hi"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
}

func TestLLMAdapter_MissingKey(t *testing.T) {
	_, err := NewLLMAdapter("http://unused", "m").StartChat(context.Background(), ChatConfig{})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeCredentialMissing))
}

func TestLLMAdapter_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid key","type":"auth"}}`))
	}))
	defer srv.Close()

	chat, err := NewLLMAdapter(srv.URL, "m").StartChat(context.Background(), ChatConfig{APIKey: "bad"})
	require.NoError(t, err)

	_, err = chat.Send(context.Background(), Turn{UserText: "hi"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeUnauthorized))
}

func TestLLMAdapter_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	chat, err := NewLLMAdapter(srv.URL, "m").StartChat(context.Background(), ChatConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = chat.Send(context.Background(), Turn{UserText: "hi"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeTransport))
}

func TestLLMAdapter_NoChoicesIsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	chat, err := NewLLMAdapter(srv.URL, "m").StartChat(context.Background(), ChatConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = chat.Send(context.Background(), Turn{UserText: "hi"})
	assert.True(t, apperrors.IsErrorType(err, apperrors.ErrorTypeMalformedResponse))
}

func TestLLMAdapter_EmptyTurnRejected(t *testing.T) {
	chat, err := NewLLMAdapter("http://unused", "m").StartChat(context.Background(), ChatConfig{APIKey: "k"})
	require.NoError(t, err)

	_, err = chat.Send(context.Background(), Turn{})
	assert.Error(t, err)
}

func TestParseJSONArguments(t *testing.T) {
	args, err := parseJSONArguments(`{"query":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "x", args["query"])

	args, err = parseJSONArguments("")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = parseJSONArguments("{")
	assert.Error(t, err)
}
