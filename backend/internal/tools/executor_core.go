package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"music-tutor/backend/internal/adapter"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/credentials"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// Request is what a tool needs to answer one call
type Request struct {
	Query   string
	History []conversation.Message
	Audio   *conversation.AudioPayload
}

// Adapter answers a query using one specialized backend
type Adapter interface {
	Name() string
	// Status is the progress line shown before the adapter runs
	Status() string
	Call(ctx context.Context, req Request) (string, error)
}

// Settings holds the non-secret backend configuration shared by all sessions
type Settings struct {
	ReplicateBaseURL string
	AudioModel       string // owner/name
	ProxyURL         string
	PollInterval     time.Duration
	JobTimeout       time.Duration
	HTTPClient       *http.Client
}

// ProxyRewrite returns a rewriter that sends target through the
// forwarding intermediary as ?url=<target>
func (s Settings) ProxyRewrite() func(string) string {
	if s.ProxyURL == "" {
		return nil
	}
	base := strings.TrimRight(s.ProxyURL, "/")
	return func(target string) string {
		return base + "?url=" + url.QueryEscape(target)
	}
}

// Toolbox builds per-run executors bound to a credential set
type Toolbox struct {
	settings Settings
}

// NewToolbox creates a toolbox
func NewToolbox(settings Settings) *Toolbox {
	return &Toolbox{settings: settings}
}

// For returns an executor whose adapters use creds
func (t *Toolbox) For(creds credentials.Credentials) *Executor {
	return NewExecutor(
		NewAudioAnalysisAdapter(creds.Replicate, t.settings),
		NewTheoryConsultationAdapter(creds.HuggingFace, creds.EndpointURL, t.settings.HTTPClient),
	)
}

// Executor handles tool execution
type Executor struct {
	adapters map[string]Adapter
	logger   *zap.Logger
}

// NewExecutor creates a new tool executor
func NewExecutor(adapters ...Adapter) *Executor {
	e := &Executor{
		adapters: make(map[string]Adapter, len(adapters)),
		logger:   logger.Named("tools"),
	}
	for _, a := range adapters {
		e.adapters[a.Name()] = a
	}
	return e
}

// Lookup returns the adapter registered under name
func (e *Executor) Lookup(name string) (Adapter, bool) {
	a, ok := e.adapters[name]
	return a, ok
}

// Execute runs a tool call. An unknown tool is not an error: the returned
// text tells the engine so it can recover.
func (e *Executor) Execute(ctx context.Context, call adapter.ToolCall, req Request) (string, error) {
	a, ok := e.Lookup(call.Name)
	if !ok {
		e.logger.Warn("Unknown tool requested", zap.String("tool", call.Name))
		return UnknownToolResult(call.Name), nil
	}

	req.Query = strings.TrimSpace(call.StringArg("query"))
	if req.Query == "" {
		return "", apperrors.NewToolPrecondition(call.Name, "the query argument is required")
	}

	e.logger.Debug("Executing tool",
		zap.String("tool", call.Name),
		zap.String("call_id", call.ID),
	)

	start := time.Now()
	result, err := a.Call(ctx, req)
	if err != nil {
		e.logger.Warn("Tool execution failed",
			zap.String("tool", call.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", err
	}

	e.logger.Info("Tool executed successfully",
		zap.String("tool", call.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("result_length", len(result)),
	)
	return result, nil
}

// UnknownToolResult is the result text for a tool that does not exist
func UnknownToolResult(name string) string {
	return fmt.Sprintf("Error: Unknown tool '%s'.", name)
}

// ErrorResult is the result text for a recoverable tool failure
func ErrorResult(err error) string {
	return "Error: " + apperrors.MessageOf(err)
}

// StatusFor returns the progress line shown before a tool is dispatched
func (e *Executor) StatusFor(name string) string {
	if a, ok := e.Lookup(name); ok {
		return a.Status()
	}
	return fmt.Sprintf("Agent: Running %s...", name)
}
