package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"music-tutor/backend/internal/adapter"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/conversation"
	"music-tutor/backend/internal/credentials"
	"music-tutor/backend/internal/observability"
	"music-tutor/backend/internal/tools"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
)

// ToolSource binds the tool adapters to one run's credentials
type ToolSource func(creds credentials.Credentials) *tools.Executor

// Orchestrator manages the agent's reasoning and action loop
type Orchestrator struct {
	engine       adapter.Engine
	tools        ToolSource
	maxTurns     int
	systemPrompt string
	logger       *zap.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMaxTurns sets the tool-dispatch budget
func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTurns = n
		}
	}
}

// WithSystemPrompt replaces the tutor prompt
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		o.systemPrompt = prompt
	}
}

// NewOrchestrator creates a new agent orchestrator
func NewOrchestrator(engine adapter.Engine, source ToolSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		engine:       engine,
		tools:        source,
		maxTurns:     constants.MaxToolTurns,
		systemPrompt: SystemPrompt,
		logger:       logger.Named("agent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunRequest is everything one run needs. History is a snapshot the run
// never modifies.
type RunRequest struct {
	Prompt      string
	History     []conversation.Message
	Audio       *conversation.AudioPayload
	Credentials credentials.Credentials
	Observer    Observer
}

// RunResult is the outcome of a successful run
type RunResult struct {
	RunID uuid.UUID
	Text  string
	// Messages are the entries the caller should append: the prompt and the answer
	Messages []conversation.Message
	Turns    int
}

// Run drives one question through the tool loop until the engine answers
// in plain text
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	run := &runState{
		id:       uuid.New(),
		observer: req.Observer,
		logger:   o.logger,
	}
	if run.observer == nil {
		run.observer = NopObserver{}
	}
	run.logger = o.logger.With(zap.String("run_id", run.id.String()))

	metrics := observability.StartRun()
	outcome := "failed"
	defer func() {
		metrics.End(outcome, run.turns)
	}()

	text, err := o.loop(ctx, run, prompt, req)
	if err != nil {
		run.transition(ctx, StateFailed, apperrors.MessageOf(err), "")
		observability.RecordError(string(apperrors.TypeOf(err)), "agent")
		run.logger.Warn("Agent run failed",
			zap.Int("turns", run.turns),
			zap.Error(err),
		)
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		text = constants.EmptyAnswerFallback
	}
	outcome = "succeeded"
	run.transition(ctx, StateDone, "", "")
	run.logger.Info("Agent run completed",
		zap.Int("turns", run.turns),
		zap.Int("answer_length", len(text)),
	)

	return &RunResult{
		RunID: run.id,
		Text:  text,
		Messages: []conversation.Message{
			{Role: conversation.RoleUser, Content: prompt},
			{Role: conversation.RoleAssistant, Content: text},
		},
		Turns: run.turns,
	}, nil
}

func (o *Orchestrator) loop(ctx context.Context, run *runState, prompt string, req RunRequest) (string, error) {
	if strings.TrimSpace(req.Credentials.Gemini) == "" {
		return "", apperrors.NewCredentialMissing("Gemini API Key", "Please configure it in settings.")
	}

	run.transition(ctx, StateAwaitingModel, constants.StatusThinking, "")

	chat, err := o.engine.StartChat(ctx, adapter.ChatConfig{
		APIKey:       req.Credentials.Gemini,
		SystemPrompt: o.systemPrompt,
		History:      req.History,
		Tools:        tools.GetAllTools(),
	})
	if err != nil {
		return "", err
	}

	resp, err := chat.Send(ctx, adapter.Turn{UserText: prompt})
	if err != nil {
		return "", err
	}

	executor := o.tools(req.Credentials)
	toolReq := tools.Request{History: req.History, Audio: req.Audio}

	for resp.HasToolCalls() {
		if run.turns >= o.maxTurns {
			return "", apperrors.NewTurnBudgetExceeded(o.maxTurns)
		}
		run.turns++

		results, err := o.dispatch(ctx, run, executor, resp.ToolCalls, toolReq)
		if err != nil {
			return "", err
		}

		run.transition(ctx, StateAwaitingModel, "", "")
		resp, err = chat.Send(ctx, adapter.Turn{ToolResults: results})
		if err != nil {
			return "", err
		}
	}

	return resp.Content, nil
}

// dispatch runs one turn's tool calls concurrently. The result slice is
// indexed like calls, so every callId comes back exactly once and in order.
func (o *Orchestrator) dispatch(ctx context.Context, run *runState, executor *tools.Executor, calls []adapter.ToolCall, req tools.Request) ([]adapter.ToolResult, error) {
	results := make([]adapter.ToolResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)

	for i, call := range calls {
		run.transition(ctx, StateDispatchingTools, executor.StatusFor(call.Name), call.Name)

		i, call := i, call
		g.Go(func() error {
			start := time.Now()
			text, err := executor.Execute(gctx, call, req)
			if err != nil {
				if !apperrors.IsRecoverable(err) {
					observability.RecordToolCall(call.Name, "error", time.Since(start))
					return err
				}
				run.logger.Info("Relaying tool error to the engine",
					zap.String("tool", call.Name),
					zap.String("call_id", call.ID),
					zap.Error(err),
				)
				observability.RecordToolCall(call.Name, "recovered", time.Since(start))
				text = tools.ErrorResult(err)
			} else {
				observability.RecordToolCall(call.Name, "ok", time.Since(start))
			}

			results[i] = adapter.ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Result: text,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
