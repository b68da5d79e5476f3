package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is where a run is in its lifecycle
type State string

const (
	StateAwaitingModel    State = "awaiting_model"
	StateDispatchingTools State = "dispatching_tools"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Terminal reports whether the run has finished
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Status is one progress notification
type Status struct {
	RunID   uuid.UUID `json:"run_id"`
	State   State     `json:"state"`
	Message string    `json:"message,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	At      time.Time `json:"at"`
}

// Observer receives progress notifications. It must not block; the run
// does not wait on it and ignores anything it does.
type Observer interface {
	OnStatus(ctx context.Context, status Status)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ctx context.Context, status Status)

// OnStatus calls f
func (f ObserverFunc) OnStatus(ctx context.Context, status Status) {
	f(ctx, status)
}

// NopObserver discards notifications
type NopObserver struct{}

// OnStatus does nothing
func (NopObserver) OnStatus(context.Context, Status) {}

// runState is the bookkeeping of one Run
type runState struct {
	id       uuid.UUID
	state    State
	turns    int
	observer Observer
	logger   *zap.Logger
}

// transition records the new state and notifies the observer. Observer
// panics are contained so they never change the outcome of a run.
func (r *runState) transition(ctx context.Context, next State, message, tool string) {
	if r.state != next {
		r.logger.Debug("Run state changed",
			zap.String("from", string(r.state)),
			zap.String("to", string(next)),
			zap.Int("turn", r.turns),
		)
	}
	r.state = next

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("Observer panicked", zap.Any("panic", rec))
		}
	}()
	r.observer.OnStatus(ctx, Status{
		RunID:   r.id,
		State:   next,
		Message: message,
		Tool:    tool,
		At:      time.Now(),
	})
}
