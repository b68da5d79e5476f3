package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"music-tutor/backend/internal/constants"
	"music-tutor/backend/internal/observability"
	"music-tutor/backend/internal/remote"
	apperrors "music-tutor/backend/pkg/errors"
	"music-tutor/backend/pkg/logger"
)

// Status is the lifecycle state of a remote job
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are allowed
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Known reports whether s is one of the five job statuses
func (s Status) Known() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Handle is a job as last reported by the backend
type Handle struct {
	ID     string          `json:"id"`
	Status Status          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`

	submittedAt time.Time
}

// ErrorText renders the backend's error field, which may be a string or an object
func (h *Handle) ErrorText() string {
	raw := strings.TrimSpace(string(h.Error))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(h.Error, &s); err == nil {
		return s
	}
	return raw
}

// advance applies a polled state. A terminal handle never changes again.
func (h *Handle) advance(next *Handle) error {
	if h.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", h.ID, h.Status)
	}
	h.Status = next.Status
	h.Output = next.Output
	h.Error = next.Error
	return nil
}

// Config configures a Poller
type Config struct {
	// StatusURL returns the GET endpoint for a job id
	StatusURL func(jobID string) string
	// Interval between polls. Defaults to 2s.
	Interval time.Duration
	// Timeout bounds AwaitCompletion. Zero means no deadline.
	Timeout time.Duration
}

// Poller starts remote jobs and waits for them to finish
type Poller struct {
	client    *remote.Client
	statusURL func(jobID string) string
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// NewPoller creates a poller that talks to the backend through client
func NewPoller(client *remote.Client, cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	return &Poller{
		client:    client,
		statusURL: cfg.StatusURL,
		interval:  interval,
		timeout:   cfg.Timeout,
		logger:    logger.Named("jobs").With(zap.String("service", client.Service())),
	}
}

// Submit starts a job and returns its initial handle
func (p *Poller) Submit(ctx context.Context, endpoint string, payload interface{}) (*Handle, error) {
	var h Handle
	if err := p.client.DoJSON(ctx, http.MethodPost, endpoint, payload, &h); err != nil {
		return nil, err
	}
	if h.ID == "" {
		return nil, apperrors.NewMalformedResponse(p.client.Service(), "empty job ID in response", nil)
	}
	if !h.Status.Known() {
		return nil, apperrors.NewMalformedResponse(p.client.Service(), fmt.Sprintf("unknown job status %q", h.Status), nil)
	}
	h.submittedAt = time.Now()

	p.logger.Info("Job submitted successfully",
		zap.String("job_id", h.ID),
		zap.String("status", string(h.Status)),
	)
	return &h, nil
}

// AwaitCompletion polls until the job is terminal. Failed and canceled jobs
// return ErrRemoteJobFailed; transport errors stop polling immediately.
func (p *Poller) AwaitCompletion(ctx context.Context, handle *Handle) (*Handle, error) {
	if handle == nil || handle.ID == "" {
		return nil, fmt.Errorf("cannot poll a job without an id")
	}
	current := *handle
	if current.submittedAt.IsZero() {
		current.submittedAt = time.Now()
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	polls := 0
	for !current.Status.Terminal() {
		select {
		case <-ctx.Done():
			return nil, p.contextError(ctx, current.ID)
		case <-time.After(p.interval):
		}

		var next Handle
		err := p.client.DoJSON(ctx, http.MethodGet, p.statusURL(current.ID), nil, &next)
		polls++
		observability.RecordJobPoll(p.client.Service())
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.contextError(ctx, current.ID)
			}
			return nil, err
		}
		if !next.Status.Known() {
			return nil, apperrors.NewMalformedResponse(p.client.Service(), fmt.Sprintf("unknown job status %q", next.Status), nil)
		}
		if err := current.advance(&next); err != nil {
			return nil, err
		}

		p.logger.Debug("Job status",
			zap.String("job_id", current.ID),
			zap.String("status", string(current.Status)),
			zap.Int("poll", polls),
		)
	}

	observability.RecordJobDone(p.client.Service(), string(current.Status), time.Since(current.submittedAt))

	if current.Status != StatusSucceeded {
		p.logger.Warn("Job did not succeed",
			zap.String("job_id", current.ID),
			zap.String("status", string(current.Status)),
			zap.String("error", current.ErrorText()),
		)
		return &current, apperrors.NewRemoteJobFailed(current.ID, string(current.Status), current.ErrorText())
	}

	return &current, nil
}

// Run submits a job, waits for it and returns its normalized output
func (p *Poller) Run(ctx context.Context, endpoint string, payload interface{}) (string, error) {
	h, err := p.Submit(ctx, endpoint, payload)
	if err != nil {
		return "", err
	}
	final, err := p.AwaitCompletion(ctx, h)
	if err != nil {
		return "", err
	}
	return NormalizeOutput(final.Output), nil
}

func (p *Poller) contextError(ctx context.Context, jobID string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.NewJobTimeout(jobID, p.timeout, ctx.Err())
	}
	return ctx.Err()
}

// NormalizeOutput turns job output into display text: string fragments are
// concatenated in order, a string is used as-is, anything else becomes JSON.
// Surrounding whitespace is trimmed.
func NormalizeOutput(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}

	var fragments []string
	if err := json.Unmarshal(raw, &fragments); err == nil {
		return strings.TrimSpace(strings.Join(fragments, ""))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return trimmed
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return string(compact)
}
