package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("calling tool: %w", NewToolPrecondition("analyze_audio", "no audio"))

	assert.Equal(t, ErrorTypeToolPrecondition, TypeOf(err))
	assert.True(t, IsErrorType(err, ErrorTypeToolPrecondition))
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
	assert.False(t, IsErrorType(nil, ErrorTypeTransport))

	var precondition *ErrToolPrecondition
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, "analyze_audio", precondition.ToolName)
}

func TestMessageOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewCredentialMissing("Replicate API Key", "Please configure it in settings."))
	assert.Equal(t, "Replicate API Key is missing. Please configure it in settings.", MessageOf(err))

	assert.Equal(t, "plain", MessageOf(stderrors.New("plain")))
}

func TestErrorString(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewTransport("Replicate", 0, "request failed", cause)

	assert.Equal(t, "[transport] Replicate: request failed: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[turn_budget] tool loop did not converge within 16 turns", NewTurnBudgetExceeded(16).Error())
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewToolPrecondition("analyze_audio", "no audio")))
	assert.True(t, IsRecoverable(NewCredentialMissing("Hugging Face API Key", "")))

	assert.False(t, IsRecoverable(NewUnauthorized("Replicate")))
	assert.False(t, IsRecoverable(NewRemoteJobFailed("p1", "failed", "out of memory")))
	assert.False(t, IsRecoverable(NewJobTimeout("p1", time.Minute, nil)))
	assert.False(t, IsRecoverable(NewMalformedResponse("Hugging Face", "no text", nil)))
	assert.False(t, IsRecoverable(stderrors.New("plain")))
}
