package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeCredentialMissing is a required key absent before attempting a call
	ErrorTypeCredentialMissing ErrorType = "credential_missing"
	// ErrorTypeUnauthorized is a remote service rejecting the supplied credential
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	// ErrorTypeToolPrecondition is a tool that cannot run in the current session (e.g. no audio)
	ErrorTypeToolPrecondition ErrorType = "tool_precondition"
	// ErrorTypeTransport represents network, proxy or non-2xx failures
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeRemoteJob represents a job that reached failed or canceled
	ErrorTypeRemoteJob ErrorType = "remote_job"
	// ErrorTypeMalformedResponse represents a success status with an unusable body
	ErrorTypeMalformedResponse ErrorType = "malformed_response"
	// ErrorTypeTurnBudget represents a tool loop that did not converge
	ErrorTypeTurnBudget ErrorType = "turn_budget"
	// ErrorTypeTimeout represents a deadline expiring while waiting on a remote job
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind returns the error category
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// Base exposes the embedded BaseError of the typed errors below
func (e *BaseError) Base() *BaseError {
	return e
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Credential Errors

// ErrCredentialMissing is returned when a key needed for a call is empty
type ErrCredentialMissing struct {
	*BaseError
	Credential string
}

func NewCredentialMissing(credential, hint string) *ErrCredentialMissing {
	msg := fmt.Sprintf("%s is missing", credential)
	if hint != "" {
		msg = fmt.Sprintf("%s. %s", msg, hint)
	}
	return &ErrCredentialMissing{
		BaseError:  NewBaseError(ErrorTypeCredentialMissing, msg, nil),
		Credential: credential,
	}
}

// ErrUnauthorized is returned on a 401 from any backend
type ErrUnauthorized struct {
	*BaseError
	Service string
}

func NewUnauthorized(service string) *ErrUnauthorized {
	return &ErrUnauthorized{
		BaseError: NewBaseError(ErrorTypeUnauthorized, fmt.Sprintf("Unauthorized (401): invalid %s API key, please check your settings", service), nil),
		Service:   service,
	}
}

// Tool Errors

// ErrToolPrecondition is returned when a tool cannot run in the current session
type ErrToolPrecondition struct {
	*BaseError
	ToolName string
}

func NewToolPrecondition(toolName, reason string) *ErrToolPrecondition {
	return &ErrToolPrecondition{
		BaseError: NewBaseError(ErrorTypeToolPrecondition, reason, nil),
		ToolName:  toolName,
	}
}

// Transport Errors

// ErrTransport is returned when a remote call could not complete
type ErrTransport struct {
	*BaseError
	Service    string
	StatusCode int
}

func NewTransport(service string, statusCode int, message string, err error) *ErrTransport {
	return &ErrTransport{
		BaseError:  NewBaseError(ErrorTypeTransport, fmt.Sprintf("%s: %s", service, message), err),
		Service:    service,
		StatusCode: statusCode,
	}
}

// ErrMalformedResponse is returned when a 2xx body cannot be used
type ErrMalformedResponse struct {
	*BaseError
	Service string
}

func NewMalformedResponse(service, message string, err error) *ErrMalformedResponse {
	return &ErrMalformedResponse{
		BaseError: NewBaseError(ErrorTypeMalformedResponse, fmt.Sprintf("%s: %s", service, message), err),
		Service:   service,
	}
}

// Job Errors

// ErrRemoteJobFailed is returned when an async job ends failed or canceled
type ErrRemoteJobFailed struct {
	*BaseError
	JobID  string
	Status string
	Detail string
}

func NewRemoteJobFailed(jobID, status, detail string) *ErrRemoteJobFailed {
	if detail == "" {
		detail = "Unknown error"
	}
	return &ErrRemoteJobFailed{
		BaseError: NewBaseError(ErrorTypeRemoteJob, fmt.Sprintf("Prediction %s: %s", status, detail), nil),
		JobID:     jobID,
		Status:    status,
		Detail:    detail,
	}
}

// ErrJobTimeout is returned when a job is still running at the poll deadline
type ErrJobTimeout struct {
	*BaseError
	JobID   string
	Timeout time.Duration
}

func NewJobTimeout(jobID string, timeout time.Duration, err error) *ErrJobTimeout {
	return &ErrJobTimeout{
		BaseError: NewBaseError(ErrorTypeTimeout, fmt.Sprintf("job %s did not finish within %v", jobID, timeout), err),
		JobID:     jobID,
		Timeout:   timeout,
	}
}

// Agent Errors

// ErrTurnBudgetExceeded is returned when the engine keeps requesting tools
type ErrTurnBudgetExceeded struct {
	*BaseError
	Budget int
}

func NewTurnBudgetExceeded(budget int) *ErrTurnBudgetExceeded {
	return &ErrTurnBudgetExceeded{
		BaseError: NewBaseError(ErrorTypeTurnBudget, fmt.Sprintf("tool loop did not converge within %d turns", budget), nil),
		Budget:    budget,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// Helper functions

// TypeOf returns the category of the first BaseError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var kinded interface{ Kind() ErrorType }
	if stderrors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}

// MessageOf returns the human message of the first BaseError in the chain,
// without the category prefix, or err.Error() if there is none
func MessageOf(err error) string {
	var based interface{ Base() *BaseError }
	if stderrors.As(err, &based) {
		return based.Base().Message
	}
	return err.Error()
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// IsRecoverable reports whether a tool error should be shown to the reasoning
// engine as data instead of aborting the run
func IsRecoverable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeToolPrecondition, ErrorTypeCredentialMissing:
		return true
	}
	return false
}
