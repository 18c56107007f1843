package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Agent-related errors
	ErrAgentNotFound      = errors.New("agent not found")
	ErrAgentNotReady      = errors.New("agent not ready")
	ErrAgentAlreadyExists = errors.New("agent already exists")
	
	// Capability-related errors
	ErrCapabilityNotFound   = errors.New("capability not found")
	ErrCapabilityNotEnabled = errors.New("capability not enabled")
	
	// Discovery-related errors
	ErrServiceNotFound      = errors.New("service not found")
	ErrDiscoveryUnavailable = errors.New("discovery service unavailable")
	
	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
	ErrPortOutOfRange       = errors.New("port out of range")

	// State errors
	ErrAlreadyStarted   = errors.New("already started")
	ErrNotInitialized   = errors.New("not initialized")
	ErrAlreadyRegistered = errors.New("already registered")
	
	// Operation errors
	ErrTimeout          = errors.New("operation timeout")
	ErrContextCanceled  = errors.New("context canceled")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	
	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")

	// Resilience errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// FrameworkError provides structured error information with context
// It implements the error interface and supports error wrapping
type FrameworkError struct {
	Op      string // Operation that failed (e.g., "discovery.Register")
	Kind    string // Error kind (e.g., "agent", "discovery", "config")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *FrameworkError) Unwrap() error {
	return e.Err
}

// NewFrameworkError creates a new FrameworkError
func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable
// Retryable errors are typically transient network or availability issues
func IsRetryable(err error) bool {
	return errors.Is(err, ErrDiscoveryUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrCircuitBreakerOpen)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrCapabilityNotFound) ||
		errors.Is(err, ErrServiceNotFound)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

// IsStateError checks if an error is related to invalid state transitions
func IsStateError(err error) bool {
	return errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrAgentNotReady)
}

// ErrorCode is the fixed taxonomy carried on the wire inside an error
// payload's error.code field. It is deliberately small and RPC-shaped
// (modeled on google.rpc.Code) rather than the open-ended FrameworkError
// Kind string, because it crosses process boundaries on the bus.
type ErrorCode string

const (
	CodeInvalidArgument    ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeAlreadyExists      ErrorCode = "ALREADY_EXISTS"
	CodePermissionDenied   ErrorCode = "PERMISSION_DENIED"
	CodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	CodeResourceExhausted  ErrorCode = "RESOURCE_EXHAUSTED"
	CodeFailedPrecondition ErrorCode = "FAILED_PRECONDITION"
	CodeAborted            ErrorCode = "ABORTED"
	CodeOutOfRange         ErrorCode = "OUT_OF_RANGE"
	CodeUnimplemented      ErrorCode = "UNIMPLEMENTED"
	CodeInternal           ErrorCode = "INTERNAL"
	CodeUnavailable        ErrorCode = "UNAVAILABLE"
	CodeDeadlineExceeded   ErrorCode = "DEADLINE_EXCEEDED"
)

// defaultRetryable is the code's retryability when a sender omits the
// explicit retryable flag. Codes describing caller mistakes are not
// retryable; codes describing transient/server conditions are.
var defaultRetryable = map[ErrorCode]bool{
	CodeInvalidArgument:    false,
	CodeNotFound:           false,
	CodeAlreadyExists:      false,
	CodePermissionDenied:   false,
	CodeUnauthenticated:    false,
	CodeResourceExhausted:  true,
	CodeFailedPrecondition: false,
	CodeAborted:            true,
	CodeOutOfRange:         false,
	CodeUnimplemented:      false,
	CodeInternal:           false,
	CodeUnavailable:        true,
	CodeDeadlineExceeded:   true,
}

// DefaultRetryable returns whether code is retryable by default, for
// senders that don't have a more specific judgment to make.
func DefaultRetryable(code ErrorCode) bool {
	return defaultRetryable[code]
}

// BusError is the decoded form of an envelope's error payload.
type BusError struct {
	Code            ErrorCode              `json:"code"`
	Message         string                 `json:"message"`
	Retryable       bool                   `json:"retryable"`
	Details         map[string]interface{} `json:"details,omitempty"`
	ExecutionTimeMs *int64                 `json:"execution_time_ms,omitempty"`
}

func (e *BusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// errorCodeByKind maps a FrameworkError.Kind to the closest ErrorCode,
// used at the bus boundary when a local error must be reported to a
// remote caller as a command result.
var errorCodeByKind = map[string]ErrorCode{
	"agent":         CodeNotFound,
	"capability":    CodeNotFound,
	"discovery":     CodeUnavailable,
	"config":        CodeInvalidArgument,
	"state":         CodeFailedPrecondition,
	"timeout":       CodeDeadlineExceeded,
	"network":       CodeUnavailable,
	"validation":    CodeInvalidArgument,
	"already_exists": CodeAlreadyExists,
}

// ToErrorCode classifies err into the bus-facing taxonomy: an error
// wrapping ErrCircuitBreakerOpen maps to CodeUnavailable; otherwise a
// *FrameworkError's Kind is looked up in errorCodeByKind; anything else
// falls back to CodeInternal.
func ToErrorCode(err error) ErrorCode {
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return CodeUnavailable
	}
	var fe *FrameworkError
	if errors.As(err, &fe) {
		if code, ok := errorCodeByKind[fe.Kind]; ok {
			return code
		}
	}
	return CodeInternal
}